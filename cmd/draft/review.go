package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

type reviewFlags struct {
	by     string
	reason string
}

func (f *reviewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.by, "by", os.Getenv("USER"), "Reviewer recorded on the transaction")
	cmd.Flags().StringVarP(&f.reason, "reason", "r", "", "Reason recorded with the decision")
}

func newApproveCmd() *cobra.Command {
	var flags reviewFlags

	cmd := &cobra.Command{
		Use:   "approve <transaction-id>",
		Short: "Apply and approve a draft transaction",
		Long:  "Applies every draft of the transaction in one database transaction. On failure nothing is written and the transaction is marked approval_error.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(deps *Deps) error {
				defer deps.pushMetrics()
				txn, err := deps.ReviewHandler.HandleApprove(cmd.Context(), args[0], flags.by, flags.reason)
				if err != nil {
					return fmt.Errorf("approving %s: %w", args[0], err)
				}
				displayDecision(cmd, txn)
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newRejectCmd() *cobra.Command {
	var flags reviewFlags

	cmd := &cobra.Command{
		Use:   "reject <transaction-id>",
		Short: "Reject a draft transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(deps *Deps) error {
				defer deps.pushMetrics()
				txn, err := deps.ReviewHandler.HandleReject(cmd.Context(), args[0], flags.by, flags.reason)
				if err != nil {
					return fmt.Errorf("rejecting %s: %w", args[0], err)
				}
				displayDecision(cmd, txn)
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func displayDecision(cmd *cobra.Command, txn *entities.Transaction) {
	fmt.Fprintf(cmd.OutOrStdout(), "Transaction %s is %s\n", txn.ID, txn.Status)
}
