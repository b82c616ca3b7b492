package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/application/handlers"
)

func newTransactionsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"ls"},
		Short:   "List draft transactions",
		Long:    "Lists draft transactions, newest first, with the number of drafts each holds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransactions(cmd, status, limit)
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (pending_approval, approved, rejected, approval_error)")
	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultListLimit, "Maximum number of transactions to display")

	return cmd
}

func runTransactions(cmd *cobra.Command, status string, limit int) error {
	return withDeps(cmd.Context(), func(deps *Deps) error {
		result, err := deps.ReviewHandler.HandleList(cmd.Context(), status, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(result.Transactions) == 0 {
			fmt.Fprintln(out, "No draft transactions found.")
			return nil
		}
		return displayTransactions(out, result.Transactions)
	})
}

func displayTransactions(out io.Writer, txns []handlers.TransactionSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED BY\tREVIEWED BY\tDRAFTS\tCREATED AT")
	for _, s := range txns {
		txn := s.Transaction
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			txn.ID,
			txn.Status,
			orDash(txn.CreatedBy),
			orDash(txn.ReviewedBy),
			s.Drafts,
			txn.CreatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
