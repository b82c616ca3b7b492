package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/application/handlers"
	"github.com/ersonp/draft-core/internal/domain/entities"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Show the changes in a draft transaction",
		Long:  "Shows every draft of a transaction with the old and new value of each changed field.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0])
		},
	}
}

func runShow(cmd *cobra.Command, id string) error {
	return withDeps(cmd.Context(), func(deps *Deps) error {
		result, err := deps.ReviewHandler.HandleShow(cmd.Context(), id)
		if err != nil {
			return err
		}
		displayShow(cmd.OutOrStdout(), result)
		return nil
	})
}

func displayShow(out io.Writer, result *handlers.ShowResult) {
	displayTransaction(out, result.Transaction)
	fmt.Fprintln(out)

	if len(result.Drafts) == 0 {
		fmt.Fprintln(out, "No drafts.")
		return
	}
	for _, d := range result.Drafts {
		fmt.Fprintf(out, "%s %s (draft %s)\n", d.Draft.Action, d.Target, d.Draft.ID)
		for _, f := range d.Fields {
			fmt.Fprintf(out, "  %s: %s -> %s\n", f.Name, f.Old, f.New)
		}
	}
}

func displayTransaction(out io.Writer, txn *entities.Transaction) {
	fmt.Fprintf(out, "Transaction: %s\n", txn.ID)
	fmt.Fprintf(out, "  Status: %s\n", txn.Status)
	if txn.CreatedBy != "" {
		fmt.Fprintf(out, "  Created by: %s\n", txn.CreatedBy)
	}
	if txn.ReviewedBy != "" {
		fmt.Fprintf(out, "  Reviewed by: %s\n", txn.ReviewedBy)
	}
	if txn.ReviewReason != "" {
		fmt.Fprintf(out, "  Reason: %s\n", txn.ReviewReason)
	}
	if txn.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", firstLines(txn.Error, MaxErrorLines))
	}
}

// firstLines returns at most n lines of s.
func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n    ")
}
