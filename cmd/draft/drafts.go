package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

func newDraftsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "List drafts",
		Long:  "Lists drafts in creation order, optionally only those whose transaction has the given status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(deps *Deps) error {
				drafts, err := deps.ReviewHandler.HandleDrafts(cmd.Context(), status)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(drafts) == 0 {
					fmt.Fprintln(out, "No drafts found.")
					return nil
				}
				return displayDrafts(out, drafts)
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Only drafts whose transaction has this status")

	return cmd
}

func displayDrafts(out io.Writer, drafts []*entities.Draft) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRANSACTION\tACTION\tTARGET\tFIELDS")
	for _, d := range drafts {
		target := d.TargetType
		if d.HasTarget() {
			target += ":" + d.TargetID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.ID, d.TransactionID, d.Action, target, len(d.Changes))
	}
	return w.Flush()
}
