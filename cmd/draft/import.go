package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/application/handlers"
	"github.com/ersonp/draft-core/internal/infrastructure/parsers"
)

type importFlags struct {
	format string
	by     string
}

func newImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Draft record changes from JSON or CSV",
		Long: "Drafts every change in the file inside one transaction for review. " +
			"Rows without an id are creates, rows with an id are updates unless their action is delete.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "auto", "File format (json, csv, auto)")
	cmd.Flags().StringVar(&flags.by, "by", os.Getenv("USER"), "Author recorded on the transaction")

	return cmd
}

func runImport(cmd *cobra.Command, filePath string, flags importFlags) error {
	var parser parsers.Parser
	if flags.format == "auto" {
		parser = parsers.ForFile(filePath)
	} else {
		parser = parsers.ForFormat(flags.format)
	}
	if parser == nil {
		return fmt.Errorf("unsupported format for %s (use --format json or csv)", filePath)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return withDeps(cmd.Context(), func(deps *Deps) error {
		defer deps.pushMetrics()
		result, err := deps.ImportHandler.Handle(cmd.Context(), f, parser, handlers.ImportOptions{
			CreatedBy: flags.by,
			Source:    filePath,
		})
		if err != nil {
			return fmt.Errorf("importing %s: %w", filePath, err)
		}

		out := cmd.OutOrStdout()
		if result.Transaction == nil {
			fmt.Fprintf(out, "Parsed %d changes, nothing to draft.\n", result.Parsed)
			return nil
		}
		fmt.Fprintf(out, "Parsed %d changes, drafted %d in transaction %s\n",
			result.Parsed, len(result.Drafts), result.Transaction.ID)
		return nil
	})
}
