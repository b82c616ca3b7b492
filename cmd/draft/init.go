package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/draft-core/internal/application/handlers"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new draft database",
		Long:  "Creates a .draft directory with default configuration and sets up the draft and record tables.",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	handler := handlers.NewInitHandler(openSchemaStore, newRecordTypes())
	result, err := handler.Handle(cmd.Context(), cwd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n", result.ConfigPath)
	fmt.Fprintf(out, "Created %d %s tables\n", len(result.Tables), result.Driver)
	fmt.Fprintln(out, "Draft initialized successfully!")
	return nil
}
