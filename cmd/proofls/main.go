package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proofls/proofls/cmd/proofls/commands"
	"github.com/proofls/proofls/logger"
)

var rootCmd = &cobra.Command{
	Use:   "proofls",
	Short: "proofls - document-level proof-state coordinator for interactive theorem provers",
	Long: `proofls is a language server that tracks sentence-level proof state for
an interactive theorem prover backend, exposing it to editors over the
Language Server Protocol plus a small set of proof/* extension methods.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		level, _ := cmd.Flags().GetString("log-level")
		return logger.Initialize(jsonOutput, level)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(commands.VersionCmd)
	rootCmd.AddCommand(commands.ServeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
