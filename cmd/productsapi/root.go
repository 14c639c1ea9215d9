package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the productsapi CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "productsapi",
		Short:         "ProductsAPI authentication service",
		Long:          `productsapi verifies user credentials, enforces brute-force lockout and issues session tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file path; ignored when missing")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewLoadtestCmd())

	return cmd
}
