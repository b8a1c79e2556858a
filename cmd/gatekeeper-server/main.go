package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/gatekeeper/internal/config"
)

var (
	envFile string

	cfg    config.Config
	logger = log.New(os.Stdout, "gatekeeper-server ", log.LstdFlags|log.LUTC)
)

var rootCmd = &cobra.Command{
	Use:           "gatekeeper-server",
	Short:         "Live attendance monitoring for events",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		var err error
		cfg, err = config.FromEnv()
		return err
	},
	// Running the binary with no subcommand serves, like before the CLI
	// existed.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading GATEKEEPER_* variables")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rosterCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
