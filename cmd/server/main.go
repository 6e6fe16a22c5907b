// Command hive runs the workspace server and its development tools.
//
//	hive            serve (default)
//	hive migrate    create or upgrade the SQLite schema
//	hive poolmock   run the in-memory Pool Manager
//
// Configuration comes from the environment; see internal/config.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive workspace server",
	Long: `Hive links workspaces to GitHub through a GitHub App and provisions
VM pools for their repositories through the Pool Manager.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, poolmockCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
