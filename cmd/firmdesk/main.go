package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "firmdesk",
	Short: "Firmdesk - compliance task tracker for accounting firms",
	Long: `Firmdesk tracks recurring compliance work (GST, income tax, audits)
as task series with client notifications, calendar mirroring and a
daily reconciliation digest.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr  string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8787", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("FIRMDESK_TOKEN"), "API token (defaults to $FIRMDESK_TOKEN)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(seriesCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
