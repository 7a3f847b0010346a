package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	reconcileForce  bool
	reconcileSecret string
)

// The reconcile command is what a crontab entry calls once a day.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Trigger the daily reconciliation pass on the daemon",
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "Run even if already run today")
	reconcileCmd.Flags().StringVar(&reconcileSecret, "secret", os.Getenv("CRON_SECRET"), "Cron secret (defaults to $CRON_SECRET)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("secret", reconcileSecret)
	if reconcileForce {
		q.Set("force", "true")
	}

	resp, err := apiPost("/jobs/reconcile?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	var report map[string]any
	if err := json.Unmarshal(resp, &report); err != nil {
		return err
	}

	if skipped, _ := report["skipped"].(bool); skipped {
		fmt.Printf("Already ran for %s (use --force to re-run)\n", report["date"])
		return nil
	}

	fmt.Printf("Reconciliation for %s\n", report["date"])
	fmt.Printf("  start mails sent:     %v\n", report["sent_count"])
	fmt.Printf("  skipped no template:  %v\n", report["skipped_no_template"])
	fmt.Printf("  skipped no client:    %v\n", report["skipped_no_client"])
	fmt.Printf("  skipped no recipient: %v\n", report["skipped_no_recipient"])
	fmt.Printf("  send failures:        %v\n", report["send_failed"])
	fmt.Printf("  digest tasks:         %v\n", report["digest_task_count"])
	fmt.Printf("  digests to assignees: %v\n", report["sent_to_assignees"])
	if path, _ := report["report_path"].(string); path != "" {
		fmt.Printf("  report written to:    %s\n", path)
	}
	return nil
}
