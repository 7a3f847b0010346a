package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Manage recurring task series",
}

var seriesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a recurring series",
	RunE:  runSeriesAdd,
}

var seriesAppendCmd = &cobra.Command{
	Use:   "append [series-id]",
	Short: "Append occurrences continuing the series cadence",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeriesAppend,
}

var seriesReassignCmd = &cobra.Command{
	Use:   "reassign [series-id] [email]",
	Short: "Reassign every occurrence in a series",
	Args:  cobra.ExactArgs(2),
	RunE:  runSeriesReassign,
}

var (
	seriesRecurrence string
	seriesCount      int
	appendCount      int
)

func init() {
	seriesCmd.AddCommand(seriesAddCmd, seriesAppendCmd, seriesReassignCmd)

	seriesAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	seriesAddCmd.Flags().StringVar(&taskClient, "client", "", "Client name (required)")
	seriesAddCmd.Flags().StringVar(&taskDue, "due", "", "First due date YYYY-MM-DD (required)")
	seriesAddCmd.Flags().StringVar(&seriesRecurrence, "recurrence", "MONTHLY", "Recurrence (WEEKLY, MONTHLY, QUARTERLY, HALF_YEARLY, YEARLY)")
	seriesAddCmd.Flags().IntVar(&seriesCount, "count", 12, "Number of occurrences to generate")
	seriesAddCmd.Flags().StringVar(&taskCategory, "category", "OTHER", "Category")
	seriesAddCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Assignee email (defaults to you)")
	seriesAddCmd.Flags().IntVar(&taskTrigger, "trigger", 15, "Days before each due date to start work")
	seriesAddCmd.MarkFlagRequired("title")
	seriesAddCmd.MarkFlagRequired("client")
	seriesAddCmd.MarkFlagRequired("due")

	seriesAppendCmd.Flags().IntVar(&appendCount, "count", 1, "Number of occurrences to append")
}

func runSeriesAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"title":               taskTitle,
		"client_name":         taskClient,
		"due_date_ymd":        taskDue,
		"recurrence":          seriesRecurrence,
		"generate_count":      seriesCount,
		"category":            taskCategory,
		"assigned_to_email":   taskAssignee,
		"trigger_days_before": taskTrigger,
	}

	resp, err := apiPost("/tasks/series", body)
	if err != nil {
		return err
	}

	var tasks []map[string]any
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks created")
		return nil
	}

	fmt.Printf("Created %d occurrence(s), series %s\n", len(tasks), str(tasks[0]["series_id"]))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tDUE\tSTART")
	for _, t := range tasks {
		fmt.Fprintf(w, "%v\t%s\t%s\t%s\n",
			t["occurrence_index"], truncateID(str(t["id"])), str(t["due_date_ymd"]), str(t["start_date_ymd"]))
	}
	w.Flush()
	return nil
}

func runSeriesAppend(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/series/append", map[string]any{
		"series_id": args[0],
		"add_count": appendCount,
	})
	if err != nil {
		return err
	}

	var res map[string]any
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}

	fmt.Printf("Appended %v occurrence(s), series total is now %v\n", res["created"], res["new_total"])
	return nil
}

func runSeriesReassign(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/series/reassign", map[string]any{
		"series_id":         args[0],
		"assigned_to_email": args[1],
	})
	if err != nil {
		return err
	}

	var res map[string]any
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}

	fmt.Printf("Reassigned %v task(s) to %s\n", res["updated_count"], args[1])
	return nil
}
