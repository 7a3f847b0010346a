package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a standalone task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [new-status]",
	Short: "Move a task to a new status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete a task (or its whole series with --series)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskAuditCmd = &cobra.Command{
	Use:   "audit [task-id]",
	Short: "Show the audit trail for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAudit,
}

var (
	taskTitle      string
	taskClient     string
	taskDue        string
	taskCategory   string
	taskPriority   string
	taskAssignee   string
	taskTrigger    int
	listStatus     string
	listClientID   string
	deleteSeries   bool
	statusNoteFlag string
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStatusCmd, taskDeleteCmd, taskAuditCmd)

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskClient, "client", "", "Client name (required)")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date YYYY-MM-DD (required)")
	taskAddCmd.Flags().StringVar(&taskCategory, "category", "OTHER", "Category (INCOME_TAX, GST, TDS, ROC, ACCOUNTING, AUDIT, OTHER)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "MEDIUM", "Priority (HIGH, MEDIUM, LOW)")
	taskAddCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Assignee email (defaults to you)")
	taskAddCmd.Flags().IntVar(&taskTrigger, "trigger", 15, "Days before due date to start work")
	taskAddCmd.MarkFlagRequired("title")
	taskAddCmd.MarkFlagRequired("client")
	taskAddCmd.MarkFlagRequired("due")

	taskListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (PENDING, IN_PROGRESS, CLIENT_PENDING, APPROVAL_PENDING, COMPLETED)")
	taskListCmd.Flags().StringVar(&listClientID, "client-id", "", "Filter by client id")

	taskStatusCmd.Flags().StringVar(&statusNoteFlag, "note", "", "Status note")

	taskDeleteCmd.Flags().BoolVar(&deleteSeries, "series", false, "Delete every occurrence in the series")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"title":               taskTitle,
		"client_name":         taskClient,
		"due_date_ymd":        taskDue,
		"category":            taskCategory,
		"priority":            taskPriority,
		"assigned_to_email":   taskAssignee,
		"trigger_days_before": taskTrigger,
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var task map[string]any
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Created task: %s\n", task["id"])
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if listStatus != "" {
		q.Set("status", listStatus)
	}
	if listClientID != "" {
		q.Set("client_id", listClientID)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var tasks []map[string]any
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCLIENT\tDUE\tSTATUS\tASSIGNEE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(str(t["id"])),
			truncate(str(t["title"]), 40),
			truncate(str(t["client_name"]), 24),
			str(t["due_date_ymd"]),
			str(t["status"]),
			str(t["assigned_to_email"]),
		)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task map[string]any
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", task["id"])
	fmt.Printf("Title:     %s\n", task["title"])
	fmt.Printf("Client:    %s\n", task["client_name"])
	fmt.Printf("Status:    %s\n", task["status"])
	fmt.Printf("Due:       %s\n", task["due_date_ymd"])
	fmt.Printf("Start:     %s\n", task["start_date_ymd"])
	fmt.Printf("Assignee:  %s\n", task["assigned_to_email"])
	if sid := str(task["series_id"]); sid != "" {
		fmt.Printf("Series:    %s (occurrence %v of %v)\n", sid, task["occurrence_index"], task["occurrence_total"])
	}
	if link := str(task["calendar_html_link"]); link != "" {
		fmt.Printf("Calendar:  %s\n", link)
	}
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	body := map[string]any{"new_status": args[1]}
	if statusNoteFlag != "" {
		body["status_note"] = statusNoteFlag
	}

	resp, err := apiPost("/tasks/"+args[0]+"/status", body)
	if err != nil {
		return err
	}

	var task map[string]any
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Task %s is now %s\n", truncateID(str(task["id"])), task["status"])
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/tasks/"+args[0]+"/delete", map[string]any{
		"apply_to_series": deleteSeries,
	})
	if err != nil {
		return err
	}

	var res map[string]any
	if err := json.Unmarshal(resp, &res); err != nil {
		return err
	}

	fmt.Printf("Deleted %v task(s)\n", res["deleted_count"])
	return nil
}

func runTaskAudit(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/audit")
	if err != nil {
		return err
	}

	var entries []map[string]any
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tACTION\tACTOR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", str(e["timestamp"]), str(e["action"]), str(e["actor_email"]))
	}
	w.Flush()
	return nil
}

// --- Helpers ---

func str(v any) string {
	s, _ := v.(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
