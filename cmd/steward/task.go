package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/assist"
	"github.com/steward-bot/steward/internal/ui"
	"github.com/steward-bot/steward/internal/vault"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Create, list, and complete tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task in the vault and index it.

The due date takes either YYYY-MM-DD or a phrase like "tomorrow" or
"next friday".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		title := strings.Join(args, " ")
		due, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetString("priority")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		estimate, _ := cmd.Flags().GetInt("estimate")
		project, _ := cmd.Flags().GetString("project")

		if due != "" {
			resolved, err := assist.ResolveDate(due, time.Now())
			if err != nil {
				return fmt.Errorf("could not understand due date %q", due)
			}
			due = resolved
		}

		doc := vault.NewDocument(vault.KindTask, time.Now())
		doc.Set("title", title)
		doc.Set("status", vault.TaskStatusActive)
		doc.Set("priority", priority)
		if due != "" {
			doc.Set("due_date", due)
		}
		if len(tags) > 0 {
			doc.Set("tags", tags)
		}
		if estimate > 0 {
			doc.Set("time_estimate_minutes", estimate)
			doc.Set("time_estimate_source", "user")
		}
		if project != "" {
			doc.Set("project", project)
		}

		file, err := a.sync.CreateEntity(cmd.Context(), doc)
		if err != nil {
			return err
		}
		fmt.Println(ui.Pass("Created ") + ui.TaskLine(title, priority, due))
		fmt.Println(ui.Faint("  " + file.Path))
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		status, _ := cmd.Flags().GetString("status")
		tasks, err := a.db.TasksByStatus(status)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Printf("No %s tasks.\n", status)
			return nil
		}

		today := time.Now().Format("2006-01-02")
		for _, t := range tasks {
			line := ui.TaskLine(t.Title, t.Priority, t.DueDate)
			if t.DueDate != "" && t.DueDate < today {
				line += " " + ui.Fail("(overdue)")
			}
			fmt.Printf("%s  %s\n", ui.Faint(t.ID), line)
		}
		return nil
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id-or-title>",
	Short: "Complete a task",
	Long: `Mark a task completed. The argument is a task id or a fragment of
the title; a fragment must match exactly one active task.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		fragment := strings.Join(args, " ")
		task, err := a.db.GetTask(fragment)
		if err != nil {
			return err
		}
		if task == nil {
			active, err := a.db.TasksByStatus(vault.TaskStatusActive)
			if err != nil {
				return err
			}
			var matches []*vault.Task
			for _, t := range active {
				if strings.Contains(strings.ToLower(t.Title), strings.ToLower(fragment)) {
					matches = append(matches, t)
				}
			}
			switch len(matches) {
			case 0:
				return fmt.Errorf("no active task matches %q", fragment)
			case 1:
				task = matches[0]
			default:
				fmt.Println(ui.Warn(fmt.Sprintf("%q matches %d tasks:", fragment, len(matches))))
				for _, t := range matches {
					fmt.Printf("  %s  %s\n", ui.Faint(t.ID), t.Title)
				}
				return fmt.Errorf("be more specific")
			}
		}

		now := time.Now()
		_, err = a.sync.UpdateEntity(cmd.Context(), vault.KindTask, task.ID, func(doc *vault.Document) error {
			doc.Set("status", vault.TaskStatusCompleted)
			doc.Set("completed_at", vault.Timestamp(now))
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Println(ui.Pass("Done: ") + task.Title)
		return nil
	},
}

func init() {
	taskAddCmd.Flags().String("due", "", "Due date (YYYY-MM-DD or a phrase)")
	taskAddCmd.Flags().String("priority", vault.PriorityMedium, "Priority: low, medium, high, urgent")
	taskAddCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	taskAddCmd.Flags().Int("estimate", 0, "Time estimate in minutes")
	taskAddCmd.Flags().String("project", "", "Project id")

	taskListCmd.Flags().String("status", vault.TaskStatusActive, "Status to list: active, someday, completed")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskDoneCmd)
	rootCmd.AddCommand(taskCmd)
}
