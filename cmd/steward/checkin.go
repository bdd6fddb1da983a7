package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/chat"
	"github.com/steward-bot/steward/internal/schedule"
	"github.com/steward-bot/steward/internal/ui"
	"github.com/steward-bot/steward/internal/vault"
)

var checkinCmd = &cobra.Command{
	Use:     "checkin",
	GroupID: "tasks",
	Short:   "Record a morning check-in or evening review",
	Long: `Answer the day's check-in from the terminal.

Shows the agenda, asks for your plan (or, with --evening, how the day
went), stamps today's daily log, and acknowledges the waiting
notification so the reminder ladder stops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		evening, _ := cmd.Flags().GetBool("evening")
		now := time.Now()
		today := now.Format("2006-01-02")

		due, err := a.db.TasksDueBy(today)
		if err != nil {
			return err
		}
		active, err := a.db.TasksByStatus(vault.TaskStatusActive)
		if err != nil {
			return err
		}
		fmt.Println(ui.Accent(fmt.Sprintf("%s — %d active, %d due", today, len(active), len(due))))
		for _, t := range due {
			fmt.Println("  " + ui.TaskLine(t.Title, t.Priority, t.DueDate))
		}

		question := "What's the plan for today?"
		field := "morning_checkin_at"
		if evening {
			question = "How did the day go?"
			field = "evening_review_at"
		}

		var reply string
		form := huh.NewForm(huh.NewGroup(
			huh.NewText().Title(question).Value(&reply),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if reply == "" {
			return fmt.Errorf("nothing to record")
		}

		if err := chat.StampDailyLog(cmd.Context(), a.sync, now, field, reply); err != nil {
			return err
		}

		// Settle the waiting notification, if the scheduler sent one.
		pending, err := a.db.LatestUnacknowledged()
		if err != nil {
			return err
		}
		if pending != nil &&
			(pending.Type == schedule.TypeMorningCheckin || pending.Type == schedule.TypeEveningReview) {
			if _, err := a.db.AcknowledgeNotification(pending.ID, now.UTC().Format(time.RFC3339), reply); err != nil {
				return err
			}
		}

		fmt.Println(ui.Pass("Logged."))
		return nil
	},
}

func init() {
	checkinCmd.Flags().Bool("evening", false, "Record the evening review instead")
	rootCmd.AddCommand(checkinCmd)
}
