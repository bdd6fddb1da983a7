package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/ui"
	"github.com/steward-bot/steward/internal/vault"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "tasks",
	Short:   "Show vault and mirror status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.db.CountsByKind()
		if err != nil {
			return err
		}
		fmt.Println(ui.Accent("Vault: " + a.cfg.VaultPath))
		for _, kind := range []vault.Kind{vault.KindTask, vault.KindProject, vault.KindPerson, vault.KindDailyLog} {
			fmt.Printf("  %-12s %d\n", kind, counts[kind])
		}

		today := time.Now().Format("2006-01-02")
		due, err := a.db.TasksDueBy(today)
		if err != nil {
			return err
		}
		overdue := 0
		for _, t := range due {
			if t.DueDate < today {
				overdue++
			}
		}
		line := fmt.Sprintf("Due today or earlier: %d", len(due))
		if overdue > 0 {
			line += ui.Fail(fmt.Sprintf(" (%d overdue)", overdue))
		}
		fmt.Println(line)

		overdueContacts, err := a.db.PeopleDueForContact(today)
		if err != nil {
			return err
		}
		if len(overdueContacts) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Due for contact (%d):", len(overdueContacts))))
			for _, p := range overdueContacts {
				line := "  " + p.Name
				if p.LastContact != "" {
					line += ui.Faint(" (last " + p.LastContact + ")")
				}
				fmt.Println(line)
			}
		}

		if lastSync, err := a.db.GetMirrorState("last_sync_at"); err == nil && lastSync != "" {
			fmt.Println("Last mirror sync: " + lastSync)
		} else {
			fmt.Println(ui.Faint("Mirror has never synced"))
		}

		pending, err := a.db.LatestUnacknowledged()
		if err != nil {
			return err
		}
		if pending != nil {
			fmt.Println(ui.Warn(fmt.Sprintf("Waiting on you: %s notification from %s",
				pending.Type, pending.ScheduledFor)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
