package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/ui"
	"github.com/steward-bot/steward/internal/vault"
)

var rebuildCmd = &cobra.Command{
	Use:     "rebuild",
	GroupID: "daemon",
	Short:   "Rebuild the SQLite index from the vault",
	Long: `Rebuild the index from scratch by scanning every markdown file.

The index is disposable; this is always safe. Malformed files are
reported and skipped, never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.sync.Rebuild(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(ui.Accent("Index rebuilt"))
		for _, kind := range []vault.Kind{vault.KindTask, vault.KindProject, vault.KindPerson, vault.KindDailyLog} {
			fmt.Printf("  %-12s %d\n", kind, result.Counts[kind])
		}
		if len(result.Skipped) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Skipped %d malformed files:", len(result.Skipped))))
			for _, s := range result.Skipped {
				fmt.Printf("  %s: %s\n", s.Path, s.Reason)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
