package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steward-bot/steward/internal/mirror"
	"github.com/steward-bot/steward/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "daemon",
	Short:   "Run one git mirror cycle now",
	Long: `Commit local vault edits, pull remote changes, and push.

Conflicts resolve in favor of the remote, whole file at a time, and the
index is rebuilt afterwards. Without a reachable remote the cycle
commits locally and stops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		mcfg := mirror.DefaultConfig(a.cfg.VaultPath)
		mcfg.Remote = a.cfg.Mirror.Remote
		mcfg.Branch = a.cfg.Mirror.Branch
		m, err := mirror.New(mcfg, a.db, a.sync, a.logs.For("mirror"))
		if err != nil {
			return err
		}

		res, err := m.Sync(cmd.Context())
		if err != nil {
			return err
		}

		if res.Committed {
			fmt.Println(ui.Pass("Committed local changes"))
		}
		if res.Offline {
			fmt.Println(ui.Warn("Remote unreachable, synced locally only"))
			return nil
		}
		if len(res.PulledPaths) > 0 {
			fmt.Printf("Pulled %d files\n", len(res.PulledPaths))
		}
		if len(res.Conflicts) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Resolved %d conflicts in favor of the remote:", len(res.Conflicts))))
			for _, path := range res.Conflicts {
				fmt.Printf("  %s\n", path)
			}
		}
		if res.Pushed {
			fmt.Println(ui.Pass("Pushed to remote"))
		}
		if !res.Committed && len(res.PulledPaths) == 0 && !res.Pushed {
			fmt.Println("Already up to date")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
