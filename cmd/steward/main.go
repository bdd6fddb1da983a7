// steward is a personal productivity assistant: a markdown vault of
// tasks, projects, people, and daily logs, indexed into SQLite, with
// push notifications and a chat dashboard on top.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Personal productivity assistant over a markdown vault",
	Long: `steward keeps your life in plain markdown files and makes them useful.

The vault (tasks/, projects/, people/, daily_logs/) is the source of
truth; a SQLite index rebuilt from it answers every query. The daemon
watches for edits, mirrors the vault through git, sends check-in
notifications over ntfy, and serves a chat dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to steward.yaml (default: ./steward.yaml, then ~/.config/steward/)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "daemon", Title: "Daemon Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
