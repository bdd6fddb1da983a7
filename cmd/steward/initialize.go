package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steward-bot/steward/internal/ui"
	"github.com/steward-bot/steward/internal/vault"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "daemon",
	Short:   "Set up a new vault and configuration",
	Long: `Interactively scaffold a vault: entity directories, steward.yaml,
and optionally a git repository for the mirror.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, _ := os.UserHomeDir()
		vaultPath := filepath.Join(home, "vault")
		topic := ""
		timezone := "Local"
		useGit := true

		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Where should the vault live?").Value(&vaultPath),
			huh.NewInput().Title("Timezone (IANA name, or Local)").Value(&timezone),
			huh.NewInput().Title("ntfy topic for notifications (empty to skip)").Value(&topic),
			huh.NewConfirm().Title("Initialize a git repository for syncing?").Value(&useGit),
		))
		if err := form.Run(); err != nil {
			return err
		}

		for _, dir := range []string{vault.TasksDir, vault.ProjectsDir, vault.PeopleDir, vault.DailyLogsDir} {
			if err := os.MkdirAll(filepath.Join(vaultPath, dir), 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		fmt.Println(ui.Pass("Created vault at ") + vaultPath)

		if useGit {
			if _, err := os.Stat(filepath.Join(vaultPath, ".git")); os.IsNotExist(err) {
				git := exec.CommandContext(cmd.Context(), "git", "init")
				git.Dir = vaultPath
				if out, err := git.CombinedOutput(); err != nil {
					return fmt.Errorf("git init failed: %w\n%s", err, out)
				}
				fmt.Println(ui.Pass("Initialized git repository"))
			}
		}

		settings := map[string]any{
			"vault_path": vaultPath,
			"timezone":   timezone,
			"mirror":     map[string]any{"enabled": useGit},
		}
		if topic != "" {
			settings["notify"] = map[string]any{"topic": topic}
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}

		configDir := filepath.Join(home, ".config", "steward")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return err
		}
		configFile := filepath.Join(configDir, "steward.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return fmt.Errorf("%s already exists, not overwriting", configFile)
		}
		if err := os.WriteFile(configFile, data, 0644); err != nil {
			return err
		}
		fmt.Println(ui.Pass("Wrote ") + configFile)
		fmt.Println("\nNext: " + ui.Accent("steward serve"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
