package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/config"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "plan",
	Short:   "Show today's progress and the plan at a glance",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		d := a.store.Snapshot()
		today := a.store.Today()
		day := a.store.TodayIndex()

		who := "local"
		if s, err := a.binder.Current(cmd.Context()); err == nil && s.UserID != "" {
			who = s.Email
		}
		fmt.Printf("%s  %s\n", ui.RenderBold("studysync"), ui.RenderMuted(who))
		fmt.Printf("plan      %s to %s, day %d of %d\n", d.StartDate, d.EndDate(), day, d.TotalDays)

		todays := a.store.Tasks(today)
		done := 0
		for _, t := range todays {
			if t.IsCompleted {
				done++
			}
		}
		fmt.Printf("today     %s  %d/%d tasks\n", today, done, len(todays))

		marked := 0
		for _, slot := range d.RoutineTemplate {
			if d.HasRoutineMark(day, slot.ID) {
				marked++
			}
		}
		if len(d.RoutineTemplate) > 0 {
			fmt.Printf("routine   %d/%d slots\n", marked, len(d.RoutineTemplate))
		}

		total := len(d.Tasks)
		pct := 0
		if total > 0 {
			pct = d.CompletedCount() * 100 / total
		}
		fmt.Printf("overall   %d/%d tasks (%d%%)\n", d.CompletedCount(), total, pct)
		fmt.Printf("xp        %s\n", ui.RenderAccent(fmt.Sprint(d.XP)))
		if mood := d.Moods[today]; mood != "" {
			fmt.Printf("mood      %s\n", mood)
		}

		if a.sync != nil && a.sync.Identity() != "" {
			printSyncStatus(a.sync)
		}
		return nil
	}),
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path, err := config.WriteDefault(configPath, force)
		if err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("config file     %s\n", cfg.Path)
		fmt.Printf("data dir        %s\n", cfg.DataDir)
		fmt.Printf("log level       %s\n", cfg.Log.Level)
		fmt.Printf("sync            %t  %s\n", cfg.Sync.Enabled, cfg.Sync.ServerURL)
		fmt.Printf("server          %s  backend=%s\n", cfg.Server.Addr, cfg.Server.Backend)
		fmt.Printf("assistant       %s  key set=%t\n", cfg.Assistant.Model, cfg.Assistant.APIKey != "")
		fmt.Printf("inbox           %s\n", cfg.Inbox.Dir)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(statusCmd, configCmd)
}
