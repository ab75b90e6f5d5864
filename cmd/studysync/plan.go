package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var planCmd = &cobra.Command{
	Use:     "plan",
	GroupID: "plan",
	Short:   "Manage the plan window and archives",
}

var planStartCmd = &cobra.Command{
	Use:   "start <date>",
	Short: "Set the plan start date; anchored tasks follow it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		date, err := parseDateFlag(args[0])
		if err != nil {
			return err
		}
		if err := a.store.SetStartDate(date); err != nil {
			return err
		}
		d := a.store.Snapshot()
		fmt.Printf("%s Plan runs %s to %s\n", ui.RenderPass("✓"), d.StartDate, d.EndDate())
		return nil
	}),
}

var planDaysCmd = &cobra.Command{
	Use:   "days <n>",
	Short: fmt.Sprintf("Set the plan length (%d-%d days)", model.MinTotalDays, model.MaxTotalDays),
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid day count %q", args[0])
		}
		if err := a.store.SetTotalDays(n); err != nil {
			return err
		}
		d := a.store.Snapshot()
		fmt.Printf("%s Plan is %d days, ending %s\n", ui.RenderPass("✓"), d.TotalDays, d.EndDate())
		return nil
	}),
}

var planShiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Push unfinished tasks from a day onward forward by one day",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		from := a.store.Today()
		if v, _ := cmd.Flags().GetString("from"); v != "" {
			var err error
			if from, err = parseDateFlag(v); err != nil {
				return err
			}
		}
		n, err := a.store.ShiftIncompleteTasks(cmd.Context(), from)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println(ui.RenderMuted("Nothing to shift"))
			return nil
		}
		fmt.Printf("%s Moved %d tasks forward\n", ui.RenderPass("✓"), n)
		return nil
	}),
}

var planArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive the current tasks, notes and moods and start a fresh cycle",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		title, _ := cmd.Flags().GetString("title")
		p, err := a.store.ArchiveCurrentPlan(title)
		if err != nil {
			return err
		}
		fmt.Printf("%s Archived %q (%d/%d tasks done)\n", ui.RenderPass("✓"), p.Title, p.CompletedTasks, p.TotalTasks)
		return nil
	}),
}

var planArchivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List archived plans, newest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		plans := a.store.ArchivedPlans()
		if len(plans) == 0 {
			fmt.Println(ui.RenderMuted("No archived plans"))
			return nil
		}
		for _, p := range plans {
			archived := time.UnixMilli(p.ArchivedAt).Format("2006-01-02")
			fmt.Printf("%s  %s  %s to %s  %d/%d done  %s\n",
				ui.RenderMuted(shortID(p.ID)), ui.RenderBold(p.Title), p.StartDate, p.EndDate,
				p.CompletedTasks, p.TotalTasks, ui.RenderMuted("archived "+archived))
		}
		return nil
	}),
}

var planDropArchiveCmd = &cobra.Command{
	Use:   "drop-archive <id>",
	Short: "Delete an archived plan",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		plans := a.store.ArchivedPlans()
		ids := make([]string, len(plans))
		for i, p := range plans {
			ids[i] = p.ID
		}
		id, err := resolveID("archive", ids, args[0])
		if err != nil {
			return err
		}
		if err := a.store.DeleteArchivedPlan(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s Deleted archive %s\n", ui.RenderPass("✓"), shortID(id))
		return nil
	}),
}

var planResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase all progress and start over with the default plan",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if err := a.store.ResetProgress(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Progress reset; a new %d-day plan starts today\n", ui.RenderPass("✓"), a.store.Snapshot().TotalDays)
		return nil
	}),
}

func init() {
	planShiftCmd.Flags().String("from", "", "First day to shift (default today)")
	planArchiveCmd.Flags().String("title", "", "Archive title (default from the plan dates)")

	planCmd.AddCommand(planStartCmd, planDaysCmd, planShiftCmd, planArchiveCmd,
		planArchivesCmd, planDropArchiveCmd, planResetCmd)
	rootCmd.AddCommand(planCmd)
}
