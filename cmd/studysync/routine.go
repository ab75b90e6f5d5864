package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/state"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var routineCmd = &cobra.Command{
	Use:     "routine",
	GroupID: "plan",
	Short:   "Manage the daily routine and tick off slots",
}

var routineListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the routine with the marks for a plan day",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		day := a.store.TodayIndex()
		if cmd.Flags().Changed("day") {
			day, _ = cmd.Flags().GetInt("day")
		}
		d := a.store.Snapshot()
		fmt.Printf("%s %d of %d\n\n", ui.RenderAccent("Routine for day"), day, d.TotalDays)
		if len(d.RoutineTemplate) == 0 {
			fmt.Println(ui.RenderMuted("  no routine slots"))
		}
		for i, r := range d.RoutineTemplate {
			fmt.Printf("  %2d. %s %s-%s  %s %s\n", i+1, checkbox(d.HasRoutineMark(day, r.ID)),
				r.StartTime, r.EndTime, r.Title, ui.RenderMuted(r.ID))
		}
		return nil
	}),
}

var routineAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a routine slot",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		r := model.RoutineSlot{Title: strings.Join(args, " ")}
		applyRoutineFlags(cmd, &r)
		added, err := a.store.AddRoutineSlot(r)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added %s-%s %s\n", ui.RenderPass("✓"), added.StartTime, added.EndTime, added.Title)
		return nil
	}),
}

var routineUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a routine slot",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSlot(a, args[0])
		if err != nil {
			return err
		}
		updated, err := a.store.UpdateRoutineSlot(id, func(r *model.RoutineSlot) {
			if cmd.Flags().Changed("title") {
				r.Title, _ = cmd.Flags().GetString("title")
			}
			applyRoutineFlags(cmd, r)
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated %s-%s %s\n", ui.RenderPass("✓"), updated.StartTime, updated.EndTime, updated.Title)
		return nil
	}),
}

var routineDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a routine slot and its marks",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSlot(a, args[0])
		if err != nil {
			return err
		}
		if err := a.store.DeleteRoutineSlot(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), id)
		return nil
	}),
}

var routineMoveCmd = &cobra.Command{
	Use:   "move <id> <position>",
	Short: "Move a routine slot to a 1-based position",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSlot(a, args[0])
		if err != nil {
			return err
		}
		pos, err := strconv.Atoi(args[1])
		if err != nil || pos < 1 {
			return fmt.Errorf("invalid position %q", args[1])
		}
		if err := a.store.MoveRoutineSlot(id, pos-1); err != nil {
			return err
		}
		fmt.Printf("%s Moved %s\n", ui.RenderPass("✓"), id)
		return nil
	}),
}

var routineToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Tick a routine slot done or not done for a plan day",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSlot(a, args[0])
		if err != nil {
			return err
		}
		day := a.store.TodayIndex()
		if cmd.Flags().Changed("day") {
			day, _ = cmd.Flags().GetInt("day")
		}
		done, err := a.store.ToggleRoutineMark(day, id)
		if err != nil {
			return err
		}
		if done {
			fmt.Printf("%s Done on day %d (+%d XP)\n", ui.RenderPass("✓"), day, model.RewardRoutine)
		} else {
			fmt.Printf("%s Not done on day %d (-%d XP)\n", ui.RenderWarn("↺"), day, model.RewardRoutine)
		}
		return nil
	}),
}

func resolveSlot(a *app, arg string) (string, error) {
	slots := a.store.Snapshot().RoutineTemplate
	ids := make([]string, len(slots))
	for i, r := range slots {
		ids[i] = r.ID
	}
	id, err := resolveID("routine slot", ids, arg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", state.ErrRoutineSlotNotFound, err)
	}
	return id, nil
}

func applyRoutineFlags(cmd *cobra.Command, r *model.RoutineSlot) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		r.StartTime, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		r.EndTime, _ = flags.GetString("end")
	}
	if flags.Changed("category") {
		r.Category, _ = flags.GetString("category")
	}
	if flags.Changed("description") {
		r.Description, _ = flags.GetString("description")
	}
	if flags.Changed("icon") {
		r.Icon, _ = flags.GetString("icon")
	}
}

func addRoutineFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "Start time HH:MM")
	cmd.Flags().String("end", "", "End time HH:MM")
	cmd.Flags().String("category", "", "Category")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("icon", "", "Icon")
}

func init() {
	routineListCmd.Flags().Int("day", 0, "Plan day (default today)")
	routineToggleCmd.Flags().Int("day", 0, "Plan day (default today)")

	addRoutineFlags(routineAddCmd)
	_ = routineAddCmd.MarkFlagRequired("start")
	_ = routineAddCmd.MarkFlagRequired("end")
	addRoutineFlags(routineUpdateCmd)
	routineUpdateCmd.Flags().String("title", "", "Title")

	routineCmd.AddCommand(routineListCmd, routineAddCmd, routineUpdateCmd, routineDeleteCmd, routineMoveCmd, routineToggleCmd)
	rootCmd.AddCommand(routineCmd)
}
