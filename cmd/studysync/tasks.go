package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/state"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "plan",
	Short:   "Add, change and complete study tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <topic>",
	Short: "Add a task",
	Long: `Add a task for a date or a plan day.

With --day the task is anchored to that plan day and moves when the plan
start date changes. With --date (YYYY-MM-DD or phrases like "tomorrow") it
keeps its date. Without either it is added for today.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		t := model.Task{Topic: strings.Join(args, " ")}
		if err := applyTaskFlags(cmd, &t); err != nil {
			return err
		}
		added, err := a.store.AddTask(t)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(added.ID)), formatTask(added))
		return nil
	}),
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a task",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveTask(a, args[0])
		if err != nil {
			return err
		}
		var flagErr error
		updated, err := a.store.UpdateTask(id, func(t *model.Task) {
			flagErr = applyTaskFlags(cmd, t)
		})
		if flagErr != nil {
			return flagErr
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), formatTask(updated))
		return nil
	}),
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveTask(a, args[0])
		if err != nil {
			return err
		}
		if err := a.store.DeleteTask(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), shortID(id))
		return nil
	}),
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Mark a task done or not done",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveTask(a, args[0])
		if err != nil {
			return err
		}
		done, err := a.store.ToggleTask(id)
		if err != nil {
			return err
		}
		t, _ := a.store.Task(id)
		xp := a.store.Snapshot().XP
		if done {
			fmt.Printf("%s Completed %s (+%d XP, %d total)\n", ui.RenderPass("✓"), t.Topic, t.StudyType.Reward(), xp)
		} else {
			fmt.Printf("%s Reopened %s (-%d XP, %d total)\n", ui.RenderWarn("↺"), t.Topic, t.StudyType.Reward(), xp)
		}
		return nil
	}),
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks for a day or the whole plan",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			printAllTasks(a.store.Snapshot().Tasks)
			return nil
		}

		date := a.store.Today()
		if v, _ := cmd.Flags().GetString("date"); v != "" {
			var err error
			if date, err = parseDateFlag(v); err != nil {
				return err
			}
		}
		tasks := a.store.Tasks(date)
		fmt.Printf("%s %s\n\n", ui.RenderAccent("Tasks for"), ui.RenderBold(date))
		if len(tasks) == 0 {
			fmt.Println(ui.RenderMuted("  nothing planned"))
			return nil
		}
		for _, t := range tasks {
			fmt.Printf("  %s %s  %s\n", checkbox(t.IsCompleted), ui.RenderMuted(shortID(t.ID)), formatTask(t))
		}
		return nil
	}),
}

func printAllTasks(tasks []model.Task) {
	byDate := map[string][]model.Task{}
	for _, t := range tasks {
		byDate[t.Date] = append(byDate[t.Date], t)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		fmt.Println(ui.RenderBold(d))
		for _, t := range byDate[d] {
			fmt.Printf("  %s %s  %s\n", checkbox(t.IsCompleted), ui.RenderMuted(shortID(t.ID)), formatTask(t))
		}
	}
	if len(dates) == 0 {
		fmt.Println(ui.RenderMuted("no tasks"))
	}
}

func checkbox(done bool) string {
	if done {
		return ui.RenderPass("[x]")
	}
	return "[ ]"
}

func formatTask(t model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", ui.RenderAccent(t.Subject), t.Topic)
	if t.StudyType != "" {
		fmt.Fprintf(&b, " (%s)", t.StudyType)
	}
	if t.IsAnchored() {
		fmt.Fprintf(&b, " %s", ui.RenderMuted(fmt.Sprintf("day %d, %s", t.DayID, t.Date)))
	} else {
		fmt.Fprintf(&b, " %s", ui.RenderMuted(t.Date))
	}
	if len(t.SubTasks) > 0 {
		fmt.Fprintf(&b, " %s", ui.RenderMuted(fmt.Sprintf("[%d sections]", len(t.SubTasks))))
	}
	return b.String()
}

func resolveTask(a *app, arg string) (string, error) {
	tasks := a.store.Snapshot().Tasks
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	id, err := resolveID("task", ids, arg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", state.ErrTaskNotFound, err)
	}
	return id, nil
}

// applyTaskFlags copies the changed task flags onto t.
func applyTaskFlags(cmd *cobra.Command, t *model.Task) error {
	flags := cmd.Flags()
	if flags.Changed("topic") {
		t.Topic, _ = flags.GetString("topic")
	}
	if flags.Changed("subject") {
		t.Subject, _ = flags.GetString("subject")
	}
	if flags.Changed("details") {
		t.Details, _ = flags.GetString("details")
	}
	if flags.Changed("range") {
		t.TestRange, _ = flags.GetString("range")
	}
	if flags.Changed("type") {
		v, _ := flags.GetString("type")
		t.StudyType = model.StudyType(v)
	}
	if flags.Changed("tag") {
		t.Tags, _ = flags.GetStringSlice("tag")
	}
	if flags.Changed("day") {
		t.DayID, _ = flags.GetInt("day")
		t.IsCustom = false
	}
	if flags.Changed("date") {
		v, _ := flags.GetString("date")
		date, err := parseDateFlag(v)
		if err != nil {
			return err
		}
		t.Date = date
		if !flags.Changed("day") && t.DayID > 0 {
			// An explicit date detaches the task from its plan day.
			t.IsCustom = true
		}
	}
	if flags.Changed("duration") {
		t.ActualDuration, _ = flags.GetInt("duration")
	}
	if flags.Changed("quality") {
		t.QualityRating, _ = flags.GetInt("quality")
	}
	if flags.Changed("correct") || flags.Changed("wrong") {
		correct, _ := flags.GetInt("correct")
		wrong, _ := flags.GetInt("wrong")
		t.TestStats = &model.TestStats{Correct: correct, Wrong: wrong, Total: correct + wrong}
	}
	if flags.Changed("section") {
		sections, _ := flags.GetStringSlice("section")
		t.SubTasks = t.SubTasks[:0]
		for i, s := range sections {
			t.SubTasks = append(t.SubTasks, model.SubTask{ID: fmt.Sprintf("s%d", i+1), Subject: s})
		}
	}
	return nil
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("subject", "s", "", "Subject name")
	cmd.Flags().String("details", "", "Free-form details")
	cmd.Flags().String("range", "", "Test range, e.g. chapters 1-3")
	cmd.Flags().StringP("type", "t", "", "Study type: study, review, exam, analysis, test_educational, test_speed")
	cmd.Flags().StringSlice("tag", nil, "Tags (repeatable)")
	cmd.Flags().Int("day", 0, "Anchor to plan day N")
	cmd.Flags().StringP("date", "d", "", "Date (YYYY-MM-DD, today, tomorrow, next friday...)")
	cmd.Flags().StringSlice("section", nil, "Exam or analysis sections by subject (repeatable)")
}

func init() {
	addTaskFlags(taskAddCmd)
	_ = taskAddCmd.MarkFlagRequired("subject")

	addTaskFlags(taskUpdateCmd)
	taskUpdateCmd.Flags().String("topic", "", "Topic")
	taskUpdateCmd.Flags().Int("duration", 0, "Actual minutes spent")
	taskUpdateCmd.Flags().Int("quality", 0, "Quality rating 1-5")
	taskUpdateCmd.Flags().Int("correct", 0, "Correct answers")
	taskUpdateCmd.Flags().Int("wrong", 0, "Wrong answers")

	taskListCmd.Flags().StringP("date", "d", "", "Day to list (default today)")
	taskListCmd.Flags().Bool("all", false, "List every task in the plan")

	taskCmd.AddCommand(taskAddCmd, taskUpdateCmd, taskDeleteCmd, taskToggleCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd)
}
