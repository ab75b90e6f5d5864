package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/state"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var subjectCmd = &cobra.Command{
	Use:     "subject",
	GroupID: "plan",
	Short:   "Manage study subjects",
}

var subjectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects with their task counts",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		d := a.store.Snapshot()
		counts := map[string]int{}
		for _, t := range d.Tasks {
			counts[strings.ToLower(t.Subject)]++
		}
		for _, s := range d.Subjects {
			fmt.Printf("%s %-20s %s\n", s.Icon, s.Name, ui.RenderMuted(fmt.Sprintf("%d tasks  %s", counts[strings.ToLower(s.Name)], s.ID)))
		}
		return nil
	}),
}

var subjectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a subject",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		s := model.Subject{Name: strings.Join(args, " ")}
		s.Icon, _ = cmd.Flags().GetString("icon")
		s.Color, _ = cmd.Flags().GetString("color")
		added, err := a.store.AddSubject(s)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added subject %s\n", ui.RenderPass("✓"), added.Name)
		return nil
	}),
}

var subjectUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Rename or restyle a subject",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSubject(a, args[0])
		if err != nil {
			return err
		}
		updated, err := a.store.UpdateSubject(id, func(s *model.Subject) {
			flags := cmd.Flags()
			if flags.Changed("name") {
				s.Name, _ = flags.GetString("name")
			}
			if flags.Changed("icon") {
				s.Icon, _ = flags.GetString("icon")
			}
			if flags.Changed("color") {
				s.Color, _ = flags.GetString("color")
			}
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated subject %s\n", ui.RenderPass("✓"), updated.Name)
		return nil
	}),
}

var subjectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a subject; its tasks keep the subject name",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		id, err := resolveSubject(a, args[0])
		if err != nil {
			return err
		}
		if err := a.store.DeleteSubject(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s Deleted subject %s\n", ui.RenderPass("✓"), id)
		return nil
	}),
}

// resolveSubject accepts a subject id, id prefix or exact name.
func resolveSubject(a *app, arg string) (string, error) {
	subjects := a.store.Snapshot().Subjects
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		if strings.EqualFold(s.Name, arg) {
			return s.ID, nil
		}
		ids[i] = s.ID
	}
	id, err := resolveID("subject", ids, arg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", state.ErrSubjectNotFound, err)
	}
	return id, nil
}

func init() {
	for _, c := range []*cobra.Command{subjectAddCmd, subjectUpdateCmd} {
		c.Flags().String("icon", "", "Icon")
		c.Flags().String("color", "", "Color")
	}
	subjectUpdateCmd.Flags().String("name", "", "New name")

	subjectCmd.AddCommand(subjectListCmd, subjectAddCmd, subjectUpdateCmd, subjectDeleteCmd)
	rootCmd.AddCommand(subjectCmd)
}
