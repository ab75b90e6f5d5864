package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note [text]",
	GroupID: "plan",
	Short:   "Show or write the note for a day",
	Long: `Without text, print the note for the day. With text, replace it.
Use --clear to delete the note.`,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		date, err := dateOrToday(cmd, a)
		if err != nil {
			return err
		}
		clearNote, _ := cmd.Flags().GetBool("clear")
		if len(args) == 0 && !clearNote {
			note := a.store.Snapshot().Notes[date]
			if note == "" {
				fmt.Println(ui.RenderMuted("No note for " + date))
				return nil
			}
			fmt.Printf("%s\n%s\n", ui.RenderBold(date), note)
			return nil
		}

		text := strings.Join(args, " ")
		if err := a.store.SetNote(date, text); err != nil {
			return err
		}
		if text == "" {
			fmt.Printf("%s Cleared note for %s\n", ui.RenderPass("✓"), date)
		} else {
			fmt.Printf("%s Saved note for %s\n", ui.RenderPass("✓"), date)
		}
		return nil
	}),
}

var moodCmd = &cobra.Command{
	Use:       "mood [great|good|okay|bad|awful|clear]",
	GroupID:   "plan",
	Short:     "Show or record the mood for a day",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"great", "good", "okay", "bad", "awful", "clear"},
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		date, err := dateOrToday(cmd, a)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			mood := a.store.Snapshot().Moods[date]
			if mood == "" {
				fmt.Println(ui.RenderMuted("No mood for " + date))
			} else {
				fmt.Printf("%s: %s\n", date, mood)
			}
			return nil
		}

		mood := model.Mood(strings.ToLower(args[0]))
		if mood == "clear" {
			mood = ""
		}
		if err := a.store.SetMood(date, mood); err != nil {
			return err
		}
		fmt.Printf("%s Mood for %s saved\n", ui.RenderPass("✓"), date)
		return nil
	}),
}

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "plan",
	Short:   "Show or change preferences",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		flags := cmd.Flags()
		if flags.NFlag() == 0 {
			printSettings(a.store.Snapshot().Settings)
			return nil
		}
		updated, err := a.store.UpdateSettings(func(s *model.Settings) {
			if flags.Changed("view-mode") {
				s.ViewMode, _ = flags.GetString("view-mode")
			}
			if flags.Changed("language") {
				s.Language, _ = flags.GetString("language")
			}
			if flags.Changed("stream") {
				s.Stream, _ = flags.GetString("stream")
			}
			if flags.Changed("dark-mode") {
				s.DarkMode, _ = flags.GetBool("dark-mode")
			}
			if flags.Changed("quotes") {
				s.ShowQuotes, _ = flags.GetBool("quotes")
			}
			if flags.Changed("notifications") {
				s.Notifications, _ = flags.GetBool("notifications")
			}
			if flags.Changed("sound") {
				s.SoundEnabled, _ = flags.GetBool("sound")
			}
		})
		if err != nil {
			return err
		}
		printSettings(updated)
		return nil
	}),
}

func printSettings(s model.Settings) {
	fmt.Printf("view mode      %s\n", s.ViewMode)
	fmt.Printf("language       %s\n", s.Language)
	fmt.Printf("stream         %s\n", s.Stream)
	fmt.Printf("dark mode      %t\n", s.DarkMode)
	fmt.Printf("quotes         %t\n", s.ShowQuotes)
	fmt.Printf("notifications  %t\n", s.Notifications)
	fmt.Printf("sound          %t\n", s.SoundEnabled)
}

func dateOrToday(cmd *cobra.Command, a *app) (string, error) {
	v, _ := cmd.Flags().GetString("date")
	if v == "" {
		return a.store.Today(), nil
	}
	return parseDateFlag(v)
}

func init() {
	noteCmd.Flags().StringP("date", "d", "", "Day (default today)")
	noteCmd.Flags().Bool("clear", false, "Delete the note")
	moodCmd.Flags().StringP("date", "d", "", "Day (default today)")

	settingsCmd.Flags().String("view-mode", "", "View mode")
	settingsCmd.Flags().String("language", "", "Language code")
	settingsCmd.Flags().String("stream", "", "Study stream")
	settingsCmd.Flags().Bool("dark-mode", false, "Dark mode")
	settingsCmd.Flags().Bool("quotes", true, "Show motivational quotes")
	settingsCmd.Flags().Bool("notifications", true, "Notifications")
	settingsCmd.Flags().Bool("sound", true, "Sounds")

	rootCmd.AddCommand(noteCmd, moodCmd, settingsCmd)
}
