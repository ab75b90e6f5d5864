package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/assistant"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var askCmd = &cobra.Command{
	Use:     "ask <prompt>",
	GroupID: "plan",
	Short:   "Ask the assistant to draft tasks",
	Long: `Ask the assistant to draft tasks for the plan. The suggestion is shown as a
preview; nothing is added until you confirm (or pass --yes).

Example usage:
  studysync ask "three physics revision sessions next week"
  studysync ask "spaced review of organic chemistry every 3 days" --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		client, err := assistant.NewClient(&assistant.Config{
			APIKey:    cfg.Assistant.APIKey,
			Model:     cfg.Assistant.Model,
			MaxTokens: cfg.Assistant.MaxTokens,
			Logger:    logger,
		})
		if errors.Is(err, assistant.ErrNoAPIKey) {
			return errors.New("set assistant.api_key or ANTHROPIC_API_KEY to use the assistant")
		}
		if err != nil {
			return err
		}

		snap := a.store.Snapshot()
		subjects := make([]string, 0, len(snap.Subjects))
		for _, s := range snap.Subjects {
			subjects = append(subjects, s.Name)
		}
		today := a.store.Today()

		payload, err := client.Suggest(cmd.Context(), assistant.Request{
			Prompt:   strings.Join(args, " "),
			Today:    today,
			Subjects: subjects,
		})
		if err != nil {
			return err
		}
		drafts, err := payload.Tasks(today)
		if err != nil {
			return err
		}

		fmt.Printf("%s %d tasks suggested\n", ui.RenderAccent("●"), len(drafts))
		for _, t := range drafts {
			fmt.Printf("  %s  %s\n", ui.RenderMuted(t.Date), formatTask(t))
		}
		if len(drafts) == 0 {
			return nil
		}

		ok, err := (&ui.Confirmer{AssumeYes: assumeYes}).Confirm(cmd.Context(), fmt.Sprintf("Add these %d tasks?", len(drafts)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(ui.RenderMuted("Nothing added"))
			return nil
		}
		added, err := assistant.Apply(a.store, payload, today)
		if err != nil {
			return fmt.Errorf("added %d of %d tasks: %w", len(added), len(drafts), err)
		}
		fmt.Printf("%s Added %d tasks\n", ui.RenderPass("✓"), len(added))
		return nil
	}),
}

var inboxCmd = &cobra.Command{
	Use:     "inbox",
	GroupID: "maint",
	Short:   "Apply assistant payload files from the inbox directory",
	Long: `Apply every *.json payload in the inbox directory (inbox.dir). Applied files
move to processed/, rejected ones to rejected/ with a .error file explaining why.

With --watch, keep running and apply files as they appear.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			in, err := startInbox(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer in.Stop()
			fmt.Println(ui.RenderMuted("Watching, press Ctrl-C to stop"))
			return reportInbox(cmd.Context(), in)
		}

		in, err := inboxFor(a)
		if err != nil {
			return err
		}
		results, err := in.Scan()
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println(ui.RenderMuted("Inbox is empty: " + in.Dir()))
		}
		for _, r := range results {
			printInboxResult(r)
		}
		return nil
	}),
}

func init() {
	inboxCmd.Flags().BoolP("watch", "w", false, "Keep watching the inbox")
	rootCmd.AddCommand(askCmd, inboxCmd)
}
