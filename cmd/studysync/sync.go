package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/studysync/internal/cloudsync"
	"github.com/mschirtzinger/studysync/internal/inbox"
	"github.com/mschirtzinger/studysync/internal/state"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var errSyncDisabled = errors.New("sync is disabled in the config (sync.enabled = false)")

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Inspect and drive cloud sync",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync connection state",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.sync == nil {
			fmt.Println(ui.RenderMuted("sync disabled"))
			return nil
		}
		printSyncStatus(a.sync)
		return nil
	}),
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local plan now",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.sync == nil {
			return errSyncDisabled
		}
		if err := a.sync.Push(cmd.Context()); err != nil {
			if errors.Is(err, cloudsync.ErrNotBound) {
				return errors.New("not logged in")
			}
			return err
		}
		fmt.Printf("%s Uploaded\n", ui.RenderPass("✓"))
		return nil
	}),
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and apply changes from other devices",
	Long: `Keep the plan open, print every change that arrives from another device
and upload local edits as they happen. With --inbox, assistant payloads
dropped into the inbox directory are applied too. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.sync == nil {
			return errSyncDisabled
		}
		if a.sync.Identity() == "" {
			return errors.New("not logged in")
		}
		withInbox, _ := cmd.Flags().GetBool("inbox")

		unsubscribe := a.store.Subscribe(func(ch state.Change) {
			switch ch.Origin {
			case state.OriginRemote:
				fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderAccent("applied change from another device"))
			case state.OriginLocal:
				fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ch.Action)
			}
		})
		defer unsubscribe()

		printSyncStatus(a.sync)
		fmt.Println(ui.RenderMuted("Watching, press Ctrl-C to stop"))

		g, ctx := errgroup.WithContext(cmd.Context())
		if withInbox {
			in, err := startInbox(ctx, a)
			if err != nil {
				return err
			}
			defer in.Stop()
			g.Go(func() error { return reportInbox(ctx, in) })
		}
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Debug("watch stopped", zap.String("status", string(a.sync.Status())))
		return nil
	}),
}

func printSyncStatus(c *cloudsync.Coordinator) {
	st := c.Status()
	var label string
	switch st {
	case cloudsync.StatusConnected:
		label = ui.RenderPass(string(st))
	case cloudsync.StatusSyncing:
		label = ui.RenderAccent(string(st))
	case cloudsync.StatusDisconnected:
		label = ui.RenderWarn(string(st))
	case cloudsync.StatusError:
		label = ui.RenderFail(string(st))
	default:
		label = ui.RenderMuted(string(st))
	}
	fmt.Printf("sync      %s\n", label)
	if id := c.Identity(); id != "" {
		fmt.Printf("identity  %s\n", id)
	}
	if c.Pending() {
		fmt.Printf("pending   %s\n", ui.RenderWarn("local changes not uploaded yet"))
	}
	if err := c.LastError(); err != nil {
		fmt.Printf("error     %v\n", err)
	}
}

func inboxFor(a *app) (*inbox.Inbox, error) {
	return inbox.New(a.store, &inbox.Config{Dir: cfg.Inbox.Dir, Logger: logger})
}

func startInbox(ctx context.Context, a *app) (*inbox.Inbox, error) {
	in, err := inboxFor(a)
	if err != nil {
		return nil, err
	}
	if err := in.Start(ctx); err != nil {
		return nil, err
	}
	fmt.Printf("inbox     %s\n", in.Dir())
	return in, nil
}

func reportInbox(ctx context.Context, in *inbox.Inbox) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-in.Results():
			printInboxResult(r)
		}
	}
}

func printInboxResult(r inbox.Result) {
	if r.Err != nil {
		fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), r.File, r.Err)
		return
	}
	fmt.Printf("%s %s: added %d tasks\n", ui.RenderPass("✓"), r.File, len(r.Added))
}

func init() {
	syncWatchCmd.Flags().Bool("inbox", false, "Also apply assistant payloads from the inbox directory")

	syncCmd.AddCommand(syncStatusCmd, syncPushCmd, syncWatchCmd)
	rootCmd.AddCommand(syncCmd)
}
