package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/studysync/internal/accounts"
	"github.com/mschirtzinger/studysync/internal/docserver"
	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/loadtest"
	"github.com/mschirtzinger/studysync/internal/remote"
	"github.com/mschirtzinger/studysync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Measure how fast edits propagate between devices",
	Long: `Start a throwaway sync server on a loopback port, connect several simulated
devices to one account and time how long each edit takes to reach the
others.

The document backend is server.backend unless --backend is given. With
--direct the devices talk to the backend without the HTTP server, which
isolates the backend's own pub/sub latency.

Example usage:
  studysync bench
  studysync bench --devices 50 --edits 200 --backend redis`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		devices, _ := flags.GetInt("devices")
		edits, _ := flags.GetInt("edits")
		timeout, _ := flags.GetDuration("timeout")
		direct, _ := flags.GetBool("direct")
		srvCfg := cfg.Server
		if flags.Changed("backend") {
			srvCfg.Backend, _ = flags.GetString("backend")
		}
		ctx := cmd.Context()

		store, closeStore, err := openBackend(ctx, srvCfg)
		if err != nil {
			return err
		}
		defer closeStore()

		lt := &loadtest.Config{Devices: devices, Edits: edits, Timeout: timeout, Logger: logger}
		id := "bench-" + uuid.NewString()

		var open loadtest.DeviceFactory
		if direct {
			// Hide Close so the shared backend outlives every device.
			shared := struct{ remote.Store }{store}
			open = func(context.Context, int) (remote.Store, error) { return shared, nil }
		} else {
			server, token, userID, cleanup, err := benchServer(ctx, store)
			if err != nil {
				return err
			}
			defer cleanup()
			id = userID
			base := "http://" + server.GetAddr()
			open = func(context.Context, int) (remote.Store, error) {
				return remote.NewClient(remote.ClientConfig{BaseURL: base, Token: token, Logger: logger})
			}
		}

		mode := "server"
		if direct {
			mode = "direct"
		}
		fmt.Printf("%s Benchmarking %s backend (%s), %d devices, %d edits\n",
			ui.RenderAccent("●"), srvCfg.Backend, mode, devices, edits)

		report, err := loadtest.Run(ctx, id, open, lt)
		if report != nil {
			report.Print(os.Stdout)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Done\n", ui.RenderPass("✓"))
		return nil
	},
}

// benchServer starts a document server on a loopback port with a temporary
// account database and one registered user.
func benchServer(ctx context.Context, store remote.Store) (*docserver.Server, string, string, func(), error) {
	dir, err := os.MkdirTemp("", "studysync-bench-")
	if err != nil {
		return nil, "", "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	fail := func(err error) (*docserver.Server, string, string, func(), error) {
		_ = os.RemoveAll(dir)
		return nil, "", "", nil, err
	}

	db, err := kvdb.Open(filepath.Join(dir, "accounts.db"))
	if err != nil {
		return fail(err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		db.Close()
		return fail(err)
	}
	accts, err := accounts.New(db, accounts.Config{Secret: []byte(uuid.NewString()), BcryptCost: 4, Logger: logger})
	if err != nil {
		db.Close()
		return fail(err)
	}
	acct, err := accts.Register(ctx, "bench@studysync.local", uuid.NewString())
	if err != nil {
		db.Close()
		return fail(err)
	}
	token, err := accts.IssueToken(acct)
	if err != nil {
		db.Close()
		return fail(err)
	}

	server, err := docserver.NewServer(&docserver.Config{Addr: "127.0.0.1:0", Store: store, Accounts: accts, Logger: logger})
	if err != nil {
		db.Close()
		return fail(err)
	}
	if err := server.Start(); err != nil {
		db.Close()
		return fail(err)
	}

	cleanup := func() {
		_ = server.Stop()
		_ = db.Close()
		_ = os.RemoveAll(dir)
	}
	return server, token, acct.ID, cleanup, nil
}

func init() {
	benchCmd.Flags().Int("devices", 10, "Simulated devices")
	benchCmd.Flags().Int("edits", 50, "Edits to write")
	benchCmd.Flags().Duration("timeout", 5*time.Second, "How long one edit may take to reach every device")
	benchCmd.Flags().String("backend", "", "Document backend: memory, redis or mongo")
	benchCmd.Flags().Bool("direct", false, "Skip the HTTP server and use the backend directly")
	rootCmd.AddCommand(benchCmd)
}
