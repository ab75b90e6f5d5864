package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/studysync/internal/accounts"
	"github.com/mschirtzinger/studysync/internal/config"
	"github.com/mschirtzinger/studysync/internal/docserver"
	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/remote"
	"github.com/mschirtzinger/studysync/internal/ui"
)

// secretKey holds the generated token secret when the config has none.
const secretKey = "server:jwt_secret"

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync server",
	Long: `Run the document server that logged-in devices sync through.

Accounts live in a local database under server.data_dir. Documents live in
the backend chosen by server.backend:

  memory   in-process, lost on restart (development)
  redis    one key per user, pub/sub for live updates
  mongo    one record per user, change streams for live updates
           (needs a replica set)

Example usage:
  studysync serve
  studysync serve --addr :9000 --backend redis`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srvCfg := cfg.Server
		if cmd.Flags().Changed("addr") {
			srvCfg.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("backend") {
			srvCfg.Backend, _ = cmd.Flags().GetString("backend")
		}
		ctx := cmd.Context()

		store, closeStore, err := openBackend(ctx, srvCfg)
		if err != nil {
			return err
		}
		defer closeStore()

		db, err := kvdb.Open(cfg.ServerDatabasePath())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchemaContext(ctx); err != nil {
			return err
		}

		secret, err := tokenSecret(ctx, db, srvCfg.JWTSecret)
		if err != nil {
			return err
		}
		accts, err := accounts.New(db, accounts.Config{
			Secret:   secret,
			TokenTTL: srvCfg.TokenTTL,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		server, err := docserver.NewServer(&docserver.Config{
			Addr:     srvCfg.Addr,
			Store:    store,
			Accounts: accts,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Sync server listening on %s (%s backend)\n", ui.RenderPass("✓"), server.GetAddr(), srvCfg.Backend)
		fmt.Println(ui.RenderMuted("Press Ctrl-C to stop"))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			<-gctx.Done()
			fmt.Println("\nShutting down sync server...")
			return server.Stop()
		})
		return g.Wait()
	},
}

// openBackend connects the configured document store.
func openBackend(ctx context.Context, c config.ServerConfig) (remote.Store, func(), error) {
	switch c.Backend {
	case config.BackendMemory, "":
		return remote.NewMemoryStore(), func() {}, nil
	case config.BackendRedis:
		rs, err := remote.NewRedisStore(ctx, remote.RedisConfig{Addr: c.RedisAddr, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return rs, closer(rs, "redis"), nil
	case config.BackendMongo:
		ms, err := remote.NewMongoStore(ctx, remote.MongoConfig{
			URI:      c.MongoURI,
			Database: c.MongoDatabase,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return ms, closer(ms, "mongo"), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want memory, redis or mongo)", c.Backend)
	}
}

func closer(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close backend", zap.String("backend", name), zap.Error(err))
		}
	}
}

// tokenSecret returns the configured secret, or one generated on first run
// and kept in the accounts database so tokens survive restarts.
func tokenSecret(ctx context.Context, db *kvdb.DB, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	raw, err := db.GetContext(ctx, secretKey)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, kvdb.ErrNotFound) {
		return nil, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(buf))
	if err := db.PutContext(ctx, secretKey, secret); err != nil {
		return nil, fmt.Errorf("failed to save token secret: %w", err)
	}
	logger.Info("generated token secret", zap.String("db", db.Path()))
	return secret, nil
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default server.addr)")
	serveCmd.Flags().String("backend", "", "Document backend: memory, redis or mongo")
	rootCmd.AddCommand(serveCmd)
}
