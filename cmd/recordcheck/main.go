package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/JonMunkholm/recordcheck/internal/config"
	"github.com/JonMunkholm/recordcheck/internal/core"
	"github.com/JonMunkholm/recordcheck/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recordcheck",
	Short: "Asynchronous validation of name/email record batches",
	Long: `recordcheck accepts CSV or XLSX files of name/email records, validates
every record through a bounded pool of validator calls, and reports job
progress for polling.

Available commands:
  serve  - Start the HTTP API
  check  - Validate a local file and print the final job snapshot

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists (Overload overwrites existing env vars)
		envLoaded := godotenv.Overload() == nil

		loaded, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "load configuration")
		}
		cfg = loaded

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		slog.Debug("configuration loaded", "dotenv", envLoaded, "config", cfg.String())
		return nil
	},
}

// cfg is populated by rootCmd's PersistentPreRunE.
var cfg *config.Config

func init() {
	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newStore builds the job store selected by STORE_BACKEND. The returned
// close function releases its connections.
func newStore(ctx context.Context, c *config.Config) (core.Store, func(), error) {
	switch strings.ToLower(c.Store.Backend) {
	case "redis":
		store, err := core.NewRedisStoreFromURL(ctx, c.Store.RedisURL, c.Store.TTL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to redis")
		}
		slog.Info("using redis job store", "ttl", c.Store.TTL.String())
		return store, func() { store.Close() }, nil
	default:
		slog.Info("using in-memory job store")
		return core.NewMemoryStore(), func() {}, nil
	}
}

// newService wires a Service over store using the validation settings.
func newService(store core.Store, c *config.Config) (*core.Service, error) {
	return core.NewService(store, core.FormatValidator{Delay: c.Validation.Delay}, core.Options{
		Concurrency: c.Validation.Concurrency,
		Logger:      slog.Default(),
	})
}
