package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/config"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/store/sqlstore"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "cipherchat",
		Short: "cipherchat - an end-to-end encrypted chat server.",
		Long: `cipherchat serves direct and group chat over websockets. Every message is
stored encrypted with a key agreed between sender and recipient.

Available Commands:
  serve    Run the HTTP and websocket server
  keys     Inspect and rotate user key pairs`,
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to the config file (default config/config.yaml)")
	flags.String("db-driver", "", "database driver: sqlite3 or postgres")
	flags.String("db-dsn", "", "database connection string")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keysCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads the config and opens the logger and the store every command
// needs. The caller closes the store.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, *sqlstore.SQLStore, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building logger: %w", err)
	}
	st, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	return cfg, log, st, nil
}
