package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/config"
	"github.com/DoyleJ11/lol-draft-client/internal/logging"
)

const appName = "draftclient"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Resilient session client for draft games",
	Long: `draftclient joins a draft game over WebSocket, keeps the session alive
across network drops and carries it from the room into the game.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().String("server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().String("store-dsn", "", "Postgres DSN for the session store (overrides config)")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(forgetCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads config with flag overrides and builds the logger.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("store-dsn"); v != "" {
		cfg.StoreDSN = v
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
