// Command refebot runs the Telegram bot and offers a few offline commands
// over the same local documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"refebot/internal/app"
	"refebot/internal/config"
	"refebot/internal/plugin"
	"refebot/plugins/accounts"
	"refebot/plugins/refe"
	"refebot/plugins/start"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "refebot",
	Short:         "Telegram bot that tracks photo submissions and shares accounts",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.NewApp(config.NewConfigManager(configPath(cmd)))
		if err != nil {
			return fmt.Errorf("fatal: %w", err)
		}
		a.Plugins().Register(
			start.New(),
			refe.New(),
			accounts.New(),
		)
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("fatal start: %w", err)
		}

		reason := plugin.StopAppStop
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}

// configPath returns the --config value, or "" when the default file does
// not exist so the bot can run from the environment alone.
func configPath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("config") {
		return cfgFile
	}
	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return cfgFile
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.AddCommand(runCmd, topCmd, accountsCmd, auditCmd)
}
