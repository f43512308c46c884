package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "linkkeeper",
		Short:         "Link chat identities to game accounts through a profile challenge",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(cfgFile); err != nil {
				return err
			}
			slog.SetDefault(loggerFromViper())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	cmd.PersistentFlags().String("log-level", "", "debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "", "text|json")
	_ = viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newModCmd())
	cmd.AddCommand(newForceLinkCmd())
	return cmd
}

func initConfig(cfgFile string) error {
	setDefaults()
	viper.SetEnvPrefix("LINKKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if strings.TrimSpace(cfgFile) == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("store.mongo.uris", []string{})
	viper.SetDefault("store.mongo.database", "linkkeeper")
	viper.SetDefault("store.mongo.collection", "links")
	viper.SetDefault("store.connect_timeout_ms", 8000)
	viper.SetDefault("store.mirror_timeout_ms", 8000)

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "~/.linkkeeper/linkkeeper.sqlite")
	viper.SetDefault("db.automigrate", true)
	viper.SetDefault("db.pool.max_open_conns", 1)
	viper.SetDefault("db.pool.max_idle_conns", 1)
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", false)

	viper.SetDefault("link.expiry_seconds", 900)
	viper.SetDefault("link.sweep_interval_seconds", 300)
	viper.SetDefault("link.check_cooldown_seconds", 0)

	viper.SetDefault("gameapi.base_url", "https://users.roblox.com")
	viper.SetDefault("gameapi.timeout", "8s")
	viper.SetDefault("gameapi.user_agent", "linkkeeper/1.0")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func loggerFromViper() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(viper.GetString("log.level"))}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.format"))) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
