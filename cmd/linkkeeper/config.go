package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/linkkeeper/db"
	"github.com/quailyquaily/linkkeeper/gameapi"
	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/quailyquaily/linkkeeper/linkstore"
	"github.com/spf13/viper"
)

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()

	cfg.Driver = viper.GetString("db.driver")
	cfg.DSN = viper.GetString("db.dsn")
	cfg.AutoMigrate = viper.GetBool("db.automigrate")

	cfg.Pool.MaxOpenConns = viper.GetInt("db.pool.max_open_conns")
	cfg.Pool.MaxIdleConns = viper.GetInt("db.pool.max_idle_conns")
	cfg.Pool.ConnMaxLifetime = viper.GetDuration("db.pool.conn_max_lifetime")
	if cfg.Pool.ConnMaxLifetime < 0 {
		cfg.Pool.ConnMaxLifetime = 0
	}

	cfg.SQLite.BusyTimeoutMs = viper.GetInt("db.sqlite.busy_timeout_ms")
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")

	if cfg.Pool.MaxOpenConns <= 0 {
		cfg.Pool.MaxOpenConns = 1
	}
	if cfg.Pool.MaxIdleConns <= 0 {
		cfg.Pool.MaxIdleConns = 1
	}
	if cfg.SQLite.BusyTimeoutMs <= 0 {
		cfg.SQLite.BusyTimeoutMs = 5000
	}
	return cfg
}

func mongoURIsFromViper() []string {
	var out []string
	for _, u := range viper.GetStringSlice("store.mongo.uris") {
		// Env values arrive as one comma-separated string.
		for _, part := range strings.Split(u, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func selectConfigFromViper() linkstore.SelectConfig {
	mcfg := db.DefaultMongoConfig()
	mcfg.URIs = mongoURIsFromViper()
	if v := strings.TrimSpace(viper.GetString("store.mongo.database")); v != "" {
		mcfg.Database = v
	}
	if v := strings.TrimSpace(viper.GetString("store.mongo.collection")); v != "" {
		mcfg.Collection = v
	}
	if ms := viper.GetInt("store.connect_timeout_ms"); ms > 0 {
		mcfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}
	mirror := time.Duration(viper.GetInt("store.mirror_timeout_ms")) * time.Millisecond
	return linkstore.SelectConfig{
		Mongo:         mcfg,
		SQLite:        dbConfigFromViper(),
		MirrorTimeout: mirror,
	}
}

func gameAPIFromViper() *gameapi.Client {
	return gameapi.NewClient(
		viper.GetString("gameapi.base_url"),
		viper.GetDuration("gameapi.timeout"),
		viper.GetString("gameapi.user_agent"),
	)
}

func serviceConfigFromViper() linking.Config {
	return linking.Config{
		Expiry:        time.Duration(viper.GetInt64("link.expiry_seconds")) * time.Second,
		CheckCooldown: time.Duration(viper.GetInt64("link.check_cooldown_seconds")) * time.Second,
	}
}

func sweepIntervalFromViper() time.Duration {
	return time.Duration(viper.GetInt64("link.sweep_interval_seconds")) * time.Second
}

// validateConfig rejects settings the process cannot run with. The Discord
// token and guild id are only required by serve.
func validateConfig(needDiscord bool) error {
	if n := len(mongoURIsFromViper()); n > db.MaxMongoEndpoints {
		return fmt.Errorf("store.mongo.uris: %d endpoints configured, at most %d allowed", n, db.MaxMongoEndpoints)
	}
	if viper.GetInt64("link.expiry_seconds") <= 0 {
		return fmt.Errorf("link.expiry_seconds must be positive")
	}
	if viper.GetInt64("link.sweep_interval_seconds") <= 0 {
		return fmt.Errorf("link.sweep_interval_seconds must be positive")
	}
	if viper.GetInt64("link.check_cooldown_seconds") < 0 {
		return fmt.Errorf("link.check_cooldown_seconds must not be negative")
	}
	if d := viper.GetDuration("gameapi.timeout"); d <= 0 {
		return fmt.Errorf("gameapi.timeout must be positive")
	}
	if needDiscord && strings.TrimSpace(viper.GetString("discord.token")) == "" {
		return fmt.Errorf("discord.token is required")
	}
	if needDiscord && strings.TrimSpace(viper.GetString("discord.guild_id")) == "" {
		return fmt.Errorf("discord.guild_id is required")
	}
	return nil
}
