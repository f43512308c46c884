package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/quailyquaily/linkkeeper/linkstore"
)

const shutdownTimeout = 15 * time.Second

func openStore(ctx context.Context, log *slog.Logger) (linkstore.Store, error) {
	st, err := linkstore.Select(ctx, selectConfigFromViper(), log)
	if err != nil {
		log.Error("store_unavailable", "error", err.Error())
		return nil, fmt.Errorf("no store backend available: %w", err)
	}
	return st, nil
}

// closeStore drains pending mirror writes before closing handles.
func closeStore(st linkstore.Store, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		log.Warn("store_close_failed", "error", err.Error())
	}
}

// offlineService builds a Service for CLI commands. No chat side effects run.
func offlineService(st linkstore.Store, log *slog.Logger) *linking.Service {
	game := gameAPIFromViper()
	return linking.NewService(linking.Deps{
		Store:    st,
		Resolver: game,
		Profiles: game,
		Log:      log,
	}, serviceConfigFromViper())
}
