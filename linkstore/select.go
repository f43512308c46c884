package linkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/linkkeeper/db"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type SelectConfig struct {
	Mongo         db.MongoConfig
	SQLite        db.Config
	MirrorTimeout time.Duration
}

// Hooks for tests; production code never reassigns them.
var (
	openMongo  = db.OpenMongo
	openSQLite = db.Open
)

// Select builds the process-wide Store exactly once. The document store is
// tried first; any failure there falls back to the SQLite file. An error is
// returned only when neither backend could be opened.
func Select(ctx context.Context, cfg SelectConfig, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}

	st, mongoErr := selectMongo(ctx, cfg, log)
	if mongoErr == nil {
		log.Info("store_selected", "backend", st.Backend())
		return st, nil
	}
	log.Warn("store_mongo_unavailable", "error", mongoErr.Error())

	gdb, sqlErr := openSQLite(ctx, cfg.SQLite)
	if sqlErr != nil {
		return nil, fmt.Errorf("no storage backend available: %w", errors.Join(mongoErr, sqlErr))
	}
	log.Info("store_selected", "backend", BackendSQLite, "dsn", cfg.SQLite.DSN)
	return NewGormStore(gdb), nil
}

func selectMongo(ctx context.Context, cfg SelectConfig, log *slog.Logger) (Store, error) {
	if err := cfg.Mongo.Validate(); err != nil {
		return nil, err
	}
	uris := cfg.Mongo.Endpoints()

	primaryClient, err := openMongo(ctx, uris[0], cfg.Mongo.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect primary mongo: %w", err)
	}
	primary := newMongoStoreForConfig(primaryClient, cfg.Mongo)
	if err := primary.EnsureIndexes(ctx); err != nil {
		log.Warn("store_mongo_index_error", "error", err.Error())
	}

	mirrors := make([]Store, 0, len(uris)-1)
	for i, uri := range uris[1:] {
		client, err := openMongo(ctx, uri, cfg.Mongo.ConnectTimeout)
		if err != nil {
			// Unreachable mirrors are skipped.
			log.Warn("store_mirror_unavailable", "mirror", i+1, "error", err.Error())
			continue
		}
		mirror := newMongoStoreForConfig(client, cfg.Mongo)
		if err := mirror.EnsureIndexes(ctx); err != nil {
			log.Warn("store_mirror_index_error", "mirror", i+1, "error", err.Error())
		}
		mirrors = append(mirrors, mirror)
	}
	if len(mirrors) == 0 {
		return primary, nil
	}
	return NewReplicated(primary, mirrors, cfg.MirrorTimeout, log), nil
}

func newMongoStoreForConfig(client *mongo.Client, cfg db.MongoConfig) *MongoStore {
	return NewMongoStore(client, cfg.Database, cfg.Collection)
}
