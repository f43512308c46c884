package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MaxMongoEndpoints bounds the primary plus mirror clusters.
const MaxMongoEndpoints = 4

type MongoConfig struct {
	URIs           []string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:       "linkkeeper",
		Collection:     "links",
		ConnectTimeout: 8 * time.Second,
	}
}

// Validate checks the endpoint list without dialing anything.
func (c MongoConfig) Validate() error {
	uris := c.Endpoints()
	if len(uris) == 0 {
		return fmt.Errorf("no mongo uris configured")
	}
	if len(uris) > MaxMongoEndpoints {
		return fmt.Errorf("too many mongo uris: %d (max %d)", len(uris), MaxMongoEndpoints)
	}
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("missing mongo database name")
	}
	if strings.TrimSpace(c.Collection) == "" {
		return fmt.Errorf("missing mongo collection name")
	}
	return nil
}

// Endpoints returns the non-empty URIs, primary first.
func (c MongoConfig) Endpoints() []string {
	out := make([]string, 0, len(c.URIs))
	for _, u := range c.URIs {
		u = strings.TrimSpace(u)
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// OpenMongo connects to a single cluster and pings it within the connect
// timeout. The returned client is ready for use.
func OpenMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("missing mongo uri")
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		discCtx, discCancel := context.WithTimeout(context.Background(), timeout)
		defer discCancel()
		_ = client.Disconnect(discCtx)
		return nil, err
	}
	return client, nil
}
