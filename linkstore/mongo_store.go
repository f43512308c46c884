package linkstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	moderatorsCollection  = "moderators"
	roleConfigsCollection = "role_configs"
)

// MongoStore keeps one document per external id, with _id set to the id.
type MongoStore struct {
	Client *mongo.Client
	Now    func() time.Time

	links      *mongo.Collection
	moderators *mongo.Collection
	roles      *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		Client:     client,
		Now:        time.Now,
		links:      db.Collection(collection),
		moderators: db.Collection(moderatorsCollection),
		roles:      db.Collection(roleConfigsCollection),
	}
}

func (s *MongoStore) Backend() string { return BackendMongo }

// EnsureIndexes creates the secondary indexes used by GetBySubject and
// DeleteExpired. It is safe to call on every start.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject_id", Value: 1}}},
		{Keys: bson.D{{Key: "verified", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	return wrapErr(BackendMongo, "ensure_indexes", err)
}

func (s *MongoStore) Get(ctx context.Context, externalID string) (Record, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Record{}, false, nil
	}
	var rec Record
	err := s.links.FindOne(ctx, bson.M{"_id": externalID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, false, nil
		}
		return Record{}, false, wrapErr(BackendMongo, "get", err)
	}
	return rec, true, nil
}

func (s *MongoStore) GetBySubject(ctx context.Context, subjectID int64) (Record, bool, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "verified", Value: -1},
		{Key: "created_at", Value: 1},
	})
	var rec Record
	err := s.links.FindOne(ctx, bson.M{"subject_id": subjectID}, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, false, nil
		}
		return Record{}, false, wrapErr(BackendMongo, "get_by_subject", err)
	}
	return rec, true, nil
}

func (s *MongoStore) Upsert(ctx context.Context, rec Record) error {
	rec.ExternalID = strings.TrimSpace(rec.ExternalID)
	if rec.ExternalID == "" {
		return wrapErr(BackendMongo, "upsert", fmt.Errorf("missing external id"))
	}
	_, err := s.links.ReplaceOne(ctx, bson.M{"_id": rec.ExternalID}, rec, options.Replace().SetUpsert(true))
	return wrapErr(BackendMongo, "upsert", err)
}

func (s *MongoStore) SetAttempts(ctx context.Context, externalID string, attempts int, lastAttemptAt int64) error {
	return s.set(ctx, "set_attempts", externalID, bson.M{
		"attempts":        attempts,
		"last_attempt_at": lastAttemptAt,
	})
}

func (s *MongoStore) MarkVerified(ctx context.Context, externalID string) error {
	return s.set(ctx, "mark_verified", externalID, bson.M{"verified": true})
}

func (s *MongoStore) set(ctx context.Context, op string, externalID string, fields bson.M) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrNotFound
	}
	res, err := s.links.UpdateOne(ctx, bson.M{"_id": externalID}, bson.M{"$set": fields})
	if err != nil {
		return wrapErr(BackendMongo, op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	res, err := s.links.DeleteOne(ctx, bson.M{"_id": externalID})
	if err != nil {
		return false, wrapErr(BackendMongo, "delete", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) DeleteExpired(ctx context.Context, maxAgeSeconds int64) (int64, error) {
	if maxAgeSeconds <= 0 {
		return 0, nil
	}
	cutoff := s.now().Unix() - maxAgeSeconds
	res, err := s.links.DeleteMany(ctx, bson.M{
		"verified":   false,
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, wrapErr(BackendMongo, "delete_expired", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) IsModerator(ctx context.Context, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	n, err := s.moderators.CountDocuments(ctx, bson.M{"_id": externalID})
	if err != nil {
		return false, wrapErr(BackendMongo, "is_moderator", err)
	}
	return n > 0, nil
}

func (s *MongoStore) GrantModerator(ctx context.Context, m Moderator) error {
	m.ExternalID = strings.TrimSpace(m.ExternalID)
	if m.ExternalID == "" {
		return wrapErr(BackendMongo, "grant_moderator", fmt.Errorf("missing external id"))
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = s.now().Unix()
	}
	_, err := s.moderators.UpdateOne(ctx,
		bson.M{"_id": m.ExternalID},
		bson.M{
			"$set":         bson.M{"granted_by": strings.TrimSpace(m.GrantedBy)},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return wrapErr(BackendMongo, "grant_moderator", err)
}

func (s *MongoStore) RevokeModerator(ctx context.Context, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	res, err := s.moderators.DeleteOne(ctx, bson.M{"_id": externalID})
	if err != nil {
		return false, wrapErr(BackendMongo, "revoke_moderator", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) ListModerators(ctx context.Context) ([]Moderator, error) {
	cur, err := s.moderators.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, wrapErr(BackendMongo, "list_moderators", err)
	}
	var out []Moderator
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrapErr(BackendMongo, "list_moderators", err)
	}
	return out, nil
}

func (s *MongoStore) GetRoleConfig(ctx context.Context, guildID string) (RoleConfig, bool, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return RoleConfig{}, false, nil
	}
	var cfg RoleConfig
	err := s.roles.FindOne(ctx, bson.M{"_id": guildID}).Decode(&cfg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return RoleConfig{}, false, nil
		}
		return RoleConfig{}, false, wrapErr(BackendMongo, "get_role_config", err)
	}
	return cfg, true, nil
}

func (s *MongoStore) PutRoleConfig(ctx context.Context, cfg RoleConfig) error {
	cfg.GuildID = strings.TrimSpace(cfg.GuildID)
	if cfg.GuildID == "" {
		return wrapErr(BackendMongo, "put_role_config", fmt.Errorf("missing guild id"))
	}
	cfg.VerifiedRoleID = strings.TrimSpace(cfg.VerifiedRoleID)
	if cfg.UpdatedAt == 0 {
		cfg.UpdatedAt = s.now().Unix()
	}
	_, err := s.roles.ReplaceOne(ctx, bson.M{"_id": cfg.GuildID}, cfg, options.Replace().SetUpsert(true))
	return wrapErr(BackendMongo, "put_role_config", err)
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return nil
	}
	return wrapErr(BackendMongo, "close", s.Client.Disconnect(ctx))
}

func (s *MongoStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
