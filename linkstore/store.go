package linkstore

import "context"

// Store is the record contract shared by every backend. Each write touches a
// single record and is atomic for that record; nothing spans two records.
type Store interface {
	Get(ctx context.Context, externalID string) (Record, bool, error)
	// GetBySubject prefers a verified record when several name the subject.
	GetBySubject(ctx context.Context, subjectID int64) (Record, bool, error)
	// Upsert fully replaces the record keyed by rec.ExternalID.
	Upsert(ctx context.Context, rec Record) error
	SetAttempts(ctx context.Context, externalID string, attempts int, lastAttemptAt int64) error
	MarkVerified(ctx context.Context, externalID string) error
	Delete(ctx context.Context, externalID string) (bool, error)
	DeleteExpired(ctx context.Context, maxAgeSeconds int64) (int64, error)

	IsModerator(ctx context.Context, externalID string) (bool, error)
	GrantModerator(ctx context.Context, m Moderator) error
	RevokeModerator(ctx context.Context, externalID string) (bool, error)
	ListModerators(ctx context.Context) ([]Moderator, error)

	GetRoleConfig(ctx context.Context, guildID string) (RoleConfig, bool, error)
	PutRoleConfig(ctx context.Context, cfg RoleConfig) error

	Backend() string
	Close(ctx context.Context) error
}
