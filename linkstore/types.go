package linkstore

import (
	"errors"
	"fmt"
	"time"
)

var errMissingID = errors.New("missing id")

const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type Record struct {
	ExternalID    string `bson:"_id" json:"external_id" yaml:"external_id"`
	SubjectID     int64  `bson:"subject_id" json:"subject_id" yaml:"subject_id"`
	ChallengeCode string `bson:"challenge_code" json:"challenge_code" yaml:"challenge_code"`
	Verified      bool   `bson:"verified" json:"verified" yaml:"verified"`
	Attempts      int    `bson:"attempts" json:"attempts" yaml:"attempts"`
	LastAttemptAt int64  `bson:"last_attempt_at" json:"last_attempt_at" yaml:"last_attempt_at"`
	CreatedAt     int64  `bson:"created_at" json:"created_at" yaml:"created_at"`
}

// ExpiredAt reports whether an unverified record is past the expiry window.
func (r Record) ExpiredAt(now time.Time, maxAgeSeconds int64) bool {
	if r.Verified || maxAgeSeconds <= 0 {
		return false
	}
	return now.Unix()-r.CreatedAt > maxAgeSeconds
}

type Moderator struct {
	ExternalID string `bson:"_id" json:"external_id" yaml:"external_id"`
	GrantedBy  string `bson:"granted_by" json:"granted_by" yaml:"granted_by"`
	CreatedAt  int64  `bson:"created_at" json:"created_at" yaml:"created_at"`
}

type RoleConfig struct {
	GuildID        string `bson:"_id" json:"guild_id" yaml:"guild_id"`
	VerifiedRoleID string `bson:"verified_role_id" json:"verified_role_id" yaml:"verified_role_id"`
	UpdatedAt      int64  `bson:"updated_at" json:"updated_at" yaml:"updated_at"`
}

// StoreError wraps any backend read/write failure.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("store %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Backend: backend, Err: err}
}
