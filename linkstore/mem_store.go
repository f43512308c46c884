package linkstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store. It backs tests and dry runs; nothing is
// persisted.
type MemStore struct {
	Now func() time.Time

	mu         sync.Mutex
	links      map[string]Record
	moderators map[string]Moderator
	roles      map[string]RoleConfig
}

func NewMemStore() *MemStore {
	return &MemStore{
		Now:        time.Now,
		links:      make(map[string]Record),
		moderators: make(map[string]Moderator),
		roles:      make(map[string]RoleConfig),
	}
}

func (s *MemStore) Backend() string { return BackendMemory }

func (s *MemStore) Get(_ context.Context, externalID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.links[strings.TrimSpace(externalID)]
	return rec, ok, nil
}

func (s *MemStore) GetBySubject(_ context.Context, subjectID int64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  Record
		found bool
	)
	for _, rec := range s.links {
		if rec.SubjectID != subjectID {
			continue
		}
		if !found || betterSubjectMatch(rec, best) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func betterSubjectMatch(a, b Record) bool {
	if a.Verified != b.Verified {
		return a.Verified
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ExternalID < b.ExternalID
}

func (s *MemStore) Upsert(_ context.Context, rec Record) error {
	rec.ExternalID = strings.TrimSpace(rec.ExternalID)
	if rec.ExternalID == "" {
		return wrapErr(BackendMemory, "upsert", errMissingID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[rec.ExternalID] = rec
	return nil
}

func (s *MemStore) SetAttempts(_ context.Context, externalID string, attempts int, lastAttemptAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.links[strings.TrimSpace(externalID)]
	if !ok {
		return ErrNotFound
	}
	rec.Attempts = attempts
	rec.LastAttemptAt = lastAttemptAt
	s.links[rec.ExternalID] = rec
	return nil
}

func (s *MemStore) MarkVerified(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.links[strings.TrimSpace(externalID)]
	if !ok {
		return ErrNotFound
	}
	rec.Verified = true
	s.links[rec.ExternalID] = rec
	return nil
}

func (s *MemStore) Delete(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	externalID = strings.TrimSpace(externalID)
	if _, ok := s.links[externalID]; !ok {
		return false, nil
	}
	delete(s.links, externalID)
	return true, nil
}

func (s *MemStore) DeleteExpired(_ context.Context, maxAgeSeconds int64) (int64, error) {
	if maxAgeSeconds <= 0 {
		return 0, nil
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.links {
		if rec.ExpiredAt(now, maxAgeSeconds) {
			delete(s.links, id)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) IsModerator(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.moderators[strings.TrimSpace(externalID)]
	return ok, nil
}

func (s *MemStore) GrantModerator(_ context.Context, m Moderator) error {
	m.ExternalID = strings.TrimSpace(m.ExternalID)
	if m.ExternalID == "" {
		return wrapErr(BackendMemory, "grant_moderator", errMissingID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.moderators[m.ExternalID]; ok {
		m.CreatedAt = prev.CreatedAt
	} else if m.CreatedAt == 0 {
		m.CreatedAt = s.now().Unix()
	}
	s.moderators[m.ExternalID] = m
	return nil
}

func (s *MemStore) RevokeModerator(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	externalID = strings.TrimSpace(externalID)
	if _, ok := s.moderators[externalID]; !ok {
		return false, nil
	}
	delete(s.moderators, externalID)
	return true, nil
}

func (s *MemStore) ListModerators(_ context.Context) ([]Moderator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Moderator, 0, len(s.moderators))
	for _, m := range s.moderators {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (s *MemStore) GetRoleConfig(_ context.Context, guildID string) (RoleConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.roles[strings.TrimSpace(guildID)]
	return cfg, ok, nil
}

func (s *MemStore) PutRoleConfig(_ context.Context, cfg RoleConfig) error {
	cfg.GuildID = strings.TrimSpace(cfg.GuildID)
	if cfg.GuildID == "" {
		return wrapErr(BackendMemory, "put_role_config", errMissingID)
	}
	if cfg.UpdatedAt == 0 {
		cfg.UpdatedAt = s.now().Unix()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[cfg.GuildID] = cfg
	return nil
}

func (s *MemStore) Close(_ context.Context) error { return nil }

func (s *MemStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
