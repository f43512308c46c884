package linkstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/linkkeeper/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by narrow mutators when the record is gone,
// typically because the sweeper removed it mid-flow.
var ErrNotFound = errors.New("record not found")

type GormStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db, Now: time.Now}
}

func (s *GormStore) Backend() string { return BackendSQLite }

func (s *GormStore) Get(ctx context.Context, externalID string) (Record, bool, error) {
	if s == nil || s.DB == nil {
		return Record{}, false, wrapErr(BackendSQLite, "get", fmt.Errorf("nil gorm db"))
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Record{}, false, nil
	}

	var row models.LinkRecord
	err := s.DB.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, wrapErr(BackendSQLite, "get", err)
	}
	return modelToRecord(row), true, nil
}

func (s *GormStore) GetBySubject(ctx context.Context, subjectID int64) (Record, bool, error) {
	if s == nil || s.DB == nil {
		return Record{}, false, wrapErr(BackendSQLite, "get_by_subject", fmt.Errorf("nil gorm db"))
	}
	var row models.LinkRecord
	err := s.DB.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("verified DESC").
		Order("created_at ASC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, wrapErr(BackendSQLite, "get_by_subject", err)
	}
	return modelToRecord(row), true, nil
}

func (s *GormStore) Upsert(ctx context.Context, rec Record) error {
	if s == nil || s.DB == nil {
		return wrapErr(BackendSQLite, "upsert", fmt.Errorf("nil gorm db"))
	}
	rec.ExternalID = strings.TrimSpace(rec.ExternalID)
	if rec.ExternalID == "" {
		return wrapErr(BackendSQLite, "upsert", fmt.Errorf("missing external id"))
	}

	row := recordToModel(rec)
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"subject_id",
				"challenge_code",
				"verified",
				"attempts",
				"last_attempt_at",
				"created_at",
			}),
		}).
		Create(&row).Error
	return wrapErr(BackendSQLite, "upsert", err)
}

func (s *GormStore) SetAttempts(ctx context.Context, externalID string, attempts int, lastAttemptAt int64) error {
	return s.update(ctx, "set_attempts", externalID, map[string]any{
		"attempts":        attempts,
		"last_attempt_at": lastAttemptAt,
	})
}

func (s *GormStore) MarkVerified(ctx context.Context, externalID string) error {
	return s.update(ctx, "mark_verified", externalID, map[string]any{
		"verified": true,
	})
}

func (s *GormStore) update(ctx context.Context, op string, externalID string, fields map[string]any) error {
	if s == nil || s.DB == nil {
		return wrapErr(BackendSQLite, op, fmt.Errorf("nil gorm db"))
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrNotFound
	}
	res := s.DB.WithContext(ctx).
		Model(&models.LinkRecord{}).
		Where("external_id = ?", externalID).
		Updates(fields)
	if res.Error != nil {
		return wrapErr(BackendSQLite, op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, externalID string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, wrapErr(BackendSQLite, "delete", fmt.Errorf("nil gorm db"))
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	res := s.DB.WithContext(ctx).
		Where("external_id = ?", externalID).
		Delete(&models.LinkRecord{})
	if res.Error != nil {
		return false, wrapErr(BackendSQLite, "delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteExpired(ctx context.Context, maxAgeSeconds int64) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, wrapErr(BackendSQLite, "delete_expired", fmt.Errorf("nil gorm db"))
	}
	if maxAgeSeconds <= 0 {
		return 0, nil
	}
	cutoff := s.now().Unix() - maxAgeSeconds
	res := s.DB.WithContext(ctx).
		Where("verified = ? AND created_at < ?", false, cutoff).
		Delete(&models.LinkRecord{})
	if res.Error != nil {
		return 0, wrapErr(BackendSQLite, "delete_expired", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) IsModerator(ctx context.Context, externalID string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, wrapErr(BackendSQLite, "is_moderator", fmt.Errorf("nil gorm db"))
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.Moderator{}).
		Where("external_id = ?", externalID).
		Count(&n).Error
	if err != nil {
		return false, wrapErr(BackendSQLite, "is_moderator", err)
	}
	return n > 0, nil
}

func (s *GormStore) GrantModerator(ctx context.Context, m Moderator) error {
	if s == nil || s.DB == nil {
		return wrapErr(BackendSQLite, "grant_moderator", fmt.Errorf("nil gorm db"))
	}
	m.ExternalID = strings.TrimSpace(m.ExternalID)
	if m.ExternalID == "" {
		return wrapErr(BackendSQLite, "grant_moderator", fmt.Errorf("missing external id"))
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = s.now().Unix()
	}
	row := models.Moderator{
		ExternalID: m.ExternalID,
		GrantedBy:  strings.TrimSpace(m.GrantedBy),
		CreatedAt:  m.CreatedAt,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"granted_by"}),
		}).
		Create(&row).Error
	return wrapErr(BackendSQLite, "grant_moderator", err)
}

func (s *GormStore) RevokeModerator(ctx context.Context, externalID string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, wrapErr(BackendSQLite, "revoke_moderator", fmt.Errorf("nil gorm db"))
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	res := s.DB.WithContext(ctx).
		Where("external_id = ?", externalID).
		Delete(&models.Moderator{})
	if res.Error != nil {
		return false, wrapErr(BackendSQLite, "revoke_moderator", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListModerators(ctx context.Context) ([]Moderator, error) {
	if s == nil || s.DB == nil {
		return nil, wrapErr(BackendSQLite, "list_moderators", fmt.Errorf("nil gorm db"))
	}
	var rows []models.Moderator
	if err := s.DB.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapErr(BackendSQLite, "list_moderators", err)
	}
	out := make([]Moderator, 0, len(rows))
	for _, r := range rows {
		out = append(out, Moderator{ExternalID: r.ExternalID, GrantedBy: r.GrantedBy, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *GormStore) GetRoleConfig(ctx context.Context, guildID string) (RoleConfig, bool, error) {
	if s == nil || s.DB == nil {
		return RoleConfig{}, false, wrapErr(BackendSQLite, "get_role_config", fmt.Errorf("nil gorm db"))
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return RoleConfig{}, false, nil
	}
	var row models.RoleConfig
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RoleConfig{}, false, nil
		}
		return RoleConfig{}, false, wrapErr(BackendSQLite, "get_role_config", err)
	}
	return RoleConfig{GuildID: row.GuildID, VerifiedRoleID: row.VerifiedRoleID, UpdatedAt: row.UpdatedAt}, true, nil
}

func (s *GormStore) PutRoleConfig(ctx context.Context, cfg RoleConfig) error {
	if s == nil || s.DB == nil {
		return wrapErr(BackendSQLite, "put_role_config", fmt.Errorf("nil gorm db"))
	}
	cfg.GuildID = strings.TrimSpace(cfg.GuildID)
	if cfg.GuildID == "" {
		return wrapErr(BackendSQLite, "put_role_config", fmt.Errorf("missing guild id"))
	}
	if cfg.UpdatedAt == 0 {
		cfg.UpdatedAt = s.now().Unix()
	}
	row := models.RoleConfig{
		GuildID:        cfg.GuildID,
		VerifiedRoleID: strings.TrimSpace(cfg.VerifiedRoleID),
		UpdatedAt:      cfg.UpdatedAt,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"verified_role_id", "updated_at"}),
		}).
		Create(&row).Error
	return wrapErr(BackendSQLite, "put_role_config", err)
}

func (s *GormStore) Close(_ context.Context) error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return wrapErr(BackendSQLite, "close", err)
	}
	return wrapErr(BackendSQLite, "close", sqlDB.Close())
}

func (s *GormStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func modelToRecord(m models.LinkRecord) Record {
	return Record{
		ExternalID:    m.ExternalID,
		SubjectID:     m.SubjectID,
		ChallengeCode: m.ChallengeCode,
		Verified:      m.Verified,
		Attempts:      m.Attempts,
		LastAttemptAt: m.LastAttemptAt,
		CreatedAt:     m.CreatedAt,
	}
}

func recordToModel(r Record) models.LinkRecord {
	return models.LinkRecord{
		ExternalID:    r.ExternalID,
		SubjectID:     r.SubjectID,
		ChallengeCode: r.ChallengeCode,
		Verified:      r.Verified,
		Attempts:      r.Attempts,
		LastAttemptAt: r.LastAttemptAt,
		CreatedAt:     r.CreatedAt,
	}
}
