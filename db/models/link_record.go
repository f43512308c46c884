package models

// LinkRecord ties a chat-platform user to a game account.
// SubjectID is only unique among verified rows, so the index is not unique.
type LinkRecord struct {
	ExternalID    string `gorm:"column:external_id;type:text;primaryKey"`
	SubjectID     int64  `gorm:"column:subject_id;not null;index:idx_link_subject"`
	ChallengeCode string `gorm:"column:challenge_code;type:text;not null"`
	Verified      bool   `gorm:"column:verified;not null;index:idx_link_verified_created,priority:1"`
	Attempts      int    `gorm:"column:attempts;not null"`
	LastAttemptAt int64  `gorm:"column:last_attempt_at;not null"`
	CreatedAt     int64  `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_link_verified_created,priority:2"`
}

func (LinkRecord) TableName() string { return "link_records" }
