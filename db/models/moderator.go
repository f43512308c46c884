package models

type Moderator struct {
	ExternalID string `gorm:"column:external_id;type:text;primaryKey"`
	GrantedBy  string `gorm:"column:granted_by;type:text;not null"`
	CreatedAt  int64  `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (Moderator) TableName() string { return "moderators" }

type RoleConfig struct {
	GuildID        string `gorm:"column:guild_id;type:text;primaryKey"`
	VerifiedRoleID string `gorm:"column:verified_role_id;type:text;not null"`
	UpdatedAt      int64  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (RoleConfig) TableName() string { return "role_configs" }
