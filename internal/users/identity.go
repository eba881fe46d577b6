package users

import (
	"strings"
	"time"
)

// Account is a Vyon user with profile fields. Statistics live in counters.
type Account struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email           string `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash    string `gorm:"column:password_hash;size:128" json:"-"`
	DisplayName     string `gorm:"column:display_name;size:320;not null"`
	Handle          string `gorm:"column:handle;size:64;not null"`
	Bio             string `gorm:"column:bio;type:text"`
	ProfilePicture  string `gorm:"column:profile_picture;size:1024"`
	Location        string `gorm:"column:location;size:320"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	LastLoginMillis int64  `gorm:"column:last_login_ms"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// Identity maps a provider-specific login to a Vyon account.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Models lists every table owned by the users package, for schema migration.
func Models() []interface{} {
	return []interface{}{&Account{}, &Identity{}}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
