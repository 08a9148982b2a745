package models

import "time"

// Credential is a basic auth identity for the policy endpoints and the admin API.
type Credential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:varchar(150);not null;uniqueIndex"` // Login name.
	Password string `gorm:"type:text;not null"`                     // bcrypt hash.

	Active  bool `gorm:"not null"` // Disabled credentials are rejected.
	IsAdmin bool `gorm:"not null"` // Grants access to the admin API.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
