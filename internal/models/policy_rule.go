package models

import (
	"time"

	"gorm.io/datatypes"
)

// PolicyRule routes policy requests whose local alias matches AliasPattern.
type PolicyRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string `gorm:"type:varchar(100);not null"` // Friendly label, not unique.
	AliasPattern string `gorm:"type:varchar(255);not null"` // Regex searched in local_alias.

	Protocols      datatypes.JSON `gorm:"type:jsonb"`        // Protocol tags; empty matches any.
	CallDirections datatypes.JSON `gorm:"type:jsonb"`        // Call direction tags; empty matches any.
	SourceMatch    *string        `gorm:"type:varchar(255)"` // IP or host fragment; NULL means unrestricted.

	Priority int  `gorm:"not null;index:idx_policy_rules_order,priority:1"` // Lower values are evaluated first.
	IsActive bool `gorm:"not null;index"`                                    // Inactive rules never match.

	AlwaysContinueService   bool           `gorm:"not null"`   // Answer service requests with the override.
	OverrideServiceResponse datatypes.JSON `gorm:"type:jsonb"` // Service override body.
	ServiceTargetURL        *string        `gorm:"type:text"`  // Upstream service policy base URL.

	AlwaysContinueParticipant   bool           `gorm:"not null"`   // Answer participant requests with the override.
	OverrideParticipantResponse datatypes.JSON `gorm:"type:jsonb"` // Participant override body.
	ParticipantTargetURL        *string        `gorm:"type:text"`  // Upstream participant policy base URL.

	BasicAuthUsername *string `gorm:"type:varchar(255)"` // Upstream basic auth user.
	BasicAuthPassword *string `gorm:"type:varchar(255)"` // Upstream basic auth password.

	MatchCount    int64      `gorm:"not null;default:0"` // Successful match counter.
	LastMatchedAt *time.Time // Last successful match.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`                                          // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index:idx_policy_rules_order,priority:2"` // Last edit; newer wins priority ties.
}
