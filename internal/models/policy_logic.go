package models

import (
	"time"

	"gorm.io/datatypes"
)

// PolicyLogic holds the advanced condition set of a rule for one policy kind.
type PolicyLogic struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RuleID uint64      `gorm:"not null;uniqueIndex:idx_policy_logics_rule_kind"` // Owning rule.
	Rule   *PolicyRule `gorm:"constraint:OnDelete:CASCADE"`                      // Owning rule relation.
	Kind   string      `gorm:"type:varchar(20);not null;uniqueIndex:idx_policy_logics_rule_kind"`

	Enabled     bool           `gorm:"not null"`   // Whether evaluation is active.
	Conditions  datatypes.JSON `gorm:"type:jsonb"` // {"match_mode": ..., "conditions": [...]}.
	Response    datatypes.JSON `gorm:"type:jsonb"` // Returned when the conditions match.
	Description string         `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// PolicyDecisionLog records one advanced logic evaluation.
type PolicyDecisionLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RuleID  uint64      `gorm:"not null;index"`              // Evaluated rule.
	Rule    *PolicyRule `gorm:"constraint:OnDelete:CASCADE"` // Evaluated rule relation.
	Kind    string      `gorm:"type:varchar(32);not null"`   // service or participant.
	Matched bool        `gorm:"not null"`                    // Evaluation outcome.

	RequestPayload  datatypes.JSON `gorm:"type:jsonb"` // Evaluated context.
	ResponsePayload datatypes.JSON `gorm:"type:jsonb"` // Response returned on match.

	LocalAlias        *string `gorm:"type:varchar(256)"`
	ParticipantUUID   *string `gorm:"type:varchar(128)"`
	Protocol          *string `gorm:"type:varchar(64)"`
	CallDirection     *string `gorm:"type:varchar(32)"`
	RemoteDisplayName *string `gorm:"type:varchar(256)"`
	RemoteAlias       *string `gorm:"type:varchar(256)"`
	RequestID         *string `gorm:"type:varchar(128)"`

	DecidedAt time.Time `gorm:"not null;index"` // Evaluation timestamp.
}
