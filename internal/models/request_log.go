package models

import "time"

// RequestLog is the audit record written once per answered policy request.
type RequestLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RuleID *uint64     `gorm:"index"`                                          // Matched rule; NULL once the rule is deleted.
	Rule   *PolicyRule `gorm:"foreignKey:RuleID;constraint:OnDelete:SET NULL"` // Matched rule relation.

	Kind      string `gorm:"type:varchar(32);index"` // service or participant.
	RequestID string `gorm:"type:varchar(64);index"` // Correlation id echoed in X-Request-ID.

	RequestMethod string  `gorm:"type:varchar(10);not null"` // Inbound HTTP method.
	RequestPath   string  `gorm:"type:text;not null"`        // Inbound path including query.
	RequestBody   *string `gorm:"type:text"`                 // Truncated inbound body.
	LocalAlias    string  `gorm:"type:varchar(255);index"`   // local_alias query value.

	ResponseStatus int     `gorm:"not null"`  // Status returned to the caller.
	ResponseBody   *string `gorm:"type:text"` // Body returned to the caller.
	IsOverride     bool    `gorm:"not null"`  // Answered from the rule override.

	Protocol      string `gorm:"type:varchar(64);index"` // protocol query value.
	CallDirection string `gorm:"type:varchar(32);index"` // call_direction query value.
	SourceIP      string `gorm:"type:varchar(64)"`       // Caller address.
	SourceHost    string `gorm:"type:varchar(255)"`      // Caller host name, when known.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

// TableName pins the audit table name.
func (RequestLog) TableName() string { return "policy_request_logs" }
