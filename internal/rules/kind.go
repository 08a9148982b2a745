package rules

import (
	"fmt"
	"strings"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/datatypes"
)

// Kind selects one of the two policy surfaces.
type Kind string

// Policy kinds.
const (
	KindService     Kind = "service"
	KindParticipant Kind = "participant"
)

// DefaultContinueResponse is the override used when always-continue is set without a body.
const DefaultContinueResponse = `{"status":"success","action":"continue"}`

// ParseKind validates a kind string.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindService:
		return KindService, nil
	case KindParticipant:
		return KindParticipant, nil
	default:
		return "", fmt.Errorf("unknown policy kind %q", raw)
	}
}

// KindConfig is the per-kind dispatch configuration of a rule.
type KindConfig struct {
	AlwaysContinue bool
	Override       datatypes.JSON
	TargetURL      string
}

// ConfigFor returns the dispatch configuration of rule for kind.
func ConfigFor(rule *models.PolicyRule, kind Kind) KindConfig {
	if rule == nil {
		return KindConfig{}
	}
	switch kind {
	case KindService:
		return KindConfig{
			AlwaysContinue: rule.AlwaysContinueService,
			Override:       rule.OverrideServiceResponse,
			TargetURL:      derefTrim(rule.ServiceTargetURL),
		}
	case KindParticipant:
		return KindConfig{
			AlwaysContinue: rule.AlwaysContinueParticipant,
			Override:       rule.OverrideParticipantResponse,
			TargetURL:      derefTrim(rule.ParticipantTargetURL),
		}
	default:
		return KindConfig{}
	}
}

func derefTrim(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
