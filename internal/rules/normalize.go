package rules

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/datatypes"
)

// NormalizeSourceMatch maps blank, "none" and "null" (any case, any padding) to nil.
func NormalizeSourceMatch(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	switch strings.ToLower(trimmed) {
	case "", "none", "null":
		return nil
	}
	return &trimmed
}

// Normalize applies the save-time rules to rule in place.
func Normalize(rule *models.PolicyRule) {
	if rule == nil {
		return
	}
	rule.Name = strings.TrimSpace(rule.Name)
	rule.AliasPattern = strings.TrimSpace(rule.AliasPattern)
	rule.SourceMatch = NormalizeSourceMatch(rule.SourceMatch)
	rule.ServiceTargetURL = normalizeOptional(rule.ServiceTargetURL)
	rule.ParticipantTargetURL = normalizeOptional(rule.ParticipantTargetURL)
	rule.BasicAuthUsername = normalizeOptional(rule.BasicAuthUsername)
	rule.BasicAuthPassword = normalizeOptional(rule.BasicAuthPassword)
	rule.Protocols = EncodeTags(DecodeTags(rule.Protocols))
	rule.CallDirections = EncodeTags(DecodeTags(rule.CallDirections))
	rule.OverrideServiceResponse = normalizeOverride(rule.AlwaysContinueService, rule.OverrideServiceResponse)
	rule.OverrideParticipantResponse = normalizeOverride(rule.AlwaysContinueParticipant, rule.OverrideParticipantResponse)
}

func normalizeOverride(alwaysContinue bool, override datatypes.JSON) datatypes.JSON {
	if !alwaysContinue {
		return nil
	}
	trimmed := bytes.TrimSpace(override)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return datatypes.JSON(DefaultContinueResponse)
	}
	copied := make([]byte, len(trimmed))
	copy(copied, trimmed)
	return datatypes.JSON(copied)
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// DecodeTags reads a JSON string array column; malformed content yields no tags.
func DecodeTags(raw datatypes.JSON) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var tags []string
	if errUnmarshal := json.Unmarshal(raw, &tags); errUnmarshal != nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// EncodeTags renders tags as a JSON array column value.
func EncodeTags(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	encoded, errMarshal := json.Marshal(tags)
	if errMarshal != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}
