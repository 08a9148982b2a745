// Package matcher selects the policy rule that answers an inbound request.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	log "github.com/sirupsen/logrus"
)

// RuleSource provides the ordered active rule snapshot and match telemetry.
type RuleSource interface {
	ListActiveOrdered(ctx context.Context) ([]models.PolicyRule, error)
	RecordMatch(ctx context.Context, id uint64) error
}

// Request carries the match inputs of one policy request.
type Request struct {
	Kind          rules.Kind
	Alias         string
	Protocol      string
	CallDirection string
	SourceIP      string
	SourceHost    string
}

// Engine evaluates requests against the rule source.
type Engine struct {
	source RuleSource
}

// NewEngine builds an engine over source.
func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

// FindMatch returns the first active rule accepting req, or nil when none does.
// The winning rule's match telemetry is recorded; telemetry failures are logged only.
func (e *Engine) FindMatch(ctx context.Context, req Request) (*models.PolicyRule, error) {
	if e == nil || e.source == nil {
		return nil, fmt.Errorf("matcher: no rule source")
	}
	candidates, errList := e.source.ListActiveOrdered(ctx)
	if errList != nil {
		return nil, fmt.Errorf("matcher: load rules: %w", errList)
	}
	for i := range candidates {
		rule := &candidates[i]
		if !Accepts(rule, req) {
			continue
		}
		if errRecord := e.source.RecordMatch(ctx, rule.ID); errRecord != nil {
			log.WithError(errRecord).WithField("rule_id", rule.ID).Warn("matcher: record match failed")
		} else {
			rule.MatchCount++
		}
		return rule, nil
	}
	return nil, nil
}

// Accepts reports whether rule satisfies every predicate for req.
// A pattern that does not compile never matches.
func Accepts(rule *models.PolicyRule, req Request) bool {
	if rule == nil || !rule.IsActive {
		return false
	}
	re, errCompile := regexp.Compile(rule.AliasPattern)
	if errCompile != nil {
		log.WithError(errCompile).WithField("rule_id", rule.ID).Debug("matcher: skipping rule with invalid pattern")
		return false
	}
	if !re.MatchString(req.Alias) {
		return false
	}
	if !tagAccepts(rules.DecodeTags(rule.Protocols), req.Protocol) {
		return false
	}
	if !tagAccepts(rules.DecodeTags(rule.CallDirections), req.CallDirection) {
		return false
	}
	return sourceAccepts(rule.SourceMatch, req.SourceIP, req.SourceHost)
}

func tagAccepts(tags []string, value string) bool {
	if len(tags) == 0 || value == "" {
		return true
	}
	for _, tag := range tags {
		if tag == value {
			return true
		}
	}
	return false
}

func sourceAccepts(sourceMatch *string, sourceIP, sourceHost string) bool {
	normalized := rules.NormalizeSourceMatch(sourceMatch)
	if normalized == nil {
		return true
	}
	want := strings.ToLower(*normalized)
	ip := strings.ToLower(strings.TrimSpace(sourceIP))
	host := strings.ToLower(strings.TrimSpace(sourceHost))
	switch {
	case ip != "" && want == ip:
		return true
	case host != "" && want == host:
		return true
	case ip != "" && strings.Contains(ip, want):
		return true
	case host != "" && strings.Contains(host, want):
		return true
	default:
		return false
	}
}
