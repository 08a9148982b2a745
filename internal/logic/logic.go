package logic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Match modes.
const (
	MatchAll = "all"
	MatchAny = "any"
)

// ErrInvalidLogic marks a malformed condition set or response.
var ErrInvalidLogic = errors.New("invalid logic")

// contextFields are copied from the payload into dedicated decision log columns.
var contextFields = []string{"local_alias", "participant_uuid", "protocol", "call_direction", "remote_display_name", "remote_alias", "request_id"}

// Condition is one parameter comparison.
type Condition struct {
	Parameter string   `json:"parameter"`
	Operator  Operator `json:"operator"`
	Value     any      `json:"value,omitempty"`
}

// ConditionSet is the stored shape of PolicyLogic.Conditions.
type ConditionSet struct {
	MatchMode  string      `json:"match_mode,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// ParseConditionSet decodes a stored condition set. Empty input is an empty set.
func ParseConditionSet(raw []byte) (ConditionSet, error) {
	var set ConditionSet
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return set, nil
	}
	if errUnmarshal := json.Unmarshal(trimmed, &set); errUnmarshal != nil {
		return set, fmt.Errorf("%w: conditions: %v", ErrInvalidLogic, errUnmarshal)
	}
	return set, nil
}

// Matches evaluates the set against a JSON payload. An empty set always matches.
func (s ConditionSet) Matches(payload []byte) bool {
	if len(s.Conditions) == 0 {
		return true
	}
	matchAny := strings.EqualFold(strings.TrimSpace(s.MatchMode), MatchAny)
	for _, cond := range s.Conditions {
		ok := cond.Evaluate(payload)
		if matchAny && ok {
			return true
		}
		if !matchAny && !ok {
			return false
		}
	}
	return !matchAny
}

// Evaluate applies the condition to payload. A blank parameter or unknown operator is false.
func (c Condition) Evaluate(payload []byte) bool {
	param := strings.TrimSpace(c.Parameter)
	if param == "" || !c.Operator.Valid() {
		return false
	}
	return c.Operator.Apply(gjson.GetBytes(payload, param), c.Value)
}

// Input is the editable part of a PolicyLogic row.
type Input struct {
	Enabled     bool            `json:"enabled"`
	Conditions  json.RawMessage `json:"conditions"`
	Response    json.RawMessage `json:"response"`
	Description string          `json:"description"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Matched    bool            `json:"matched"`
	LogicFound bool            `json:"logic_found"`
	Response   json.RawMessage `json:"response,omitempty"`
	DecisionID uint64          `json:"decision_id"`
}

// ParameterChecker reports whether a condition parameter is known.
type ParameterChecker interface {
	HasLogicParameter(name string) bool
}

// Service stores logic and evaluates it.
type Service struct {
	db      *gorm.DB
	params  ParameterChecker
	metrics *metrics.Collector
}

// NewService builds a logic service. params may be nil to accept any parameter.
func NewService(db *gorm.DB, params ParameterChecker, collector *metrics.Collector) *Service {
	return &Service{db: db, params: params, metrics: collector}
}

// Get returns the logic of rule for kind, or nil when none is stored.
func (s *Service) Get(ctx context.Context, ruleID uint64, kind rules.Kind) (*models.PolicyLogic, error) {
	var row models.PolicyLogic
	errFind := s.db.WithContext(ctx).
		Where("rule_id = ? AND kind = ?", ruleID, string(kind)).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("logic: load: %w", errFind)
	}
	return &row, nil
}

// Put validates and upserts the logic of rule for kind.
func (s *Service) Put(ctx context.Context, ruleID uint64, kind rules.Kind, in Input) (*models.PolicyLogic, error) {
	set, errParse := ParseConditionSet(in.Conditions)
	if errParse != nil {
		return nil, errParse
	}
	if errValidate := s.validate(set); errValidate != nil {
		return nil, errValidate
	}
	response := bytes.TrimSpace(in.Response)
	if len(response) == 0 {
		response = []byte("{}")
	}
	if !json.Valid(response) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrInvalidLogic)
	}
	conditions, errMarshal := json.Marshal(set)
	if errMarshal != nil {
		return nil, fmt.Errorf("logic: encode conditions: %w", errMarshal)
	}

	row := models.PolicyLogic{
		RuleID:      ruleID,
		Kind:        string(kind),
		Enabled:     in.Enabled,
		Conditions:  datatypes.JSON(conditions),
		Response:    datatypes.JSON(response),
		Description: strings.TrimSpace(in.Description),
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.PolicyRule{}).Where("id = ?", ruleID).Count(&count).Error; errCount != nil {
			return fmt.Errorf("logic: lookup rule: %w", errCount)
		}
		if count == 0 {
			return rules.ErrRuleNotFound
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "conditions", "response", "description", "updated_at"}),
		}).Create(&row).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	return s.Get(ctx, ruleID, kind)
}

func (s *Service) validate(set ConditionSet) error {
	mode := strings.ToLower(strings.TrimSpace(set.MatchMode))
	if mode != "" && mode != MatchAll && mode != MatchAny {
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidLogic, set.MatchMode)
	}
	for i, cond := range set.Conditions {
		if strings.TrimSpace(cond.Parameter) == "" {
			return fmt.Errorf("%w: condition %d has no parameter", ErrInvalidLogic, i+1)
		}
		if !cond.Operator.Valid() {
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidLogic, i+1, cond.Operator)
		}
		if s.params != nil && !s.params.HasLogicParameter(cond.Parameter) {
			return fmt.Errorf("%w: condition %d uses unknown parameter %q", ErrInvalidLogic, i+1, cond.Parameter)
		}
	}
	return nil
}

// Evaluate runs the enabled logic of rule for kind against payload and records a decision.
// Without enabled logic the decision is recorded as not matched.
func (s *Service) Evaluate(ctx context.Context, rule *models.PolicyRule, kind rules.Kind, payload json.RawMessage) (*Decision, error) {
	if rule == nil {
		return nil, rules.ErrRuleNotFound
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidLogic)
	}

	decision := &Decision{}
	var row models.PolicyLogic
	errFind := s.db.WithContext(ctx).
		Where("rule_id = ? AND kind = ? AND enabled = ?", rule.ID, string(kind), true).
		First(&row).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
	case errFind != nil:
		return nil, fmt.Errorf("logic: load: %w", errFind)
	default:
		decision.LogicFound = true
		set, errParse := ParseConditionSet(row.Conditions)
		if errParse != nil {
			log.WithError(errParse).WithField("rule_id", rule.ID).Warn("logic: stored conditions unreadable")
		} else if set.Matches(payload) {
			decision.Matched = true
			decision.Response = json.RawMessage(row.Response)
		}
	}

	entry := newDecisionLog(rule.ID, kind, decision, payload)
	if errCreate := s.db.WithContext(ctx).Create(entry).Error; errCreate != nil {
		log.WithError(errCreate).WithField("rule_id", rule.ID).Warn("logic: record decision failed")
	} else {
		decision.DecisionID = entry.ID
	}
	s.metrics.LogicEvaluated(string(kind), decision.Matched)
	log.WithFields(log.Fields{"rule": rule.Name, "kind": kind, "matched": decision.Matched}).Info("advanced logic evaluated")
	return decision, nil
}

func newDecisionLog(ruleID uint64, kind rules.Kind, decision *Decision, payload []byte) *models.PolicyDecisionLog {
	response := datatypes.JSON("{}")
	if decision.Matched && len(decision.Response) > 0 {
		response = datatypes.JSON(decision.Response)
	}
	entry := &models.PolicyDecisionLog{
		RuleID:          ruleID,
		Kind:            string(kind),
		Matched:         decision.Matched,
		RequestPayload:  datatypes.JSON(payload),
		ResponsePayload: response,
		DecidedAt:       time.Now().UTC(),
	}
	fields := map[string]**string{
		"local_alias":         &entry.LocalAlias,
		"participant_uuid":    &entry.ParticipantUUID,
		"protocol":            &entry.Protocol,
		"call_direction":      &entry.CallDirection,
		"remote_display_name": &entry.RemoteDisplayName,
		"remote_alias":        &entry.RemoteAlias,
		"request_id":          &entry.RequestID,
	}
	for _, key := range contextFields {
		value := gjson.GetBytes(payload, key)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		text := value.String()
		*fields[key] = &text
	}
	return entry
}

// DecisionPage is one page of decisions, newest first.
type DecisionPage struct {
	Items    []models.PolicyDecisionLog `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// ListDecisions pages the decisions recorded for rule.
func (s *Service) ListDecisions(ctx context.Context, ruleID uint64, page, size int) (*DecisionPage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 500 {
		size = 50
	}
	q := s.db.WithContext(ctx).Model(&models.PolicyDecisionLog{}).Where("rule_id = ?", ruleID)
	var total int64
	if errCount := q.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		return nil, fmt.Errorf("logic: count decisions: %w", errCount)
	}
	var items []models.PolicyDecisionLog
	if errFind := q.Order("decided_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&items).Error; errFind != nil {
		return nil, fmt.Errorf("logic: list decisions: %w", errFind)
	}
	return &DecisionPage{Items: items, Total: total, Page: page, PageSize: size}, nil
}
