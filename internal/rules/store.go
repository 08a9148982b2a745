package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPriority is assigned by callers that omit a priority.
const DefaultPriority = 100

// orderClause is the canonical evaluation order of rules.
const orderClause = "priority ASC, updated_at DESC, id DESC"

// ListFilter narrows the admin rule listing.
type ListFilter struct {
	Protocols      []string // Keep rules tagged with any of these.
	CallDirections []string // Keep rules tagged with any of these.
	ActiveOnly     bool
}

// Store persists policy rules.
type Store struct {
	db        *gorm.DB
	validator *Validator
}

// NewStore builds a store; a nil validator uses the default probe count.
func NewStore(db *gorm.DB, validator *Validator) *Store {
	if validator == nil {
		validator = NewValidator(defaultRandomProbes)
	}
	return &Store{db: db, validator: validator}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// ListActiveOrdered returns active rules in evaluation order.
func (s *Store) ListActiveOrdered(ctx context.Context) ([]models.PolicyRule, error) {
	var rows []models.PolicyRule
	if errFind := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order(orderClause).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("list active rules: %w", errFind)
	}
	return rows, nil
}

// List returns rules in evaluation order, filtered in memory by tag.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.PolicyRule, error) {
	q := s.db.WithContext(ctx).Model(&models.PolicyRule{})
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []models.PolicyRule
	if errFind := q.Order(orderClause).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("list rules: %w", errFind)
	}
	if len(filter.Protocols) == 0 && len(filter.CallDirections) == 0 {
		return rows, nil
	}
	out := make([]models.PolicyRule, 0, len(rows))
	for _, row := range rows {
		if !tagsIntersect(DecodeTags(row.Protocols), filter.Protocols) {
			continue
		}
		if !tagsIntersect(DecodeTags(row.CallDirections), filter.CallDirections) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func tagsIntersect(ruleTags, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, tag := range ruleTags {
			if tag == w {
				return true
			}
		}
	}
	return false
}

// Get loads one rule.
func (s *Store) Get(ctx context.Context, id uint64) (*models.PolicyRule, error) {
	var row models.PolicyRule
	if errFind := s.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("get rule %d: %w", id, errFind)
	}
	return &row, nil
}

// Create normalizes, validates and inserts rule. rule.ID is populated on success.
func (s *Store) Create(ctx context.Context, rule *models.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	rule.ID = 0
	rule.MatchCount = 0
	rule.LastMatchedAt = nil
	Normalize(rule)
	if errShape := checkShape(rule); errShape != nil {
		return errShape
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, errActive := activeRules(tx)
		if errActive != nil {
			return errActive
		}
		if errValidate := s.validator.Validate(rule, active); errValidate != nil {
			return errValidate
		}
		if errCreate := tx.Create(rule).Error; errCreate != nil {
			return fmt.Errorf("create rule: %w", errCreate)
		}
		return nil
	})
}

// Update replaces the editable fields of rule id with those of rule and bumps updated_at.
// Telemetry and created_at are preserved. On success rule reflects the stored row.
func (s *Store) Update(ctx context.Context, id uint64, rule *models.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	Normalize(rule)
	if errShape := checkShape(rule); errShape != nil {
		return errShape
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.PolicyRule
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return fmt.Errorf("load rule %d: %w", id, errFind)
		}
		rule.ID = current.ID
		rule.MatchCount = current.MatchCount
		rule.LastMatchedAt = current.LastMatchedAt
		rule.CreatedAt = current.CreatedAt

		active, errActive := activeRules(tx)
		if errActive != nil {
			return errActive
		}
		if errValidate := s.validator.Validate(rule, active); errValidate != nil {
			return errValidate
		}
		rule.UpdatedAt = time.Now().UTC()
		if errSave := tx.Save(rule).Error; errSave != nil {
			return fmt.Errorf("update rule %d: %w", id, errSave)
		}
		return nil
	})
}

// Delete removes a rule; request log entries keep their row with a NULL rule reference.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.PolicyRule{}).Where("id = ?", id).Count(&count).Error; errCount != nil {
			return fmt.Errorf("lookup rule %d: %w", id, errCount)
		}
		if count == 0 {
			return ErrRuleNotFound
		}
		if errLogs := tx.Model(&models.RequestLog{}).
			Where("rule_id = ?", id).
			UpdateColumn("rule_id", nil).Error; errLogs != nil {
			return fmt.Errorf("detach request logs: %w", errLogs)
		}
		if errLogic := tx.Where("rule_id = ?", id).Delete(&models.PolicyLogic{}).Error; errLogic != nil {
			return fmt.Errorf("delete rule logic: %w", errLogic)
		}
		if errDecisions := tx.Where("rule_id = ?", id).Delete(&models.PolicyDecisionLog{}).Error; errDecisions != nil {
			return fmt.Errorf("delete rule decisions: %w", errDecisions)
		}
		if errDelete := tx.Delete(&models.PolicyRule{}, id).Error; errDelete != nil {
			return fmt.Errorf("delete rule %d: %w", id, errDelete)
		}
		return nil
	})
}

// Reorder assigns priorities 1..N to ids in the given order. Rules not listed keep their priority.
func (s *Store) Reorder(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: rule %d listed twice", ErrInvalidRule, id)
		}
		seen[id] = struct{}{}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.PolicyRule{}).Where("id IN ?", ids).Count(&count).Error; errCount != nil {
			return fmt.Errorf("lookup rules: %w", errCount)
		}
		if int(count) != len(ids) {
			return ErrRuleNotFound
		}
		for i, id := range ids {
			if errUpdate := tx.Model(&models.PolicyRule{}).
				Where("id = ?", id).
				UpdateColumn("priority", i+1).Error; errUpdate != nil {
				return fmt.Errorf("set priority of rule %d: %w", id, errUpdate)
			}
		}
		return nil
	})
}

// Resequence renumbers every rule to 1..N in evaluation order and reports how many rows changed.
func (s *Store) Resequence(ctx context.Context) (int, error) {
	changed := 0
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.PolicyRule
		if errFind := tx.Select("id", "priority").Order(orderClause).Find(&rows).Error; errFind != nil {
			return fmt.Errorf("list rules: %w", errFind)
		}
		for i, row := range rows {
			want := i + 1
			if row.Priority == want {
				continue
			}
			if errUpdate := tx.Model(&models.PolicyRule{}).
				Where("id = ?", row.ID).
				UpdateColumn("priority", want).Error; errUpdate != nil {
				return fmt.Errorf("set priority of rule %d: %w", row.ID, errUpdate)
			}
			changed++
		}
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return changed, nil
}

// RecordMatch increments match_count and stamps last_matched_at without touching updated_at.
func (s *Store) RecordMatch(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.PolicyRule{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"match_count":     gorm.Expr("match_count + ?", 1),
			"last_matched_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("record match for rule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func activeRules(tx *gorm.DB) ([]models.PolicyRule, error) {
	var rows []models.PolicyRule
	if errFind := tx.Where("is_active = ?", true).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("load active rules: %w", errFind)
	}
	return rows, nil
}

func checkShape(rule *models.PolicyRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if rule.AliasPattern == "" {
		return fmt.Errorf("%w: alias pattern is required", ErrInvalidRule)
	}
	if !validJSON(rule.OverrideServiceResponse) {
		return fmt.Errorf("%w: service override is not valid JSON", ErrInvalidRule)
	}
	if !validJSON(rule.OverrideParticipantResponse) {
		return fmt.Errorf("%w: participant override is not valid JSON", ErrInvalidRule)
	}
	return nil
}

func validJSON(raw datatypes.JSON) bool {
	if raw == nil {
		return true
	}
	return json.Valid(raw)
}
