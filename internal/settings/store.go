package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshot holds the in-memory DB config values.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

// Store caches the settings table in memory. Reads never hit the database; Refresh and Put
// replace the cached snapshot.
type Store struct {
	db      *gorm.DB
	current atomic.Value // stores snapshot
}

// NewStore builds an empty store; call Refresh at startup.
func NewStore(db *gorm.DB) *Store {
	s := &Store{db: db}
	s.current.Store(snapshot{values: map[string]json.RawMessage{}})
	return s
}

// Refresh reloads all settings from the database.
func (s *Store) Refresh(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := s.db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	latest := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if row.UpdatedAt.UTC().After(latest) {
			latest = row.UpdatedAt.UTC()
		}
	}
	s.store(latest, values)
	return nil
}

// Put upserts one setting and refreshes the snapshot.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	if !json.Valid(value) {
		return fmt.Errorf("settings: value for %s is not valid JSON", key)
	}
	row := models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("settings: save %s: %w", key, errUpsert)
	}
	return s.Refresh(ctx)
}

// All returns a copy of every cached value.
func (s *Store) All() map[string]json.RawMessage {
	cfg := s.load()
	out := make(map[string]json.RawMessage, len(cfg.values))
	for k, v := range cfg.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// UpdatedAt returns the newest setting timestamp.
func (s *Store) UpdatedAt() time.Time {
	return s.load().updatedAt
}

// Value returns a copy of the raw value for key.
func (s *Store) Value(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	raw, ok := s.load().values[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

// Int returns the integer value of key, accepting JSON numbers and numeric strings.
func (s *Store) Int(key string) (int, bool) {
	raw, ok := s.Value(key)
	if !ok {
		return 0, false
	}
	return parseInt(raw)
}

func (s *Store) store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		next[k] = append(json.RawMessage(nil), v...)
	}
	s.current.Store(snapshot{updatedAt: updatedAt, values: next})
}

func (s *Store) load() snapshot {
	if s == nil {
		return snapshot{values: map[string]json.RawMessage{}}
	}
	cfg, ok := s.current.Load().(snapshot)
	if !ok || cfg.values == nil {
		return snapshot{values: map[string]json.RawMessage{}}
	}
	return cfg
}

func parseInt(raw json.RawMessage) (int, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, false
	}
	var number float64
	if errUnmarshal := json.Unmarshal(raw, &number); errUnmarshal == nil {
		if number != math.Trunc(number) || number > math.MaxInt32 || number < math.MinInt32 {
			return 0, false
		}
		return int(number), true
	}
	var text string
	if errUnmarshal := json.Unmarshal(raw, &text); errUnmarshal != nil {
		return 0, false
	}
	parsed, errParse := strconv.Atoi(strings.TrimSpace(text))
	if errParse != nil {
		return 0, false
	}
	return parsed, true
}
