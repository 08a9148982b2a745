// Package requestlog records the outcome of every answered policy request.
package requestlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/gorm"
)

// Sink persists one audit entry.
type Sink interface {
	Record(ctx context.Context, entry *models.RequestLog) error
}

// GormSink inserts entries into the policy_request_logs table.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink builds a table-backed sink.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Record implements Sink.
func (s *GormSink) Record(ctx context.Context, entry *models.RequestLog) error {
	if s == nil || s.db == nil {
		return errors.New("requestlog: nil db")
	}
	if entry == nil {
		return nil
	}
	if errCreate := s.db.WithContext(ctx).Create(entry).Error; errCreate != nil {
		return fmt.Errorf("requestlog: insert: %w", errCreate)
	}
	return nil
}

// MultiSink fans an entry out to every sink.
type MultiSink []Sink

// Record tries every sink and returns the first error.
func (m MultiSink) Record(ctx context.Context, entry *models.RequestLog) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if errRecord := sink.Record(ctx, entry); errRecord != nil && first == nil {
			first = errRecord
		}
	}
	return first
}

// Truncate caps s at max bytes without splitting a UTF-8 sequence. max <= 0 disables the cap.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
