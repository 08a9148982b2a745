package requestlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/db"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Filter narrows a request log listing. Zero values do not filter.
type Filter struct {
	Alias          string // Case-insensitive substring of local_alias.
	RuleID         *uint64
	Kind           string
	Protocols      []string
	CallDirections []string
	SourceHost     string // Case-insensitive substring of source_host.
	From           time.Time
	To             time.Time
	Page           int
	PageSize       int
}

// Page is one page of log entries, newest first.
type Page struct {
	Items    []models.RequestLog `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// List queries the request log table.
func List(ctx context.Context, conn *gorm.DB, filter Filter) (*Page, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	q := conn.WithContext(ctx).Model(&models.RequestLog{})
	if alias := strings.TrimSpace(filter.Alias); alias != "" {
		q = q.Where(db.CaseInsensitiveLikeExpr(conn, "local_alias"), db.ContainsPattern(conn, alias))
	}
	if filter.RuleID != nil {
		q = q.Where("rule_id = ?", *filter.RuleID)
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if protocols := nonEmpty(filter.Protocols); len(protocols) > 0 {
		q = q.Where("protocol IN ?", protocols)
	}
	if directions := nonEmpty(filter.CallDirections); len(directions) > 0 {
		q = q.Where("call_direction IN ?", directions)
	}
	if host := strings.TrimSpace(filter.SourceHost); host != "" {
		q = q.Where(db.CaseInsensitiveLikeExpr(conn, "source_host"), db.ContainsPattern(conn, host))
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at <= ?", filter.To.UTC())
	}

	var total int64
	if errCount := q.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		return nil, fmt.Errorf("requestlog: count: %w", errCount)
	}
	var items []models.RequestLog
	if errFind := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&items).Error; errFind != nil {
		return nil, fmt.Errorf("requestlog: list: %w", errFind)
	}
	return &Page{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
