package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/requestlog"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RequestLogHandler serves the policy request audit trail.
type RequestLogHandler struct {
	db *gorm.DB // Database handle for request log queries.
}

// NewRequestLogHandler constructs a request log handler.
func NewRequestLogHandler(db *gorm.DB) *RequestLogHandler {
	return &RequestLogHandler{db: db}
}

// requestLogQuery defines filters for the request log listing.
type requestLogQuery struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=50"`
	Alias      string `form:"alias"`       // Substring of local_alias.
	RuleID     string `form:"rule_id"`     // Exact rule id.
	Kind       string `form:"kind"`        // service or participant.
	SourceHost string `form:"source_host"` // Substring of source_host.
	From       string `form:"from"`        // RFC3339 or YYYY-MM-DD, inclusive.
	To         string `form:"to"`          // RFC3339 or YYYY-MM-DD, inclusive.
}

// List returns request log entries, newest first.
func (h *RequestLogHandler) List(c *gin.Context) {
	var q requestLogQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	filter := requestlog.Filter{
		Alias:          q.Alias,
		Kind:           strings.ToLower(strings.TrimSpace(q.Kind)),
		Protocols:      splitCSV(c.QueryArray("protocol")),
		CallDirections: splitCSV(c.QueryArray("call_direction")),
		SourceHost:     q.SourceHost,
		Page:           q.Page,
		PageSize:       q.PageSize,
	}
	if raw := strings.TrimSpace(q.RuleID); raw != "" {
		ruleID, errID := strconv.ParseUint(raw, 10, 64)
		if errID != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule_id"})
			return
		}
		filter.RuleID = &ruleID
	}
	if from, ok := parseTimeBound(q.From, false); ok {
		filter.From = from
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if to, ok := parseTimeBound(q.To, true); ok {
		filter.To = to
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	page, errList := requestlog.List(c.Request.Context(), h.db, filter)
	if errList != nil {
		log.WithError(errList).Error("admin: list request logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list request logs failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// parseTimeBound accepts RFC3339 or a plain date. A date used as an upper bound covers the whole day.
func parseTimeBound(raw string, end bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	if t, errParse := time.Parse(time.RFC3339, raw); errParse == nil {
		return t.UTC(), true
	}
	day, errParse := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if errParse != nil {
		return time.Time{}, false
	}
	if end {
		return day.Add(24*time.Hour - time.Nanosecond), true
	}
	return day, true
}
