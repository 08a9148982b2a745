package logging

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/PolicyRouter/internal/util"
	log "github.com/sirupsen/logrus"
)

// RequestIDHeader carries the correlation id.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "requestID"

// RequestID reuses a sane inbound X-Request-ID or assigns a new UUID, echoing it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		SetGinRequestID(c, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// SetGinRequestID stores id on the gin context.
func SetGinRequestID(c *gin.Context, id string) {
	if c == nil {
		return
	}
	c.Set(requestIDKey, id)
}

// GinRequestID returns the id stored by RequestID, or "".
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(requestIDKey); ok {
		if id, okString := v.(string); okString {
			return id
		}
	}
	return ""
}

// AccessLog writes one line per request with credential-like query values masked.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery); raw != "" {
			path += "?" + raw
		}
		entry := log.WithFields(log.Fields{
			"request_id": GinRequestID(c),
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"client_ip":  c.ClientIP(),
			"latency":    time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request completed")
		case status >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}
