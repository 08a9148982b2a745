package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetupRejectsUnknownValues(t *testing.T) {
	if _, errSetup := Setup(config.LoggingConfig{Level: "chatty"}); errSetup == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, errSetup := Setup(config.LoggingConfig{Format: "xml"}); errSetup == nil {
		t.Fatalf("expected invalid format error")
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "router.log")
	closer, errSetup := Setup(config.LoggingConfig{Level: "debug", Format: "json", File: file, MaxSizeMB: 1})
	if errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	defer func() {
		_ = closer.Close()
		log.SetOutput(&bytes.Buffer{})
	}()
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestRequestIDAndAccessLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	defer log.SetOutput(&bytes.Buffer{})

	router := gin.New()
	router.Use(RequestID(), AccessLog())
	var seen string
	router.GET("/policy", func(c *gin.Context) {
		seen = GinRequestID(c)
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policy?local_alias=r&token=abcdefghijkl", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated request id echoed, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}
	line := buf.String()
	if strings.Contains(line, "abcdefghijkl") || !strings.Contains(line, "abcd...ijkl") {
		t.Fatalf("expected masked token in access log, got %s", line)
	}

	req := httptest.NewRequest(http.MethodGet, "/policy", nil)
	req.Header.Set(RequestIDHeader, "pexip-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if seen != "pexip-123" {
		t.Fatalf("expected inbound request id reused, got %q", seen)
	}
}
