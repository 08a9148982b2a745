package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/settings"
	log "github.com/sirupsen/logrus"
)

// SettingsHandler exposes runtime settings.
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler constructs a settings handler.
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// putSettingRequest carries one JSON value.
type putSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// List returns the cached settings and the latest change time.
func (h *SettingsHandler) List(c *gin.Context) {
	var updatedAt any
	if ts := h.store.UpdatedAt(); !ts.IsZero() {
		updatedAt = ts.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":   h.store.All(),
		"known_keys": settings.KnownKeys,
		"updated_at": updatedAt,
	})
}

// Put stores one known setting.
func (h *SettingsHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if !settings.IsKnownKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting"})
		return
	}
	var body putSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	value := bytes.TrimSpace(body.Value)
	if len(value) == 0 || !json.Valid(value) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}
	if errPut := h.store.Put(c.Request.Context(), key, value); errPut != nil {
		log.WithError(errPut).WithField("key", key).Error("admin: save setting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
		return
	}
	log.WithField("key", key).Info("setting updated")
	c.JSON(http.StatusOK, gin.H{"key": key, "value": json.RawMessage(value)})
}
