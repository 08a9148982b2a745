package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/config"
	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	"github.com/router-for-me/PolicyRouter/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// RuleHandler manages admin policy rule endpoints.
type RuleHandler struct {
	store   *rules.Store       // Rule persistence and validation.
	schema  *config.Schema     // Allowed protocol and direction tags.
	metrics *metrics.Collector // Write rejection counters.
}

// NewRuleHandler constructs a rule handler.
func NewRuleHandler(store *rules.Store, schema *config.Schema, collector *metrics.Collector) *RuleHandler {
	return &RuleHandler{store: store, schema: schema, metrics: collector}
}

// ruleRequest captures the editable fields of a rule.
type ruleRequest struct {
	Name           string   `json:"name"`
	AliasPattern   string   `json:"alias_pattern"`
	Protocols      []string `json:"protocols"`
	CallDirections []string `json:"call_directions"`
	SourceMatch    *string  `json:"source_match"`
	Priority       *int     `json:"priority"`  // Defaults to 100 on create, unchanged on update.
	IsActive       *bool    `json:"is_active"` // Defaults to true on create, unchanged on update.

	AlwaysContinueService   bool            `json:"always_continue_service"`
	OverrideServiceResponse json.RawMessage `json:"override_service_response"`
	ServiceTargetURL        *string         `json:"service_target_url"`

	AlwaysContinueParticipant   bool            `json:"always_continue_participant"`
	OverrideParticipantResponse json.RawMessage `json:"override_participant_response"`
	ParticipantTargetURL        *string         `json:"participant_target_url"`

	BasicAuthUsername *string `json:"basic_auth_username"`
	BasicAuthPassword *string `json:"basic_auth_password"`
}

// reorderRequest lists every rule id in the desired evaluation order.
type reorderRequest struct {
	IDs []uint64 `json:"ids"`
}

// List returns rules in evaluation order.
func (h *RuleHandler) List(c *gin.Context) {
	filter := rules.ListFilter{
		Protocols:      splitCSV(c.QueryArray("protocol")),
		CallDirections: splitCSV(c.QueryArray("call_direction")),
		ActiveOnly:     strings.EqualFold(strings.TrimSpace(c.Query("active")), "true"),
	}
	rows, errList := h.store.List(c.Request.Context(), filter)
	if errList != nil {
		log.WithError(errList).Error("admin: list rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list rules failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, ruleRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

// Get returns one rule by id.
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	row, errGet := h.store.Get(c.Request.Context(), id)
	if errGet != nil {
		h.writeError(c, errGet, "fetch rule failed")
		return
	}
	c.JSON(http.StatusOK, ruleRow(row))
}

// Create validates and inserts a rule.
func (h *RuleHandler) Create(c *gin.Context) {
	var body ruleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.checkTags(c, body) {
		return
	}
	row := &models.PolicyRule{Priority: rules.DefaultPriority, IsActive: true}
	body.applyTo(row)
	if errCreate := h.store.Create(c.Request.Context(), row); errCreate != nil {
		h.writeError(c, errCreate, "create rule failed")
		return
	}
	log.WithFields(log.Fields{"rule_id": row.ID, "rule": row.Name}).Info("policy rule created")
	c.JSON(http.StatusCreated, ruleRow(row))
}

// Update replaces a rule's fields and promotes it within its priority.
func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body ruleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.checkTags(c, body) {
		return
	}
	row, errGet := h.store.Get(c.Request.Context(), id)
	if errGet != nil {
		h.writeError(c, errGet, "fetch rule failed")
		return
	}
	body.applyTo(row)
	if errUpdate := h.store.Update(c.Request.Context(), id, row); errUpdate != nil {
		h.writeError(c, errUpdate, "update rule failed")
		return
	}
	log.WithFields(log.Fields{"rule_id": row.ID, "rule": row.Name}).Info("policy rule updated")
	c.JSON(http.StatusOK, ruleRow(row))
}

// Delete removes a rule and its logic; request logs keep a null reference.
func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if errDelete := h.store.Delete(c.Request.Context(), id); errDelete != nil {
		h.writeError(c, errDelete, "delete rule failed")
		return
	}
	log.WithField("rule_id", id).Info("policy rule deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Reorder assigns priorities 1..N following the submitted id order.
func (h *RuleHandler) Reorder(c *gin.Context) {
	var body reorderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}
	if errReorder := h.store.Reorder(c.Request.Context(), body.IDs); errReorder != nil {
		h.writeError(c, errReorder, "reorder rules failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reordered": len(body.IDs)})
}

// Resequence rewrites priorities to 1..N in the current evaluation order.
func (h *RuleHandler) Resequence(c *gin.Context) {
	changed, errResequence := h.store.Resequence(c.Request.Context())
	if errResequence != nil {
		log.WithError(errResequence).Error("admin: resequence rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resequence rules failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (h *RuleHandler) checkTags(c *gin.Context, body ruleRequest) bool {
	if unknown := h.schema.UnknownProtocols(body.Protocols); len(unknown) > 0 {
		h.metrics.RuleRejected("unknown_tag")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown protocols", "values": unknown})
		return false
	}
	if unknown := h.schema.UnknownCallDirections(body.CallDirections); len(unknown) > 0 {
		h.metrics.RuleRejected("unknown_tag")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown call directions", "values": unknown})
		return false
	}
	return true
}

func (h *RuleHandler) writeError(c *gin.Context, err error, fallback string) {
	var overlap *rules.OverlapError
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
	case errors.As(err, &overlap):
		h.metrics.RuleRejected("overlap")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "conflicting_rules": overlap.ConflictingNames})
	case errors.Is(err, rules.ErrInvalidPattern):
		h.metrics.RuleRejected("invalid_pattern")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, rules.ErrInvalidRule):
		h.metrics.RuleRejected("invalid_rule")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("admin: " + fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (r ruleRequest) applyTo(row *models.PolicyRule) {
	row.Name = r.Name
	row.AliasPattern = r.AliasPattern
	row.Protocols = rules.EncodeTags(r.Protocols)
	row.CallDirections = rules.EncodeTags(r.CallDirections)
	row.SourceMatch = r.SourceMatch
	if r.Priority != nil {
		row.Priority = *r.Priority
	}
	if r.IsActive != nil {
		row.IsActive = *r.IsActive
	}
	row.AlwaysContinueService = r.AlwaysContinueService
	row.OverrideServiceResponse = datatypes.JSON(r.OverrideServiceResponse)
	row.ServiceTargetURL = r.ServiceTargetURL
	row.AlwaysContinueParticipant = r.AlwaysContinueParticipant
	row.OverrideParticipantResponse = datatypes.JSON(r.OverrideParticipantResponse)
	row.ParticipantTargetURL = r.ParticipantTargetURL
	row.BasicAuthUsername = r.BasicAuthUsername
	r.applyPassword(row)
}

// applyPassword treats the upstream password as write-only. An absent field or the masked
// value echoed back by ruleRow keeps the stored password; an empty string clears it.
func (r ruleRequest) applyPassword(row *models.PolicyRule) {
	if r.BasicAuthPassword == nil {
		return
	}
	password := *r.BasicAuthPassword
	if password == "" {
		row.BasicAuthPassword = nil
		return
	}
	if row.BasicAuthPassword != nil && password == util.HideSecret(*row.BasicAuthPassword) {
		return
	}
	row.BasicAuthPassword = &password
}

// ruleRow renders a rule; the upstream password is never echoed in full.
func ruleRow(row *models.PolicyRule) gin.H {
	var password any
	if row.BasicAuthPassword != nil {
		password = util.HideSecret(*row.BasicAuthPassword)
	}
	var lastMatched any
	if row.LastMatchedAt != nil {
		lastMatched = row.LastMatchedAt.UTC().Format(time.RFC3339)
	}
	return gin.H{
		"id":                            row.ID,
		"name":                          row.Name,
		"alias_pattern":                 row.AliasPattern,
		"protocols":                     nonNilTags(rules.DecodeTags(row.Protocols)),
		"call_directions":               nonNilTags(rules.DecodeTags(row.CallDirections)),
		"source_match":                  row.SourceMatch,
		"priority":                      row.Priority,
		"is_active":                     row.IsActive,
		"always_continue_service":       row.AlwaysContinueService,
		"override_service_response":     rawOrNil(row.OverrideServiceResponse),
		"service_target_url":            row.ServiceTargetURL,
		"always_continue_participant":   row.AlwaysContinueParticipant,
		"override_participant_response": rawOrNil(row.OverrideParticipantResponse),
		"participant_target_url":        row.ParticipantTargetURL,
		"basic_auth_username":           row.BasicAuthUsername,
		"basic_auth_password":           password,
		"match_count":                   row.MatchCount,
		"last_matched_at":               lastMatched,
		"created_at":                    row.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":                    row.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func rawOrNil(raw datatypes.JSON) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// parseID reads the :id path parameter, answering 400 when it is not a positive integer.
func parseID(c *gin.Context) (uint64, bool) {
	id, errID := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errID != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// splitCSV accepts both repeated and comma separated query values.
func splitCSV(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
