package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/logic"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	log "github.com/sirupsen/logrus"
)

const maxEvaluatePayload = 64 << 10

// LogicHandler manages advanced condition logic attached to rules.
type LogicHandler struct {
	store *rules.Store
	logic *logic.Service
}

// NewLogicHandler constructs a logic handler.
func NewLogicHandler(store *rules.Store, service *logic.Service) *LogicHandler {
	return &LogicHandler{store: store, logic: service}
}

// Get returns the logic of a rule for one kind.
func (h *LogicHandler) Get(c *gin.Context) {
	id, kind, ok := parseRuleKind(c)
	if !ok {
		return
	}
	if _, errGet := h.store.Get(c.Request.Context(), id); errGet != nil {
		h.writeError(c, errGet, "fetch rule failed")
		return
	}
	row, errLogic := h.logic.Get(c.Request.Context(), id, kind)
	if errLogic != nil {
		h.writeError(c, errLogic, "fetch logic failed")
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "logic not found"})
		return
	}
	c.JSON(http.StatusOK, logicRow(row))
}

// Put creates or replaces the logic of a rule for one kind.
func (h *LogicHandler) Put(c *gin.Context) {
	id, kind, ok := parseRuleKind(c)
	if !ok {
		return
	}
	var body logic.Input
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errPut := h.logic.Put(c.Request.Context(), id, kind, body)
	if errPut != nil {
		h.writeError(c, errPut, "save logic failed")
		return
	}
	c.JSON(http.StatusOK, logicRow(row))
}

// Evaluate runs the stored logic against the posted payload without dispatching anything.
func (h *LogicHandler) Evaluate(c *gin.Context) {
	id, kind, ok := parseRuleKind(c)
	if !ok {
		return
	}
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxEvaluatePayload))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	rule, errGet := h.store.Get(c.Request.Context(), id)
	if errGet != nil {
		h.writeError(c, errGet, "fetch rule failed")
		return
	}
	decision, errEval := h.logic.Evaluate(c.Request.Context(), rule, kind, json.RawMessage(payload))
	if errEval != nil {
		h.writeError(c, errEval, "evaluate logic failed")
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Decisions pages the recorded evaluations of a rule.
func (h *LogicHandler) Decisions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	out, errList := h.logic.ListDecisions(c.Request.Context(), id, page, size)
	if errList != nil {
		h.writeError(c, errList, "list decisions failed")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *LogicHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
	case errors.Is(err, logic.ErrInvalidLogic):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("admin: " + fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseRuleKind(c *gin.Context) (uint64, rules.Kind, bool) {
	id, ok := parseID(c)
	if !ok {
		return 0, "", false
	}
	kind, errKind := rules.ParseKind(c.Param("kind"))
	if errKind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return 0, "", false
	}
	return id, kind, true
}

func logicRow(row *models.PolicyLogic) gin.H {
	return gin.H{
		"id":          row.ID,
		"rule_id":     row.RuleID,
		"kind":        row.Kind,
		"enabled":     row.Enabled,
		"conditions":  rawOrNil(row.Conditions),
		"response":    rawOrNil(row.Response),
		"description": row.Description,
		"updated_at":  row.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
