package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/dispatch"
	"github.com/router-for-me/PolicyRouter/internal/logging"
	"github.com/router-for-me/PolicyRouter/internal/matcher"
	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	log "github.com/sirupsen/logrus"
)

const maxInboundBody = 64 << 10

// PolicyHandler serves the Pexip external policy endpoints.
type PolicyHandler struct {
	engine   *matcher.Engine
	resolver *dispatch.Resolver
	metrics  *metrics.Collector
}

// NewPolicyHandler builds a policy handler.
func NewPolicyHandler(engine *matcher.Engine, resolver *dispatch.Resolver, collector *metrics.Collector) *PolicyHandler {
	return &PolicyHandler{engine: engine, resolver: resolver, metrics: collector}
}

// ServiceConfiguration handles GET /policy/v1/service/configuration.
func (h *PolicyHandler) ServiceConfiguration(c *gin.Context) {
	h.handle(c, rules.KindService)
}

// ParticipantProperties handles GET /policy/v1/participant/properties.
func (h *PolicyHandler) ParticipantProperties(c *gin.Context) {
	h.handle(c, rules.KindParticipant)
}

func (h *PolicyHandler) handle(c *gin.Context, kind rules.Kind) {
	ctx := c.Request.Context()
	query := c.Request.URL.Query()
	in := dispatch.Inbound{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		RawQuery:      c.Request.URL.RawQuery,
		Header:        c.Request.Header,
		Body:          readBody(c.Request),
		RequestID:     logging.GinRequestID(c),
		LocalAlias:    query.Get("local_alias"),
		Protocol:      query.Get("protocol"),
		CallDirection: query.Get("call_direction"),
		SourceIP:      c.ClientIP(),
		SourceHost:    SourceHost(c.Request),
	}

	rule, errMatch := h.engine.FindMatch(ctx, matcher.Request{
		Kind:          kind,
		Alias:         in.LocalAlias,
		Protocol:      in.Protocol,
		CallDirection: in.CallDirection,
		SourceIP:      in.SourceIP,
		SourceHost:    in.SourceHost,
	})
	if errMatch != nil {
		log.WithError(errMatch).WithField("request_id", in.RequestID).Error("policy match failed")
		h.metrics.PolicyRequest(string(kind), metrics.OutcomeEngineFail)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Policy evaluation failed"})
		return
	}
	if rule == nil {
		h.metrics.PolicyRequest(string(kind), metrics.OutcomeNoMatch)
		c.JSON(http.StatusNotFound, gin.H{"error": "No matching rule"})
		return
	}

	resp, errResolve := h.resolver.Resolve(ctx, rule, kind, in)
	if errResolve != nil {
		var upstreamErr *dispatch.UpstreamError
		switch {
		case errors.As(errResolve, &upstreamErr):
			c.Data(http.StatusBadGateway, "application/json", upstreamErr.Body())
		case errors.Is(errResolve, dispatch.ErrNoTargetConfigured):
			c.JSON(http.StatusNotFound, gin.H{"error": "No target configured"})
		default:
			log.WithError(errResolve).WithField("rule_id", rule.ID).Error("policy dispatch failed")
			h.metrics.PolicyRequest(string(kind), metrics.OutcomeEngineFail)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Policy evaluation failed"})
		}
		return
	}
	c.Data(resp.Status, "application/json", resp.Body)
}

// SourceHost is the X-Forwarded-Host header, else "".
func SourceHost(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-Host")
	first, _, _ := strings.Cut(forwarded, ",")
	return strings.TrimSpace(first)
}

func readBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	raw, errRead := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if errRead != nil {
		return ""
	}
	return string(raw)
}
