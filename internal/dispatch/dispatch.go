// Package dispatch turns a matched rule into the policy response.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/requestlog"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout      = 10 * time.Second
	maxUpstreamBodySize = 4 << 20
)

// ErrNoTargetConfigured means the rule neither overrides nor proxies the requested kind.
var ErrNoTargetConfigured = errors.New("no target configured")

// ErrUpstreamBodyTooLarge means the upstream answer exceeded the relay limit.
var ErrUpstreamBodyTooLarge = errors.New("upstream response body too large")

// hopByHopHeaders are not forwarded upstream.
var hopByHopHeaders = map[string]struct{}{
	"host":            {},
	"connection":      {},
	"content-length":  {},
	"accept-encoding": {},
}

// UpstreamError is a transport failure talking to the upstream policy server.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Upstream request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Body is the JSON error envelope returned to the caller.
func (e *UpstreamError) Body() []byte {
	body, _ := json.Marshal(map[string]string{"error": e.Error()})
	return body
}

// Inbound is the policy request as received.
type Inbound struct {
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          string
	RequestID     string
	LocalAlias    string
	Protocol      string
	CallDirection string
	SourceIP      string
	SourceHost    string
}

// FullPath returns the path with its query string.
func (in Inbound) FullPath() string {
	if in.RawQuery == "" {
		return in.Path
	}
	return in.Path + "?" + in.RawQuery
}

// Response is the JSON answer for the caller.
type Response struct {
	Status   int
	Body     []byte
	Override bool
}

// Options configures a Resolver.
type Options struct {
	Client           *http.Client
	Timeout          time.Duration
	Sink             requestlog.Sink
	Metrics          *metrics.Collector
	BodySnippetBytes int
	MaxBodyBytes     int64 // Upstream response limit; defaults to 4 MiB.
}

// Resolver executes the dispatch decision for a matched rule.
type Resolver struct {
	client       *http.Client
	sink         requestlog.Sink
	metrics      *metrics.Collector
	snippetBytes int
	maxBodyBytes int64
}

// NewResolver builds a resolver. A nil client gets one with the configured timeout.
func NewResolver(opts Options) *Resolver {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxUpstreamBodySize
	}
	return &Resolver{
		client:       client,
		sink:         opts.Sink,
		metrics:      opts.Metrics,
		snippetBytes: opts.BodySnippetBytes,
		maxBodyBytes: maxBody,
	}
}

// Resolve answers in for rule. Overrides win over upstream targets. Transport failures return
// *UpstreamError and a rule with neither returns ErrNoTargetConfigured. Every answered outcome,
// including upstream failures, is recorded on the sink.
func (r *Resolver) Resolve(ctx context.Context, rule *models.PolicyRule, kind rules.Kind, in Inbound) (*Response, error) {
	if rule == nil {
		return nil, fmt.Errorf("dispatch: nil rule")
	}
	cfg := rules.ConfigFor(rule, kind)

	if cfg.AlwaysContinue {
		body := []byte(cfg.Override)
		if len(body) == 0 || !json.Valid(body) {
			body = []byte(rules.DefaultContinueResponse)
		}
		resp := &Response{Status: http.StatusOK, Body: body, Override: true}
		r.record(ctx, rule, kind, in, resp.Status, string(body), true)
		r.metrics.PolicyRequest(string(kind), metrics.OutcomeOverride)
		return resp, nil
	}

	if cfg.TargetURL == "" {
		r.metrics.PolicyRequest(string(kind), metrics.OutcomeNoTarget)
		return nil, ErrNoTargetConfigured
	}

	started := time.Now()
	status, raw, errUpstream := r.forward(ctx, rule, cfg.TargetURL, in)
	r.metrics.UpstreamLatency(string(kind), time.Since(started))
	if errUpstream != nil {
		upstreamErr := &UpstreamError{URL: cfg.TargetURL, Err: errUpstream}
		log.WithFields(log.Fields{
			"request_id": in.RequestID,
			"rule_id":    rule.ID,
			"target":     cfg.TargetURL,
		}).WithError(errUpstream).Warn("dispatch: upstream request failed")
		r.record(ctx, rule, kind, in, http.StatusBadGateway, string(upstreamErr.Body()), false)
		r.metrics.PolicyRequest(string(kind), metrics.OutcomeUpstream)
		return nil, upstreamErr
	}

	body := raw
	if !gjson.ValidBytes(raw) {
		wrapped, errMarshal := json.Marshal(map[string]string{"raw": string(raw)})
		if errMarshal != nil {
			return nil, fmt.Errorf("dispatch: wrap upstream body: %w", errMarshal)
		}
		body = wrapped
	}
	r.record(ctx, rule, kind, in, status, string(raw), false)
	r.metrics.PolicyRequest(string(kind), metrics.OutcomeProxied)
	return &Response{Status: status, Body: body}, nil
}

func (r *Resolver) forward(ctx context.Context, rule *models.PolicyRule, target string, in Inbound) (int, []byte, error) {
	upstreamURL := strings.TrimRight(target, "/") + in.Path
	if in.RawQuery != "" {
		upstreamURL += "?" + in.RawQuery
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if errReq != nil {
		return 0, nil, errReq
	}
	req.Header = sanitizeHeaders(in.Header)
	if user, pass := deref(rule.BasicAuthUsername), deref(rule.BasicAuthPassword); user != "" && pass != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, errDo := r.client.Do(req)
	if errDo != nil {
		return 0, nil, errDo
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("dispatch: close upstream body")
		}
	}()
	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, r.maxBodyBytes+1))
	if errRead != nil {
		return 0, nil, errRead
	}
	if int64(len(raw)) > r.maxBodyBytes {
		return 0, nil, fmt.Errorf("%w (limit %d bytes)", ErrUpstreamBodyTooLarge, r.maxBodyBytes)
	}
	return resp.StatusCode, raw, nil
}

func (r *Resolver) record(ctx context.Context, rule *models.PolicyRule, kind rules.Kind, in Inbound, status int, body string, override bool) {
	if r.sink == nil {
		return
	}
	ruleID := rule.ID
	entry := &models.RequestLog{
		RuleID:         &ruleID,
		Kind:           string(kind),
		RequestID:      in.RequestID,
		RequestMethod:  in.Method,
		RequestPath:    in.FullPath(),
		LocalAlias:     in.LocalAlias,
		ResponseStatus: status,
		ResponseBody:   &body,
		IsOverride:     override,
		Protocol:       in.Protocol,
		CallDirection:  in.CallDirection,
		SourceIP:       in.SourceIP,
		SourceHost:     in.SourceHost,
	}
	if in.Body != "" {
		snippet := requestlog.Truncate(in.Body, r.snippetBytes)
		entry.RequestBody = &snippet
	}
	if errRecord := r.sink.Record(context.WithoutCancel(ctx), entry); errRecord != nil {
		log.WithFields(log.Fields{"request_id": in.RequestID, "rule_id": rule.ID}).
			WithError(errRecord).Warn("dispatch: record request log failed")
		r.metrics.SinkFailure(string(kind))
	}
}

// sanitizeHeaders copies h without hop-by-hop headers.
func sanitizeHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if _, skip := hopByHopHeaders[strings.ToLower(key)]; skip {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
