package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	"gorm.io/datatypes"
)

type captureSink struct {
	entries []*models.RequestLog
	err     error
}

func (c *captureSink) Record(_ context.Context, entry *models.RequestLog) error {
	c.entries = append(c.entries, entry)
	return c.err
}

func strPtr(v string) *string { return &v }

func inbound(path string) Inbound {
	return Inbound{
		Method:     http.MethodGet,
		Path:       path,
		RawQuery:   "local_alias=room-1&protocol=sip",
		Header:     http.Header{"Accept": {"application/json"}, "Connection": {"keep-alive"}, "Accept-Encoding": {"gzip"}},
		RequestID:  "req-1",
		LocalAlias: "room-1",
		Protocol:   "sip",
		SourceIP:   "10.0.0.5",
	}
}

func TestResolveOverride(t *testing.T) {
	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink})
	rule := &models.PolicyRule{
		ID:                          4,
		AlwaysContinueParticipant:   true,
		OverrideParticipantResponse: datatypes.JSON(`{"status":"success","action":"reject"}`),
		ServiceTargetURL:            strPtr("http://unused.invalid"),
	}

	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindParticipant, inbound("/policy/v1/participant/properties"))
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if resp.Status != http.StatusOK || !resp.Override || string(resp.Body) != `{"status":"success","action":"reject"}` {
		t.Fatalf("unexpected response %+v body=%s", resp, resp.Body)
	}
	if len(sink.entries) != 1 || !sink.entries[0].IsOverride || *sink.entries[0].RuleID != 4 {
		t.Fatalf("expected override logged, got %+v", sink.entries)
	}
	if sink.entries[0].RequestPath != "/policy/v1/participant/properties?local_alias=room-1&protocol=sip" {
		t.Fatalf("unexpected logged path %q", sink.entries[0].RequestPath)
	}
}

func TestResolveOverrideWithoutBodyUsesDefault(t *testing.T) {
	resolver := NewResolver(Options{})
	rule := &models.PolicyRule{ID: 1, AlwaysContinueService: true}
	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, inbound("/policy/v1/service/configuration"))
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if string(resp.Body) != rules.DefaultContinueResponse {
		t.Fatalf("expected default continue body, got %s", resp.Body)
	}
}

func TestResolveProxiesJSON(t *testing.T) {
	var gotPath, gotQuery, gotUser, gotPass, gotAccept string
	var gotAuth bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, gotAuth = r.BasicAuth()
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"success","result":{"service_type":"conference"}}`))
	}))
	defer upstream.Close()

	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink, Timeout: time.Second})
	rule := &models.PolicyRule{
		ID:                7,
		ServiceTargetURL:  strPtr(upstream.URL + "/"),
		BasicAuthUsername: strPtr("pexip"),
		BasicAuthPassword: strPtr("secret"),
	}

	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, inbound("/policy/v1/service/configuration"))
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if resp.Status != http.StatusAccepted || resp.Override {
		t.Fatalf("unexpected response %+v", resp)
	}
	if string(resp.Body) != `{"status":"success","result":{"service_type":"conference"}}` {
		t.Fatalf("expected verbatim relay, got %s", resp.Body)
	}
	if gotPath != "/policy/v1/service/configuration" || gotQuery != "local_alias=room-1&protocol=sip" {
		t.Fatalf("unexpected upstream request %s?%s", gotPath, gotQuery)
	}
	if !gotAuth || gotUser != "pexip" || gotPass != "secret" {
		t.Fatalf("expected basic auth forwarded, got %v %q %q", gotAuth, gotUser, gotPass)
	}
	if gotAccept != "application/json" {
		t.Fatalf("unexpected headers accept=%q", gotAccept)
	}
	if len(sink.entries) != 1 || sink.entries[0].ResponseStatus != http.StatusAccepted || sink.entries[0].IsOverride {
		t.Fatalf("expected proxied entry logged, got %+v", sink.entries)
	}
}

func TestResolveStripsHopByHopHeaders(t *testing.T) {
	seen := http.Header{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	in := inbound("/p")
	in.Header.Set("X-Trace", "abc")
	resolver := NewResolver(Options{})
	rule := &models.PolicyRule{ID: 1, ServiceTargetURL: strPtr(upstream.URL)}
	if _, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, in); errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if seen.Get("X-Trace") != "abc" {
		t.Fatalf("expected custom header forwarded")
	}
	if seen.Get("Authorization") != "" {
		t.Fatalf("expected no basic auth without both credentials")
	}
}

func TestResolveWrapsNonJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance <b>window</b>"))
	}))
	defer upstream.Close()

	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink})
	rule := &models.PolicyRule{ID: 2, ParticipantTargetURL: strPtr(upstream.URL)}
	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindParticipant, inbound("/policy/v1/participant/properties"))
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected upstream status preserved, got %d", resp.Status)
	}
	if string(resp.Body) != `{"raw":"maintenance <b>window</b>"}` {
		t.Fatalf("unexpected wrapped body %s", resp.Body)
	}
	if *sink.entries[0].ResponseBody != "maintenance <b>window</b>" {
		t.Fatalf("expected raw upstream text logged, got %q", *sink.entries[0].ResponseBody)
	}
}

func TestResolveUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink, Timeout: time.Second})
	rule := &models.PolicyRule{ID: 3, ServiceTargetURL: strPtr(target)}
	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, inbound("/policy/v1/service/configuration"))
	if resp != nil {
		t.Fatalf("expected no response, got %+v", resp)
	}
	var upstreamErr *UpstreamError
	if !errors.As(errResolve, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", errResolve)
	}
	if !strings.HasPrefix(string(upstreamErr.Body()), `{"error":"Upstream request failed: `) {
		t.Fatalf("unexpected envelope %s", upstreamErr.Body())
	}
	if len(sink.entries) != 1 || sink.entries[0].ResponseStatus != http.StatusBadGateway {
		t.Fatalf("expected 502 logged, got %+v", sink.entries)
	}
}

func TestResolveRejectsOversizedUpstreamBody(t *testing.T) {
	body := `{"status":"success","result":{"name":"` + strings.Repeat("x", 64) + `"}}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer upstream.Close()

	rule := &models.PolicyRule{ID: 4, ServiceTargetURL: strPtr(upstream.URL)}
	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink, MaxBodyBytes: 32})
	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, inbound("/policy/v1/service/configuration"))
	if resp != nil {
		t.Fatalf("expected no truncated response, got %s", resp.Body)
	}
	if !errors.Is(errResolve, ErrUpstreamBodyTooLarge) {
		t.Fatalf("expected ErrUpstreamBodyTooLarge, got %v", errResolve)
	}
	if len(sink.entries) != 1 || sink.entries[0].ResponseStatus != http.StatusBadGateway {
		t.Fatalf("expected 502 logged, got %+v", sink.entries)
	}

	exact := NewResolver(Options{MaxBodyBytes: int64(len(body))})
	resp, errResolve = exact.Resolve(context.Background(), rule, rules.KindService, inbound("/policy/v1/service/configuration"))
	if errResolve != nil {
		t.Fatalf("resolve at limit: %v", errResolve)
	}
	if string(resp.Body) != body {
		t.Fatalf("expected body relayed verbatim, got %s", resp.Body)
	}
}

func TestResolveUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	resolver := NewResolver(Options{Timeout: 50 * time.Millisecond})
	rule := &models.PolicyRule{ID: 3, ServiceTargetURL: strPtr(upstream.URL)}
	_, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, inbound("/x"))
	var upstreamErr *UpstreamError
	if !errors.As(errResolve, &upstreamErr) {
		t.Fatalf("expected timeout as UpstreamError, got %v", errResolve)
	}
}

func TestResolveNoTargetConfigured(t *testing.T) {
	sink := &captureSink{}
	resolver := NewResolver(Options{Sink: sink})
	rule := &models.PolicyRule{ID: 5, ServiceTargetURL: strPtr("http://service-only.invalid")}
	_, errResolve := resolver.Resolve(context.Background(), rule, rules.KindParticipant, inbound("/policy/v1/participant/properties"))
	if !errors.Is(errResolve, ErrNoTargetConfigured) {
		t.Fatalf("expected ErrNoTargetConfigured, got %v", errResolve)
	}
	if len(sink.entries) != 0 {
		t.Fatalf("expected nothing logged, got %d", len(sink.entries))
	}
}

func TestResolveSinkFailureDoesNotChangeResponse(t *testing.T) {
	sink := &captureSink{err: errors.New("disk full")}
	resolver := NewResolver(Options{Sink: sink, BodySnippetBytes: 4})
	in := inbound("/p")
	in.Body = "abcdefgh"
	rule := &models.PolicyRule{ID: 6, AlwaysContinueService: true}
	resp, errResolve := resolver.Resolve(context.Background(), rule, rules.KindService, in)
	if errResolve != nil || resp.Status != http.StatusOK {
		t.Fatalf("expected override despite sink failure, got %+v %v", resp, errResolve)
	}
	if *sink.entries[0].RequestBody != "abcd" {
		t.Fatalf("expected request body snippet, got %q", *sink.entries[0].RequestBody)
	}
}

func TestSanitizeHeaders(t *testing.T) {
	in := http.Header{
		"Host":            {"router.local"},
		"Connection":      {"close"},
		"Content-Length":  {"12"},
		"Accept-Encoding": {"gzip"},
		"X-Pexip-Node":    {"conf-1"},
	}
	out := sanitizeHeaders(in)
	if len(out) != 1 || out.Get("X-Pexip-Node") != "conf-1" {
		t.Fatalf("unexpected sanitized headers %v", out)
	}
	out.Set("X-Pexip-Node", "changed")
	if in.Get("X-Pexip-Node") != "conf-1" {
		t.Fatalf("expected copy, inbound header mutated")
	}
}
