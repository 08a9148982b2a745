package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/PolicyRouter/internal/db"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/rules"
)

type staticSource struct {
	rules     []models.PolicyRule
	recorded  []uint64
	recordErr error
}

func (s *staticSource) ListActiveOrdered(context.Context) ([]models.PolicyRule, error) {
	out := make([]models.PolicyRule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *staticSource) RecordMatch(_ context.Context, id uint64) error {
	s.recorded = append(s.recorded, id)
	return s.recordErr
}

func strPtr(v string) *string { return &v }

func newStore(t *testing.T) *rules.Store {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return rules.NewStore(conn, rules.NewValidator(5))
}

func TestFindMatchPrefersLowestPriorityRegardlessOfInsertOrder(t *testing.T) {
	ctx := context.Background()
	for _, reversed := range []bool{false, true} {
		store := newStore(t)
		srcA, srcB := "10.0.0", "10.0.0.1"
		low := &models.PolicyRule{Name: "low", AliasPattern: `room-\d+`, Priority: 10, IsActive: true, SourceMatch: &srcA}
		high := &models.PolicyRule{Name: "high", AliasPattern: `room-\d+`, Priority: 20, IsActive: true, SourceMatch: &srcB}
		order := []*models.PolicyRule{low, high}
		if reversed {
			order = []*models.PolicyRule{high, low}
		}
		for _, rule := range order {
			if errCreate := store.Create(ctx, rule); errCreate != nil {
				t.Fatalf("create %s: %v", rule.Name, errCreate)
			}
		}

		engine := NewEngine(store)
		got, errMatch := engine.FindMatch(ctx, Request{Kind: rules.KindService, Alias: "room-7", SourceIP: "10.0.0.1"})
		if errMatch != nil {
			t.Fatalf("find match: %v", errMatch)
		}
		if got == nil || got.Name != "low" {
			t.Fatalf("reversed=%v: expected low, got %+v", reversed, got)
		}
	}
}

func TestFindMatchTieBreaksOnNewestUpdate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srcA, srcB := "edge", "edge-west"
	first := &models.PolicyRule{Name: "first", AliasPattern: `^meet`, Priority: 5, IsActive: true, SourceMatch: &srcA}
	second := &models.PolicyRule{Name: "second", AliasPattern: `^meet`, Priority: 5, IsActive: true, SourceMatch: &srcB}
	for _, rule := range []*models.PolicyRule{first, second} {
		if errCreate := store.Create(ctx, rule); errCreate != nil {
			t.Fatalf("create: %v", errCreate)
		}
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.DB().Model(&models.PolicyRule{}).Where("id = ?", first.ID).UpdateColumn("updated_at", base.Add(time.Hour))
	store.DB().Model(&models.PolicyRule{}).Where("id = ?", second.ID).UpdateColumn("updated_at", base)

	engine := NewEngine(store)
	got, errMatch := engine.FindMatch(ctx, Request{Alias: "meeting", SourceHost: "edge-west.example.com"})
	if errMatch != nil {
		t.Fatalf("find match: %v", errMatch)
	}
	if got == nil || got.Name != "first" {
		t.Fatalf("expected most recently updated rule, got %+v", got)
	}

	stored, _ := store.Get(ctx, first.ID)
	if stored.MatchCount != 1 {
		t.Fatalf("expected match recorded, got %d", stored.MatchCount)
	}
}

func TestFindMatchSourceFallThrough(t *testing.T) {
	source := &staticSource{rules: []models.PolicyRule{
		{ID: 1, Name: "restricted", AliasPattern: `room-\d+`, IsActive: true, SourceMatch: strPtr("10.0.0.10")},
		{ID: 2, Name: "open", AliasPattern: `room-\d+`, IsActive: true},
	}}
	engine := NewEngine(source)

	got, errMatch := engine.FindMatch(context.Background(), Request{Alias: "room-1", SourceIP: "10.0.0.20"})
	if errMatch != nil {
		t.Fatalf("find match: %v", errMatch)
	}
	if got == nil || got.ID != 2 {
		t.Fatalf("expected open rule, got %+v", got)
	}
	if len(source.recorded) != 1 || source.recorded[0] != 2 {
		t.Fatalf("expected telemetry for rule 2 only, got %v", source.recorded)
	}
}

func TestFindMatchSkipsInvalidPatterns(t *testing.T) {
	source := &staticSource{rules: []models.PolicyRule{
		{ID: 1, Name: "broken", AliasPattern: `room-(`, IsActive: true},
		{ID: 2, Name: "ok", AliasPattern: `room`, IsActive: true},
	}}
	got, errMatch := NewEngine(source).FindMatch(context.Background(), Request{Alias: "room-1"})
	if errMatch != nil {
		t.Fatalf("find match: %v", errMatch)
	}
	if got == nil || got.ID != 2 {
		t.Fatalf("expected broken rule skipped, got %+v", got)
	}
}

func TestFindMatchNoSurvivor(t *testing.T) {
	source := &staticSource{rules: []models.PolicyRule{
		{ID: 1, Name: "vmr", AliasPattern: `^vmr-`, IsActive: true},
	}}
	got, errMatch := NewEngine(source).FindMatch(context.Background(), Request{Alias: "room-1"})
	if errMatch != nil || got != nil {
		t.Fatalf("expected no match, got %+v %v", got, errMatch)
	}
	if len(source.recorded) != 0 {
		t.Fatalf("expected no telemetry, got %v", source.recorded)
	}
}

func TestFindMatchToleratesTelemetryFailure(t *testing.T) {
	source := &staticSource{
		rules:     []models.PolicyRule{{ID: 3, Name: "r", AliasPattern: `.`, IsActive: true}},
		recordErr: errors.New("database is locked"),
	}
	got, errMatch := NewEngine(source).FindMatch(context.Background(), Request{Alias: "x"})
	if errMatch != nil || got == nil || got.ID != 3 {
		t.Fatalf("expected match despite telemetry failure, got %+v %v", got, errMatch)
	}
}

func TestAcceptsFilters(t *testing.T) {
	rule := &models.PolicyRule{
		AliasPattern:   `conf`,
		IsActive:       true,
		Protocols:      rules.EncodeTags([]string{"sip", "webrtc"}),
		CallDirections: rules.EncodeTags([]string{"dial_in"}),
		SourceMatch:    strPtr(" Pexip-Node "),
	}
	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"all match via host substring", Request{Alias: "my-conference", Protocol: "sip", CallDirection: "dial_in", SourceHost: "eu.pexip-node.local"}, true},
		{"empty request values skip tag filters", Request{Alias: "conf", SourceHost: "PEXIP-NODE"}, true},
		{"protocol mismatch", Request{Alias: "conf", Protocol: "h323", SourceHost: "pexip-node"}, false},
		{"direction mismatch", Request{Alias: "conf", CallDirection: "dial_out", SourceHost: "pexip-node"}, false},
		{"source mismatch", Request{Alias: "conf", SourceIP: "10.0.0.1"}, false},
		{"alias mismatch", Request{Alias: "room", SourceHost: "pexip-node"}, false},
	}
	for _, tc := range cases {
		if got := Accepts(rule, tc.req); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}

	inactive := *rule
	inactive.IsActive = false
	if Accepts(&inactive, Request{Alias: "conf", SourceHost: "pexip-node"}) {
		t.Fatalf("inactive rule must not match")
	}
}

func TestSourceAcceptsIPSubstring(t *testing.T) {
	if !sourceAccepts(strPtr("10.0.0."), "10.0.0.99", "") {
		t.Fatalf("expected IP prefix fragment to match")
	}
	if sourceAccepts(strPtr("10.0.0.10"), "", "") {
		t.Fatalf("expected restricted rule to reject unknown caller")
	}
	if !sourceAccepts(strPtr("none"), "", "") {
		t.Fatalf("expected sentinel source to be unrestricted")
	}
}
