package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/router-for-me/PolicyRouter/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewStore(conn)
}

func TestPutRefreshesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, ok := store.Int(RequestLogRetentionDaysKey); ok {
		t.Fatalf("expected no value before put")
	}
	if errPut := store.Put(ctx, RequestLogRetentionDaysKey, json.RawMessage(`7`)); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	days, ok := store.Int(RequestLogRetentionDaysKey)
	if !ok || days != 7 {
		t.Fatalf("expected 7, got %d %v", days, ok)
	}

	if errPut := store.Put(ctx, RequestLogRetentionDaysKey, json.RawMessage(`"14"`)); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	days, ok = store.Int(RequestLogRetentionDaysKey)
	if !ok || days != 14 {
		t.Fatalf("expected string value parsed as 14, got %d %v", days, ok)
	}
	if store.UpdatedAt().IsZero() {
		t.Fatalf("expected updated_at to be set")
	}

	reloaded := NewStore(store.db)
	if errRefresh := reloaded.Refresh(ctx); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if got := reloaded.All(); string(got[RequestLogRetentionDaysKey]) != `"14"` {
		t.Fatalf("expected persisted value, got %v", got)
	}
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	store := newTestStore(t)
	if errPut := store.Put(context.Background(), RequestLogRetentionDaysKey, json.RawMessage(`{`)); errPut == nil {
		t.Fatalf("expected invalid JSON to be rejected")
	}
}

func TestParseIntRejectsFractions(t *testing.T) {
	if _, ok := parseInt(json.RawMessage(`1.5`)); ok {
		t.Fatalf("expected fraction rejected")
	}
	if _, ok := parseInt(json.RawMessage(`null`)); ok {
		t.Fatalf("expected null rejected")
	}
	if IsKnownKey("SITE_NAME") || !IsKnownKey(DecisionLogRetentionDaysKey) {
		t.Fatalf("unexpected known key result")
	}
}
