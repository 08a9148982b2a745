package util

import (
	"path/filepath"
	"testing"
)

func TestMaskSensitiveQuery(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"local_alias=room-1&protocol=sip":       "local_alias=room-1&protocol=sip",
		"local_alias=room-1&pin=1234":           "local_alias=room-1&pin=1...4",
		"auth_token=abcdefghijkl&call_tag=x":    "auth_token=abcd...ijkl&call_tag=x",
		"admin_password=hunter2&remote_alias=y": "admin_password=hu...r2&remote_alias=y",
	}
	for raw, want := range cases {
		if got := MaskSensitiveQuery(raw); got != want {
			t.Fatalf("MaskSensitiveQuery(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestResolveWritable(t *testing.T) {
	t.Setenv("WRITABLE_PATH", "/srv/policy")
	if got := ResolveWritable("data/router.db"); got != filepath.Join("/srv/policy", "data/router.db") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := ResolveWritable("/abs/router.db"); got != "/abs/router.db" {
		t.Fatalf("expected absolute path untouched, got %q", got)
	}
	t.Setenv("WRITABLE_PATH", "")
	if got := ResolveWritable("logs/app.log"); got != "logs/app.log" {
		t.Fatalf("expected relative path untouched, got %q", got)
	}
}
