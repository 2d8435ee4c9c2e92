package state

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCache(t *testing.T) *ChunkCache {
	t.Helper()
	c, err := NewChunkCache(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewChunkCache() error: %v", err)
	}
	return c
}

func TestChunkCache_SaveLoadRoundTrip(t *testing.T) {
	c := newTestCache(t)
	payload := []byte(`{"items":[{"number":42}]}`)

	if err := c.Save("2026-03", payload); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := c.Load("2026-03")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Load() = %s, want byte-identical payload", got)
	}
}

func TestChunkCache_MissIsNotCached(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Load("never-saved")
	if !errors.Is(err, ErrNotCached) {
		t.Errorf("Load() error = %v, want ErrNotCached", err)
	}
}

func TestChunkCache_Clear(t *testing.T) {
	c := newTestCache(t)
	c.Save("2026-03", []byte("a"))
	c.Save("2026-04", []byte("b"))

	if err := c.Clear("2026-03"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, err := c.Load("2026-03"); !errors.Is(err, ErrNotCached) {
		t.Errorf("cleared key should be absent, got %v", err)
	}
	// Other keys are untouched.
	if got, err := c.Load("2026-04"); err != nil || string(got) != "b" {
		t.Errorf("unrelated key affected by Clear: %s, %v", got, err)
	}

	// Clearing an absent key is a no-op.
	if err := c.Clear("2026-03"); err != nil {
		t.Errorf("Clear() of absent key: %v", err)
	}
}

func TestChunkCache_ClearAll(t *testing.T) {
	c := newTestCache(t)
	c.Save("2026-03", []byte("a"))
	c.Save("2026-04", []byte("b"))

	if err := c.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error: %v", err)
	}
	for _, key := range []string{"2026-03", "2026-04"} {
		if _, err := c.Load(key); !errors.Is(err, ErrNotCached) {
			t.Errorf("key %s should be absent after ClearAll", key)
		}
	}
}

func TestSanitizeChunkKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-03", "2026-03"},
		{"ghes/2026-03", "ghes_2026-03"},
		{`org\repo\2026-03`, "org_repo_2026-03"},
	}
	for _, tt := range tests {
		if got := SanitizeChunkKey(tt.in); got != tt.want {
			t.Errorf("SanitizeChunkKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkCache_SanitizedKeysRoundTrip(t *testing.T) {
	c := newTestCache(t)
	key := "ghes/org:acme/2026-03"

	if err := c.Save(key, []byte("payload")); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := c.Load(key)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Load() = %s", got)
	}
}
