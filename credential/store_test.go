package credential

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Pair{AccessToken: "a1", RefreshToken: "r1"})

	if tok, _ := s.AccessToken(ctx); tok != "a1" {
		t.Fatalf("access = %q", tok)
	}
	if err := s.Save(ctx, Pair{AccessToken: "a2", RefreshToken: "r2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if tok, _ := s.RefreshToken(ctx); tok != "r2" {
		t.Fatalf("refresh = %q", tok)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !s.Pair().IsZero() {
		t.Fatalf("store should be empty after Clear, got %+v", s.Pair())
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Pair{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Save(ctx, Pair{AccessToken: "a", RefreshToken: "r"})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.AccessToken(ctx)
		}()
	}
	wg.Wait()
	if s.Pair().AccessToken != "a" {
		t.Fatalf("unexpected pair %+v", s.Pair())
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "nested", "creds.yaml"), "")
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if tok, _ := s.RefreshToken(context.Background()); tok != "" {
		t.Fatalf("expected empty refresh token, got %q", tok)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "creds.yaml")

	s, err := OpenFileStore(path, "")
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if err := s.Save(ctx, Pair{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(raw, []byte("refresh_token: r1")) {
		t.Fatalf("expected plain YAML, got:\n%s", raw)
	}
	info, _ := os.Stat(path)
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	again, err := OpenFileStore(path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tok, _ := again.AccessToken(ctx); tok != "a1" {
		t.Fatalf("access = %q", tok)
	}

	if err := again.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file should be removed, stat err=%v", err)
	}
	if err := again.Clear(ctx); err != nil {
		t.Fatalf("Clear on missing file: %v", err)
	}
}

func TestFileStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.enc")

	s, err := OpenFileStore(path, "correct horse")
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if err := s.Save(ctx, Pair{AccessToken: "secret-access", RefreshToken: "secret-refresh"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, []byte("secret-refresh")) {
		t.Fatalf("token leaked to disk in plaintext")
	}

	again, err := OpenFileStore(path, "correct horse")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tok, _ := again.RefreshToken(ctx); tok != "secret-refresh" {
		t.Fatalf("refresh = %q", tok)
	}

	if _, err := OpenFileStore(path, "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, err := OpenFileStore(path, ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestOpenFileStore_EmptyPath(t *testing.T) {
	if _, err := OpenFileStore("  ", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen_RejectsGarbage(t *testing.T) {
	if _, err := open("x", []byte("not sealed")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
	if _, err := open("x", []byte(sealPrefix+"version: 9\n")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}
