package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/klinners/klinners_web/internal/identity"
	"github.com/klinners/klinners_web/internal/logging"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client, "test:"), mr
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	redisBackend, _ := newRedisBackend(t)
	out := map[string]Backend{
		"memory": NewMemory(),
		"file":   NewFile(filepath.Join(t.TempDir(), "nested", "storage.json")),
		"redis":  redisBackend,
	}
	if pg := newPostgresBackend(t); pg != nil {
		out["postgres"] = pg
	}
	return out
}

// newPostgresBackend returns nil unless TEST_DATABASE_URL points at a
// disposable database.
func newPostgresBackend(t *testing.T) *PostgresBackend {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		return nil
	}
	ctx := context.Background()
	pool, err := DialPostgres(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	backend := NewPostgres(pool, "test-"+t.Name())
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM client_storage WHERE namespace = $1", backend.namespace)
	})
	return backend
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := b.Set(ctx, "k", "v1"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := b.Set(ctx, "k", "v2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := b.Get(ctx, "k")
			if err != nil || got != "v2" {
				t.Fatalf("get = %q, %v; want v2", got, err)
			}
			if err := b.Delete(ctx, "k", "never-set"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestNoopBackendNeverStores(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewNoop(), logging.Discard())

	if err := tokens.SaveToken(ctx, "T1"); err != nil {
		t.Fatalf("save token: %v", err)
	}
	if err := tokens.SaveUserData(ctx, identity.User{"id": "1"}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	token, err := tokens.Token(ctx)
	if err != nil || token != "" {
		t.Fatalf("token = %q, %v; want empty", token, err)
	}
	user, err := tokens.UserData(ctx)
	if err != nil || user != nil {
		t.Fatalf("user = %v, %v; want nil", user, err)
	}
	if err := tokens.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestNilBackendFallsBackToNoop(t *testing.T) {
	tokens := NewTokens(nil, nil)
	if token, err := tokens.Token(context.Background()); err != nil || token != "" {
		t.Fatalf("token = %q, %v", token, err)
	}
}

func TestTokensLifecycle(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewMemory(), logging.Discard())

	if err := tokens.SaveToken(ctx, "opaque token"); err != nil {
		t.Fatalf("save token: %v", err)
	}
	if err := tokens.SaveUserData(ctx, identity.User{"id": "u1", "firstName": "A"}); err != nil {
		t.Fatalf("save user: %v", err)
	}

	token, _ := tokens.Token(ctx)
	if token != "opaque token" {
		t.Fatalf("token = %q", token)
	}
	user, err := tokens.UserData(ctx)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if user.FirstName() != "A" || user.ID() != "u1" {
		t.Fatalf("unexpected user %v", user)
	}

	if err := tokens.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if token, _ := tokens.Token(ctx); token != "" {
		t.Fatalf("token survived clear: %q", token)
	}
	if user, _ := tokens.UserData(ctx); user != nil {
		t.Fatalf("user survived clear: %v", user)
	}
}

func TestUserDataCorruptIsAbsent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	if err := backend.Set(ctx, KeyUserData, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	user, err := NewTokens(backend, logging.Discard()).UserData(ctx)
	if err != nil || user != nil {
		t.Fatalf("user = %v, %v; want nil, nil", user, err)
	}
}

func TestVerificationEmail(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewMemory(), logging.Discard())
	if err := tokens.SaveVerificationEmail(ctx, "a@b.com"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := tokens.VerificationEmail(ctx); got != "a@b.com" {
		t.Fatalf("got %q", got)
	}
	if err := tokens.RemoveVerificationEmail(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got, _ := tokens.VerificationEmail(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestFileBackendSharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")

	if err := NewFile(path).Set(ctx, KeyToken, "T1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := NewFile(path).Get(ctx, KeyToken)
	if err != nil || got != "T1" {
		t.Fatalf("second instance read %q, %v", got, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFile(path).Get(context.Background(), KeyToken); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestTokensRecoverFromCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tokens := NewTokens(NewFile(path), logging.Discard())

	if token, err := tokens.Token(ctx); err != nil || token != "" {
		t.Fatalf("token = %q, %v; want empty", token, err)
	}
	if err := tokens.ClearAll(ctx); err != nil {
		t.Fatalf("clear on corrupt file: %v", err)
	}
	if err := tokens.SaveToken(ctx, "T1"); err != nil {
		t.Fatalf("save token: %v", err)
	}
	if token, err := tokens.Token(ctx); err != nil || token != "T1" {
		t.Fatalf("token = %q, %v; want T1", token, err)
	}
}

func TestFileBackendSetReplacesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := NewFile(path)
	if err := b.Set(ctx, KeyVerificationEmail, "a@b.com"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := b.Get(ctx, KeyVerificationEmail); err != nil || got != "a@b.com" {
		t.Fatalf("get = %q, %v", got, err)
	}
}

func TestRedisBackendUsesPrefix(t *testing.T) {
	b, mr := newRedisBackend(t)
	if err := b.Set(context.Background(), KeyToken, "T1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := mr.Get("test:" + KeyToken)
	if err != nil || got != "T1" {
		t.Fatalf("raw key = %q, %v", got, err)
	}
	if mr.TTL("test:"+KeyToken) != 0 {
		t.Fatalf("expected no expiry on token key")
	}
}
