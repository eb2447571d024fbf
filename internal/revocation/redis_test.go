package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeKV struct {
	values map[string]time.Duration
	err    error
}

func (f *fakeKV) Set(_ context.Context, key string, _ any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	if f.values == nil {
		f.values = make(map[string]time.Duration)
	}
	f.values[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRevokeUntilExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	kv := &fakeKV{}
	store := newStore(kv)
	store.now = func() time.Time { return now }

	if err := store.Revoke(context.Background(), "01JTOKEN", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ttl := kv.values[defaultPrefix+"01JTOKEN"]; ttl != 2*time.Hour {
		t.Fatalf("expected ttl 2h, got %s", ttl)
	}
	revoked, err := store.IsRevoked(context.Background(), "01JTOKEN")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	revoked, err = store.IsRevoked(context.Background(), "01JOTHER")
	if err != nil || revoked {
		t.Fatalf("expected not revoked, got %v %v", revoked, err)
	}
}

func TestRevokeSkipsExpiredTokens(t *testing.T) {
	now := time.Now()
	kv := &fakeKV{}
	store := newStore(kv)
	store.now = func() time.Time { return now }

	if err := store.Revoke(context.Background(), "old", now.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(kv.values) != 0 {
		t.Fatalf("expired token should not be stored")
	}
	if err := store.Revoke(context.Background(), " ", now.Add(time.Hour)); err == nil {
		t.Fatalf("expected error for empty token id")
	}
}

func TestRedisErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	store := newStore(&fakeKV{err: boom})
	if _, err := store.IsRevoked(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}
	if err := store.Revoke(context.Background(), "x", time.Now().Add(time.Hour)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}
}
