package pending_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"depot/internal/config"
	"depot/internal/depot"
	"depot/internal/model"
	"depot/internal/pending"
	"depot/internal/testutil"
)

func newDraft(clock depot.Clock, token string) *depot.Draft {
	now := clock.Now()
	return &depot.Draft{
		Token:       token,
		ActorID:     "alice",
		OriginKind:  "interactive",
		ContainerID: "c-1",
		GuildID:     "g-1",
		Mode:        model.ModeStored,
		CreatedAt:   now,
		ExpiresAt:   now.Add(3 * time.Minute),
	}
}

// storeCase builds a fresh store for each backend.
type storeCase struct {
	name  string
	build func(t *testing.T, clock depot.Clock) depot.DraftStore
}

func backends() []storeCase {
	return []storeCase{
		{"memory", func(t *testing.T, clock depot.Clock) depot.DraftStore {
			return pending.NewMemoryStore(clock)
		}},
		{"redis", func(t *testing.T, clock depot.Clock) depot.DraftStore {
			s := miniredis.RunT(t)
			store, err := pending.NewRedisStore("redis://"+s.Addr(), "", clock)
			if err != nil {
				t.Fatalf("NewRedisStore() error = %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		}},
	}
}

func TestDraftStore(t *testing.T) {
	ctx := context.Background()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Run("put and get", func(t *testing.T) {
				clock := testutil.FixedClock()
				store := bc.build(t, clock)

				if err := store.Put(ctx, newDraft(clock, "tok-1")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				got, err := store.Get(ctx, "tok-1")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got == nil {
					t.Fatal("Get() = nil, want draft")
				}
				if got.ActorID != "alice" || got.Mode != model.ModeStored {
					t.Errorf("Get() = %+v", got)
				}
				if _, ok := got.Origin().(depot.Interactive); !ok {
					t.Errorf("Origin() = %T, want depot.Interactive", got.Origin())
				}
			})

			t.Run("missing token", func(t *testing.T) {
				clock := testutil.FixedClock()
				store := bc.build(t, clock)

				got, err := store.Get(ctx, "nope")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got != nil {
					t.Errorf("Get() = %+v, want nil", got)
				}
			})

			t.Run("expired by clock", func(t *testing.T) {
				clock := testutil.FixedClock()
				store := bc.build(t, clock)

				if err := store.Put(ctx, newDraft(clock, "tok-1")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				clock.Advance(3 * time.Minute)

				got, err := store.Get(ctx, "tok-1")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got != nil {
					t.Errorf("Get() = %+v, want nil after expiry", got)
				}
			})

			t.Run("delete", func(t *testing.T) {
				clock := testutil.FixedClock()
				store := bc.build(t, clock)

				if err := store.Put(ctx, newDraft(clock, "tok-1")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				if err := store.Delete(ctx, "tok-1"); err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
				if got, _ := store.Get(ctx, "tok-1"); got != nil {
					t.Errorf("Get() = %+v, want nil after delete", got)
				}
				if err := store.Delete(ctx, "tok-1"); err != nil {
					t.Errorf("second Delete() error = %v", err)
				}
			})
		})
	}
}

func TestRedisStore_KeyExpires(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	clock := testutil.FixedClock()

	store, err := pending.NewRedisStore("redis://"+s.Addr(), "test:", clock)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, newDraft(clock, "tok-1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !s.Exists("test:tok-1") {
		t.Fatal("key test:tok-1 not written")
	}
	if ttl := s.TTL("test:tok-1"); ttl != 3*time.Minute {
		t.Errorf("TTL = %v, want 3m", ttl)
	}

	s.FastForward(4 * time.Minute)

	got, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil after key expiry", got)
	}
}

func TestRedisStore_SkipsExpiredPut(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	clock := testutil.FixedClock()

	store, err := pending.NewRedisStore("redis://"+s.Addr(), "", clock)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	d := newDraft(clock, "tok-1")
	d.ExpiresAt = clock.Now().Add(-time.Second)
	if err := store.Put(ctx, d); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if s.Exists(pending.DefaultPrefix + "tok-1") {
		t.Error("expired draft was written")
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	if _, err := pending.NewRedisStore("redis://127.0.0.1:1", "", testutil.FixedClock()); err == nil {
		t.Error("NewRedisStore() expected error for unreachable server")
	}
}

func TestMemoryStore_SweepsOnPut(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	store := pending.NewMemoryStore(clock)

	if err := store.Put(ctx, newDraft(clock, "old")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	clock.Advance(5 * time.Minute)
	if err := store.Put(ctx, newDraft(clock, "new")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if n := store.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	s := miniredis.RunT(t)
	tests := []struct {
		name    string
		cfg     config.PendingConfig
		wantErr bool
	}{
		{"default", config.PendingConfig{}, false},
		{"memory", config.PendingConfig{Type: "memory"}, false},
		{"redis", config.PendingConfig{Type: "redis", RedisURL: "redis://" + s.Addr()}, false},
		{"redis without url", config.PendingConfig{Type: "redis"}, true},
		{"bad url", config.PendingConfig{Type: "redis", RedisURL: "http://nope"}, true},
		{"unknown", config.PendingConfig{Type: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := pending.NewStoreFromConfig(tt.cfg, testutil.FixedClock())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}
