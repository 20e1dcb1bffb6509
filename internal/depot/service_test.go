package depot_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"depot/internal/depot"
	"depot/internal/testutil"
)

func TestDepotService_Reply(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	t.Run("success", func(t *testing.T) {
		r := env.Service.Reply("upload", depot.PassiveMessage{Container: publicID}, nil, "1 resource(s) recorded.")
		if !r.Success || r.Body != "1 resource(s) recorded." {
			t.Errorf("Reply() = %+v", r)
		}
		if r.Private {
			t.Error("Private = true for a passive origin")
		}
	})

	t.Run("refusal carries its message", func(t *testing.T) {
		reference(t, env, alice, "")
		_, err := env.Service.Auth.Authorize(ctx, publicID, bob)

		r := env.Service.Reply("upload", here(), err, "")
		if r.Success {
			t.Error("Success = true for a refusal")
		}
		if r.Title != "Permission denied" {
			t.Errorf("Title = %q, want Permission denied", r.Title)
		}
		if !r.Private {
			t.Error("refusals should be private")
		}
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		r := env.Service.Reply("upload", here(), errors.New("database is locked: sqlite detail"), "")
		if strings.Contains(r.Body, "sqlite") {
			t.Errorf("Body = %q leaks internal detail", r.Body)
		}
		if r.Title != "Something went wrong" {
			t.Errorf("Title = %q", r.Title)
		}
	})
}

type taskObserver struct {
	depot.NopObserver
	mu     sync.Mutex
	failed []string
	done   []string
}

func (o *taskObserver) RecordTask(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed = append(o.failed, name)
		return
	}
	o.done = append(o.done, name)
}

func TestTaskRunner(t *testing.T) {
	t.Run("does not block the caller", func(t *testing.T) {
		r := depot.NewTaskRunner(1, time.Second, depot.NewNopLogger(), nil)
		release := make(chan struct{})

		start := time.Now()
		r.Go(context.Background(), "slow", func(ctx context.Context) error {
			<-release
			return nil
		})
		if time.Since(start) > 500*time.Millisecond {
			t.Error("Go() blocked on the task")
		}
		close(release)
		r.Wait()
	})

	t.Run("records outcomes", func(t *testing.T) {
		obs := &taskObserver{}
		r := depot.NewTaskRunner(2, time.Second, depot.NewNopLogger(), obs)

		r.Go(context.Background(), "ok", func(ctx context.Context) error { return nil })
		r.Go(context.Background(), "bad", func(ctx context.Context) error { return errors.New("boom") })
		r.Wait()

		if len(obs.done) != 1 || obs.done[0] != "ok" {
			t.Errorf("done = %v, want [ok]", obs.done)
		}
		if len(obs.failed) != 1 || obs.failed[0] != "bad" {
			t.Errorf("failed = %v, want [bad]", obs.failed)
		}
	})

	t.Run("outlives a cancelled request", func(t *testing.T) {
		r := depot.NewTaskRunner(1, time.Second, depot.NewNopLogger(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		var ran atomic.Bool

		r.Go(ctx, "after-cancel", func(ctx context.Context) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ran.Store(true)
			return nil
		})
		cancel()
		r.Wait()

		if !ran.Load() {
			t.Error("task did not run after the request context was cancelled")
		}
	})

	t.Run("bounded by timeout", func(t *testing.T) {
		obs := &taskObserver{}
		r := depot.NewTaskRunner(1, 20*time.Millisecond, depot.NewNopLogger(), obs)

		r.Go(context.Background(), "stuck", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		r.Wait()

		if len(obs.failed) != 1 {
			t.Errorf("failed = %v, want the timed out task", obs.failed)
		}
	})

	t.Run("limits concurrency", func(t *testing.T) {
		r := depot.NewTaskRunner(2, time.Second, depot.NewNopLogger(), nil)
		var running, peak atomic.Int32

		for range 6 {
			r.Go(context.Background(), "work", func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}
		r.Wait()

		if p := peak.Load(); p > 2 {
			t.Errorf("peak concurrency = %d, want at most 2", p)
		}
	})
}
