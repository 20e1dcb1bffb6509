package testutil

import (
	"testing"
	"time"

	"depot/internal/channel"
	"depot/internal/database"
	"depot/internal/depot"
	"depot/internal/pending"
)

// WarehouseRoot is the warehouse root used by NewTestEnv.
const WarehouseRoot = "warehouse"

// Env bundles a DepotService with the in-memory collaborators behind it so
// tests can seed and inspect them.
type Env struct {
	Service  *depot.DepotService
	Store    *database.SQLDatabase
	Channel  *channel.MemoryChannel
	Drafts   *pending.MemoryStore
	Notifier *RecordingNotifier
	Clock    *StubClock
	IDs      *StubIDGenerator
}

// EnvOptions adjusts the environment built by NewTestEnvWith.
type EnvOptions struct {
	// FileBacked opens the store on a SQLite file, so transactions take
	// real locks and several connections can run at once.
	FileBacked bool
	// WrapStore replaces the store handed to the service.
	WrapStore func(*database.SQLDatabase) depot.Store
	// WrapChannel replaces the channel handed to the service.
	WrapChannel func(*channel.MemoryChannel) depot.ContentChannel
}

// NewTestEnv creates a DepotService backed by an in-memory store, channel and
// draft store. Background tasks are drained when the test completes.
func NewTestEnv(t *testing.T) *Env {
	t.Helper()
	return NewTestEnvWith(t, EnvOptions{})
}

// NewTestEnvWith is NewTestEnv with the given options applied.
func NewTestEnvWith(t *testing.T, opts EnvOptions) *Env {
	t.Helper()

	clock := FixedClock()
	env := &Env{
		Channel:  channel.NewMemoryChannel(clock, 10*time.Minute),
		Drafts:   pending.NewMemoryStore(clock),
		Notifier: NewRecordingNotifier(),
		Clock:    clock,
		IDs:      NewStubIDGenerator(),
	}
	if opts.FileBacked {
		env.Store = NewFileTestStore(t)
	} else {
		env.Store = NewTestStore(t)
	}

	var store depot.Store = env.Store
	if opts.WrapStore != nil {
		store = opts.WrapStore(env.Store)
	}
	var ch depot.ContentChannel = env.Channel
	if opts.WrapChannel != nil {
		ch = opts.WrapChannel(env.Channel)
	}

	env.Service = depot.NewDepotService(depot.Deps{
		Store:         store,
		Channel:       ch,
		Drafts:        env.Drafts,
		Notifier:      env.Notifier,
		Clock:         clock,
		IDs:           env.IDs,
		WarehouseRoot: WarehouseRoot,
		TaskTimeout:   5 * time.Second,
	})

	t.Cleanup(env.Service.Shutdown)
	return env
}

// Settle waits for post-commit background tasks to finish.
func (e *Env) Settle() {
	e.Service.Shutdown()
}
