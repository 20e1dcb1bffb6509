package testutil

import (
	"context"
	"sync"

	"depot/internal/depot"
)

// RecordingNotifier keeps every notice it is given. Safe for concurrent use.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []depot.Notice
	err     error
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Notify records the notice, or returns the configured error.
func (n *RecordingNotifier) Notify(ctx context.Context, notice depot.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

// Fail makes later Notify calls return err.
func (n *RecordingNotifier) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notices returns a copy of the recorded notices.
func (n *RecordingNotifier) Notices() []depot.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]depot.Notice(nil), n.notices...)
}

var _ depot.Notifier = (*RecordingNotifier)(nil)
