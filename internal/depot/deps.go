package depot

import (
	"time"

	"github.com/google/uuid"
)

// Logger provides structured logging for the service layer.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Observer receives telemetry about pipeline outcomes.
// outcome is "ok" or an error code.
type Observer interface {
	RecordIngestion(mode string, outcome string, duration time.Duration)
	RecordUpload(sizeBytes int64, err error)
	RecordResolution(outcome string, duration time.Duration)
	RecordTask(name string, err error)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) RecordIngestion(string, string, time.Duration) {}
func (NopObserver) RecordUpload(int64, error)                     {}
func (NopObserver) RecordResolution(string, time.Duration)        {}
func (NopObserver) RecordTask(string, error)                      {}

// outcomeOf maps an error to the observer's outcome label.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}
