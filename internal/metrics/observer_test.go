package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newObserver(t *testing.T) (*PrometheusObserver, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("", reg)
	if err != nil {
		t.Fatalf("NewPrometheusObserver() error = %v", err)
	}
	return o, reg
}

func TestPrometheusObserver_RecordIngestion(t *testing.T) {
	o, _ := newObserver(t)

	o.RecordIngestion("STORED", "ok", 200*time.Millisecond)
	o.RecordIngestion("STORED", "ok", 100*time.Millisecond)
	o.RecordIngestion("REFERENCE", "not_found", time.Millisecond)

	if got := testutil.ToFloat64(o.ingestions.WithLabelValues("STORED", "ok")); got != 2 {
		t.Errorf("ingestions{STORED,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(o.ingestions.WithLabelValues("REFERENCE", "not_found")); got != 1 {
		t.Errorf("ingestions{REFERENCE,not_found} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(o.ingestDuration); n != 2 {
		t.Errorf("ingestDuration series = %d, want 2", n)
	}
}

func TestPrometheusObserver_RecordUpload(t *testing.T) {
	o, _ := newObserver(t)

	o.RecordUpload(1024, nil)
	o.RecordUpload(512, nil)
	o.RecordUpload(4096, errors.New("send failed"))

	if got := testutil.ToFloat64(o.uploadBytes); got != 1536 {
		t.Errorf("uploadBytes = %v, want 1536", got)
	}
	if got := testutil.ToFloat64(o.uploads.WithLabelValues("failed")); got != 1 {
		t.Errorf("uploads{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.uploads.WithLabelValues("ok")); got != 2 {
		t.Errorf("uploads{ok} = %v, want 2", got)
	}
}

func TestPrometheusObserver_RecordResolutionAndTask(t *testing.T) {
	o, _ := newObserver(t)

	o.RecordResolution("password_mismatch", time.Millisecond)
	o.RecordTask("quick-delete", nil)
	o.RecordTask("quick-delete", errors.New("gone"))

	if got := testutil.ToFloat64(o.resolutions.WithLabelValues("password_mismatch")); got != 1 {
		t.Errorf("resolutions{password_mismatch} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.tasksCompleted.WithLabelValues("quick-delete")); got != 2 {
		t.Errorf("tasks{quick-delete} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(o.taskFailures.WithLabelValues("quick-delete")); got != 1 {
		t.Errorf("task_failures{quick-delete} = %v, want 1", got)
	}
}

func TestNewPrometheusObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusObserver("depot", reg)
	if err != nil {
		t.Fatalf("first NewPrometheusObserver() error = %v", err)
	}
	second, err := NewPrometheusObserver("depot", reg)
	if err != nil {
		t.Fatalf("second NewPrometheusObserver() error = %v", err)
	}

	first.RecordUpload(10, nil)
	second.RecordUpload(5, nil)

	if got := testutil.ToFloat64(second.uploadBytes); got != 15 {
		t.Errorf("uploadBytes = %v, want 15 across both observers", got)
	}
}

func TestPrometheusObserver_NilSafe(t *testing.T) {
	var o *PrometheusObserver
	o.RecordIngestion("STORED", "ok", time.Second)
	o.RecordUpload(1, nil)
	o.RecordResolution("ok", time.Second)
	o.RecordTask("x", nil)
}

func TestWriteTextfile(t *testing.T) {
	o, reg := newObserver(t)
	o.RecordUpload(2048, nil)

	path := filepath.Join(t.TempDir(), "textfile", "depot.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(data), "depot_uploaded_bytes_total 2048") {
		t.Errorf("textfile missing uploaded bytes:\n%s", data)
	}
}
