package logging

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewOperationErrorKeepsNil(t *testing.T) {
	if err := NewOperationError("op", "job", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	sentinel := errors.New("boom")
	err := NewOperationError("queue.enqueue", "job-1", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if got, want := err.Error(), "queue.enqueue (job_id=job-1): boom"; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "queue.enqueue" {
		t.Fatalf("expected OperationError, got %T", err)
	}
}

func TestJobIDFrom(t *testing.T) {
	inner := NewOperationError("cache.get", "job-2", errors.New("down"))
	outer := NewOperationError("grpcclient.classify", "", inner)

	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":              {nil, ""},
		"plain":            {errors.New("plain"), ""},
		"direct":           {inner, "job-2"},
		"wrapped by fmt":   {fmt.Errorf("await: %w", inner), "job-2"},
		"outer without id": {outer, "job-2"},
	}
	for name, tc := range cases {
		if got := JobIDFrom(tc.err); got != tc.want {
			t.Errorf("%s: got %q, want %q", name, got, tc.want)
		}
	}
}

func TestErrorFieldLogsOperationAndJob(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	err := NewOperationError("worker.store_job_result", "job-3", errors.New("redis down"))
	logger.Error("delivery failed", ErrorField(err))
	logger.Error("plain failure", ErrorField(errors.New("plain")))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	structured, ok := entries[0].ContextMap()["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected structured error, got %#v", entries[0].ContextMap()["error"])
	}
	if structured["operation"] != "worker.store_job_result" || structured["job_id"] != "job-3" || structured["cause"] != "redis down" {
		t.Fatalf("unexpected structured error: %v", structured)
	}
	if got := entries[1].ContextMap()["error"]; got != "plain" {
		t.Fatalf("expected plain error string, got %#v", got)
	}
}

func TestOperationErrorLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	opErr := &OperationError{Operation: "usecase.submit", JobID: "job-4", Err: errors.New("x")}

	opErr.Logger(zap.New(core)).Info("retrying")

	fields := logs.All()[0].ContextMap()
	if fields["operation"] != "usecase.submit" || fields["job_id"] != "job-4" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestNewLoggerAcceptsLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "WARN", "nonsense"} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		_ = logger.Sync()
	}
}
