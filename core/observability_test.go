package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) countersNamed(name string, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.counters {
		if item.name == name && item.tags["status"] == status {
			count++
		}
	}
	return count
}

func (m *captureMetricsRecorder) hasHistogram(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.histograms {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func (l *captureLogger) count(level string, message string) int {
	count := 0
	for _, item := range l.snapshot() {
		if item.level == level && item.msg == message {
			count++
		}
	}
	return count
}

func TestTelemetry_ObserveOperationSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	tel := newTelemetry(logger, metrics, nil)

	ctx, span := tel.startSpan(context.Background(), "token_fetch", map[string]any{"session_id": "ses_1"})
	tel.observeOperation(ctx, span, time.Now().UTC(), "token_fetch", nil, map[string]any{
		"session_id": "ses_1",
		"state":      LinkStateTokenReady,
	})

	if metrics.countersNamed("banklink.token_fetch.total", "success") != 1 {
		t.Fatalf("expected one banklink.token_fetch.total success counter")
	}
	if !metrics.hasHistogram("banklink.token_fetch.duration_ms", "success") {
		t.Fatalf("expected banklink.token_fetch.duration_ms histogram")
	}
	records := logger.snapshot()
	if len(records) != 1 || records[0].msg != "token_fetch succeeded" || records[0].level != "info" {
		t.Fatalf("expected one token_fetch succeeded info log, got %#v", records)
	}
	if records[0].fields["event_type"] != "token_fetch" {
		t.Fatalf("expected event_type field, got %#v", records[0].fields["event_type"])
	}
}

func TestTelemetry_ObserveOperationFailureRedactsTokens(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	tel := newTelemetry(logger, metrics, nil)

	tel.observeOperation(context.Background(), nil, time.Now().UTC(), "exchange", errors.New("boom"), map[string]any{
		"public_token": "public-sandbox-123",
		"failure_kind": LinkFailureExchange,
		"item_id":      "item_1",
	})

	if metrics.countersNamed("banklink.exchange.total", "failure") != 1 {
		t.Fatalf("expected one failure counter")
	}
	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "error" || records[0].msg != "exchange failed" {
		t.Fatalf("expected exchange failed error log, got %#v", records)
	}
	if records[0].fields["public_token"] != RedactedValue {
		t.Fatalf("expected public_token redacted, got %#v", records[0].fields["public_token"])
	}
	if records[0].fields["item_id"] != "item_1" {
		t.Fatalf("expected item_id to be kept, got %#v", records[0].fields["item_id"])
	}
	if records[0].fields["error"] != "boom" {
		t.Fatalf("expected error field, got %#v", records[0].fields["error"])
	}
}
