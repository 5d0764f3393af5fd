package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestRequestMetricsLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := setupTestTracer(t)

	m, _ := newRequestMetrics(context.Background(), logger, "/api/layout")
	m.start = m.start.Add(-50 * time.Millisecond)
	m.ObserveAuth(10 * time.Millisecond)
	m.ObserveStore(5 * time.Millisecond)
	m.SetItems(4)

	m.Log(http.StatusOK, nil)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected a log entry")
	}
	if entry.Message != requestEventName {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if entry.Data["route"] != "/api/layout" || entry.Data["items"] != 4 {
		t.Fatalf("unexpected fields: %v", entry.Data)
	}
	if total, ok := entry.Data["total_ms"].(float64); !ok || total < 50 {
		t.Fatalf("unexpected total_ms: %#v", entry.Data["total_ms"])
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v %v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name())
	}
	attrs := attributesToMap(span.Attributes())
	if attrs["http.route"] != "/api/layout" {
		t.Fatalf("span route attribute mismatch: %#v", attrs["http.route"])
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != http.StatusOK {
		t.Fatalf("unexpected http.status_code on span: %#v", attrs["http.status_code"])
	}
	if span.Status().Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status().Code)
	}
	found := false
	for _, ev := range span.Events() {
		if ev.Name == "observability.event" {
			found = attributesToMap(ev.Attributes)["event.name"] == requestEventName
		}
	}
	if !found {
		t.Fatalf("expected observability.event span event, got %#v", span.Events())
	}
}

func TestRequestMetricsLogServerError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := setupTestTracer(t)

	m, _ := newRequestMetrics(context.Background(), logger, "/api/layout/save")
	m.SetErrorStage("save")
	m.Log(http.StatusInternalServerError, errors.New("boom"))

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected an error entry, got %+v", entry)
	}
	if entry.Data["error_stage"] != "save" || entry.Data["severity_text"] != "ERROR" {
		t.Fatalf("unexpected fields: %v", entry.Data)
	}
	if _, ok := entry.Data["items"]; ok {
		t.Fatalf("items should be omitted when unset")
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Status().Code != codes.Error {
		t.Fatalf("expected one errored span, got %+v", spans)
	}
}

func TestRequestMetricsNilSafe(t *testing.T) {
	var m *requestMetrics
	m.ObserveAuth(time.Second)
	m.SetItems(1)
	m.SetErrorStage("x")
	m.Log(http.StatusOK, nil)
}
