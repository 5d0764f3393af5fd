package storage

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ops-console/domain"
)

func withSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestFallbackReadsLocalOnTransportError(t *testing.T) {
	exp := withSpanRecorder(t)
	local := openTestLocalStore(t)
	ctx := context.Background()
	if err := local.SaveLayout(ctx, "u1", []domain.Item{{ID: "cached"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	primary := &stubGateway{fetchFn: func(context.Context, string) ([]domain.Item, error) {
		return nil, errors.New("timeout")
	}}

	f := NewFallback(primary, local, testLogger())
	items, err := f.FetchLayout(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].ID != "cached" {
		t.Fatalf("unexpected items %+v", items)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "layout.fetch" {
		t.Fatalf("expected one layout.fetch span, got %d", len(spans))
	}
	var source string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "layout.source" {
			source = kv.Value.AsString()
		}
	}
	if source != "local" {
		t.Fatalf("expected local source attribute, got %q", source)
	}
}

func TestFallbackDoesNotMaskEmpty(t *testing.T) {
	local := openTestLocalStore(t)
	ctx := context.Background()
	_ = local.SaveLayout(ctx, "u1", []domain.Item{{ID: "stale"}})
	primary := &stubGateway{fetchFn: func(context.Context, string) ([]domain.Item, error) {
		return nil, ErrNoConfig
	}}
	f := NewFallback(primary, local, testLogger())
	if _, err := f.FetchLayout(ctx, "u1"); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
}

func TestFallbackSaveMirrorsOnlyOnSuccess(t *testing.T) {
	local := openTestLocalStore(t)
	ctx := context.Background()
	fail := true
	primary := &stubGateway{saveFn: func(context.Context, string, []domain.Item) error {
		if fail {
			return errors.New("503")
		}
		return nil
	}}
	f := NewFallback(primary, local, testLogger())

	if err := f.SaveLayout(ctx, "u1", []domain.Item{{ID: "a"}}); err == nil {
		t.Fatalf("expected primary error")
	}
	if _, err := local.FetchLayout(ctx, "u1"); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("failed save must not be mirrored, got %v", err)
	}

	fail = false
	if err := f.SaveLayout(ctx, "u1", []domain.Item{{ID: "a"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := local.FetchLayout(ctx, "u1")
	if err != nil || got[0].ID != "a" {
		t.Fatalf("expected mirrored layout, got %+v %v", got, err)
	}
}

func TestSelect(t *testing.T) {
	remote := &stubGateway{}
	local := openTestLocalStore(t)

	if g, err := Select(ModeRemote, remote, nil, testLogger()); err != nil || g != Gateway(remote) {
		t.Fatalf("remote mode: %v", err)
	}
	if g, err := Select(ModeLocal, nil, local, testLogger()); err != nil || g != Gateway(local) {
		t.Fatalf("local mode: %v", err)
	}
	if g, err := Select(ModeRemoteLocal, remote, local, testLogger()); err != nil {
		t.Fatalf("remote+local mode: %v", err)
	} else if _, ok := g.(*Fallback); !ok {
		t.Fatalf("expected *Fallback, got %T", g)
	}
	if _, err := Select(ModeRemoteLocal, remote, nil, testLogger()); err == nil {
		t.Fatalf("expected error without local store")
	}
	if _, err := ParseMode("cloud"); err == nil {
		t.Fatalf("expected parse error")
	}
	if m, _ := ParseMode(""); m != ModeRemote {
		t.Fatalf("expected remote default, got %q", m)
	}
}
