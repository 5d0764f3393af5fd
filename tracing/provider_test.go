package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviderInstallsGlobal(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, endpoint := range []string{"localhost:4318", "http://collector:4318"} {
		p, err := NewProvider(context.Background(), Config{Endpoint: endpoint, ServiceName: "ops-console", SampleRate: 0.5})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", endpoint, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("%s: expected SDK provider to be installed", endpoint)
		}
		if err := p.Shutdown(context.Background()); err != nil {
			t.Fatalf("%s: shutdown: %v", endpoint, err)
		}
	}
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
