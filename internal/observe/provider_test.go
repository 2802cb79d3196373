package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitProvider(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	// The new providers are global: a turn span now carries a trace ID and
	// the dispatch instruments can be built from the global meter.
	spanCtx, span := StartTurnSpan(ctx, "5f0c-a1")
	if CorrelationID(spanCtx) == "" {
		t.Error("global tracer provider was not installed")
	}
	span.End()
	if _, err := NewMetrics(otel.GetMeterProvider()); err != nil {
		t.Errorf("NewMetrics on the global provider: %v", err)
	}

	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
