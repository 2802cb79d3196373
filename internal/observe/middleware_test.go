package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wraps a fake of the dispatch API in the middleware and
// returns the metric reader and the span exporter that observe it.
func instrumented(t *testing.T, h http.Handler) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return Middleware(m)(h), reader, exp
}

// dispatchAPI answers like the call endpoints: start succeeds once, then
// conflicts; end without a call conflicts.
func dispatchAPI() http.Handler {
	live := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/call/start", func(w http.ResponseWriter, r *http.Request) {
		if live {
			w.WriteHeader(http.StatusConflict)
			return
		}
		live = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/call/end", func(w http.ResponseWriter, r *http.Request) {
		if !live {
			w.WriteHeader(http.StatusConflict)
			return
		}
		live = false
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":false}`))
	})
	return mux
}

func TestMiddleware_CallEndpoints(t *testing.T) {
	h, reader, exp := instrumented(t, dispatchAPI())

	steps := []struct {
		method, path string
		want         int
	}{
		{"POST", "/api/call/end", http.StatusConflict},
		{"POST", "/api/call/start", http.StatusCreated},
		{"POST", "/api/call/start", http.StatusConflict},
		{"GET", "/api/summary", http.StatusOK},
		{"POST", "/api/call/end", http.StatusOK},
	}
	for _, s := range steps {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(s.method, s.path, nil))
		if rec.Code != s.want {
			t.Errorf("%s %s = %d, want %d", s.method, s.path, rec.Code, s.want)
		}
		if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
			t.Errorf("%s %s: X-Correlation-ID = %q", s.method, s.path, cid)
		}
	}

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "dispatchvoice.http.requests", attribute.Int("status", http.StatusConflict)); got != 2 {
		t.Errorf("409 responses = %d, want 2", got)
	}
	if got, _ := sumWhere(t, rm, "dispatchvoice.http.requests", attribute.String("path", "/api/call/start")); got != 2 {
		t.Errorf("start requests = %d, want 2", got)
	}
	if findMetric(rm, "dispatchvoice.http.request.duration") == nil {
		t.Error("request duration histogram not recorded")
	}

	spans := exp.GetSpans()
	if len(spans) != len(steps) {
		t.Fatalf("spans = %d, want %d", len(spans), len(steps))
	}
	if spans[2].Name != "HTTP POST /api/call/start" {
		t.Errorf("span name = %q", spans[2].Name)
	}
	var status int64
	for _, a := range spans[2].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusConflict {
		t.Errorf("span status code = %d, want 409", status)
	}
}

func TestMiddleware_KeepsUpstreamTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	h, _, _ := instrumented(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("POST", "/api/call/start", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("handler correlation ID = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", tp, traceID)
	}
}

func TestMiddleware_WebSocketUpgradePassesThrough(t *testing.T) {
	served := make(chan struct{})
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		_ = c.CloseNow()
	})
	h, reader, _ := instrumented(t, ws)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = c.CloseNow()

	select {
	case <-served:
	case <-ctx.Done():
		t.Fatal("upgrade handler did not return")
	}
	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "dispatchvoice.http.requests", attribute.Int("status", http.StatusSwitchingProtocols)); got != 1 {
		t.Errorf("101 responses = %d, want 1", got)
	}
}

func TestStatusRecorder_NoHijacker(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, statusCode: http.StatusOK}
	if rec.Unwrap() != rr {
		t.Error("Unwrap did not return the wrapped writer")
	}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack succeeded on a writer without http.Hijacker")
	}
	if rec.statusCode != http.StatusOK {
		t.Errorf("status after failed hijack = %d, want 200", rec.statusCode)
	}
}

func TestMiddleware_NoopMeterProvider(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	rec := httptest.NewRecorder()
	Middleware(m)(dispatchAPI()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/summary", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active"`) {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}
