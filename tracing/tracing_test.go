package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/tracing"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := tracing.Setup(context.Background(), &config.TracingConfig{}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_UnknownProtocol(t *testing.T) {
	_, err := tracing.Setup(context.Background(), &config.TracingConfig{Endpoint: "localhost:4317", Protocol: "udp"}, "test")
	if err == nil {
		t.Error("protocol udp accepted")
	}
}

func TestSetup_ExportsOverHTTP(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			exports.Add(1)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, &config.TracingConfig{
		Endpoint: strings.TrimPrefix(collector.URL, "http://"),
		Protocol: "http",
		Insecure: true,
	}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := otel.Tracer("atlas-test").Start(ctx, "consolidate.Run")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if exports.Load() == 0 {
		t.Error("no spans exported")
	}
}
