package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInit_RequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), discard(), Config{})
	require.Error(t, err)
}

func TestResource_CarriesServiceName(t *testing.T) {
	res := Resource(Config{Attributes: map[string]string{"run.root": "/out"}})

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, ServiceName, got[string(semconv.ServiceNameKey)])
	assert.Equal(t, "/out", got["run.root"])
}

func TestInit_InstallsGlobalProviders(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := Init(context.Background(), discard(), Config{Endpoint: "127.0.0.1:4317", Insecure: true})
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "tracer provider should be the SDK provider")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Nothing listens on the endpoint; a failed final export is acceptable.
	_ = shutdown(ctx)
}
