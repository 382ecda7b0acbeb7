package tracing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing produced a recording span")
	}
}

func TestInit_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	shutdown, err := Init(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		Init(context.Background(), DefaultConfig(), testLogger())
	})

	_, span := otel.Tracer("test").Start(context.Background(), "pipeline.Run")
	if !span.SpanContext().IsValid() {
		t.Error("enabled tracing produced an invalid span context")
	}
	span.End()

	ShutdownWithTimeout(context.Background(), shutdown, testLogger())
	if !strings.Contains(buf.String(), "pipeline.Run") {
		t.Errorf("exported spans missing pipeline.Run: %q", buf.String())
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"

	if _, err := Init(context.Background(), cfg, testLogger()); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}
