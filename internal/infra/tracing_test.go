package infra

import (
	"context"
	"testing"
)

func TestInitTracingNoneIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &Config{OTelExporter: "none"}, "test")
	if err != nil {
		t.Fatalf("InitTracing returned error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), &Config{OTelExporter: "zipkin"}, "test"); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
