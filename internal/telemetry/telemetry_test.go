package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/installmatch/backend/internal/apperrors"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	for _, tc := range []struct {
		endpoint string
		enabled  bool
	}{
		{"", true},
		{"http://localhost:4318", false},
	} {
		shutdown, err := Setup(context.Background(), "test", tc.endpoint, tc.enabled)
		if err != nil {
			t.Fatalf("Setup(%q, %v): %v", tc.endpoint, tc.enabled, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}
}

func TestSetup_ShutdownFlushesCleanly(t *testing.T) {
	// Non-routable address so nothing is exported.
	shutdown, err := Setup(context.Background(), "test", "http://192.0.2.1:4318", true)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, domain := tracer.Start(context.Background(), "domain")
	if err := RecordError(domain, apperrors.NewInsufficientBalance(1, 2)); err == nil {
		t.Fatal("RecordError swallowed the error")
	}
	domain.End()

	_, infra := tracer.Start(context.Background(), "infra")
	RecordError(infra, errors.New("connection refused"))
	infra.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("domain failure marked span as error")
	}
	if spans[1].Status().Code != codes.Error {
		t.Error("infrastructure failure not marked as error")
	}
	if RecordError(infra, nil) != nil {
		t.Error("nil error not passed through")
	}
}
