package traces

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "risk.Scan", Address("to", "0xabc"))
	span.SetAttributes(ScanID(7), RiskScore(88), ThreatLevel("critical"), Method("scan_transaction"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "risk.Scan", ended[0].Name())

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	assert.Equal(t, "0xabc", got["securityguard.tx.to"].AsString())
	assert.Equal(t, int64(7), got["securityguard.scan_id"].AsInt64())
	assert.Equal(t, int64(88), got["securityguard.risk_score"].AsInt64())
	assert.Equal(t, "critical", got["securityguard.threat_level"].AsString())
	assert.Equal(t, "scan_transaction", got["rpc.method"].AsString())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(0.5).Description(), "ParentBased")
	assert.Contains(t, Sampler(0).Description(), "TraceIDRatioBased")
}
