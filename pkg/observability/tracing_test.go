package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracingExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{
		ServiceName:  "prositlmdb-test",
		SamplingRate: 1.0,
		Writer:       &buf,
	})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "convert", attribute.String("split", "train"))
	_, child := StartSpan(ctx, "batch", attribute.Int("start", 0))
	EndSpan(child, nil)
	EndSpan(span, errors.New("boom"))

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"convert"`)
	assert.Contains(t, out, `"Name":"batch"`)
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "prositlmdb-test")
}

func TestNeverSampleExportsNothing(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{ServiceName: "x", SamplingRate: 0, Writer: &buf})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "convert")
	EndSpan(span, nil)
	require.NoError(t, shutdown(context.Background()))

	assert.Empty(t, buf.String())
}
