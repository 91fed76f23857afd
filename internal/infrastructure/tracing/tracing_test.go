package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_StdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	otel.SetTracerProvider(noop.NewTracerProvider())

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{
		Enabled:     true,
		ServiceName: "skillforge-test",
		SampleRatio: 5,
		Writer:      &buf,
	}, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "ingest")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "ingest"`)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 0.25, clampRatio(0.25))
	assert.Equal(t, 1.0, clampRatio(3))
}
