package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "debug").
		NewComponentLogger("payrun").
		WithJobID(7).
		WithEmployee("E-1").
		WithFunction("WageTypeValue", "1000")

	logger.Info("evaluated")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "payrun", entry["component"])
	assert.Equal(t, float64(7), entry["job_id"])
	assert.Equal(t, "E-1", entry["employee"])
	assert.Equal(t, "WageTypeValue", entry["function"])
	assert.Equal(t, "1000", entry["object"])
	assert.Equal(t, "evaluated", entry["message"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetricsRecorders(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordScriptInvocation("WageTypeValue", "starlark", OutcomeSuccess, 10*time.Millisecond)
	m.RecordScriptInvocation("WageTypeValue", "starlark", OutcomeTimeout, time.Second)
	m.RecordWageTypeRestart()
	m.RecordRetroRequest()
	m.RecordRetroRequest()
	m.RecordError("domain", "RESTART_LIMIT")
	m.RecordJobStarted()
	m.RecordJobCompleted("Complete", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptInvocations.WithLabelValues("WageTypeValue", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptInvocations.WithLabelValues("WageTypeValue", OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wageTypeRestarts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retroRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByCode.WithLabelValues("RESTART_LIMIT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeJobs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsCompleted.WithLabelValues("Complete")))
}

func TestMetricsDisabledAndNil(t *testing.T) {
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	var missing *Metrics
	for _, m := range []*Metrics{disabled, missing} {
		assert.NotPanics(t, func() {
			m.RecordScriptInvocation("CaseAvailable", "cel", OutcomeFailure, time.Millisecond)
			m.RecordScriptCompile("cel", OutcomeSuccess)
			m.RecordScriptCacheHit()
			m.RecordEmployeeEvaluated(OutcomeSuccess)
			m.RecordWebhook("PayrunJobFinish", OutcomeSuccess)
		})
		assert.Nil(t, m.Registry())
	}
}

func TestTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "payroll", "test", "test")
	require.NoError(t, err)

	ctx, span := tracer.StartScriptSpan(context.Background(), "WageTypeValue", "1000", "starlark")
	EndSpan(span, errors.New("boom"))
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tracer.Shutdown(context.Background()))

	var missing *Tracer
	_, span = missing.StartJobSpan(context.Background(), 1, "Monthly")
	EndSpan(span, nil)
}

func TestStartOperation(t *testing.T) {
	tel := Nop()
	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	op := StartOperation(ctx, "payrun.job")
	require.NotNil(t, op.Span)
	op.End(nil)

	bare := StartOperation(context.Background(), "payrun.job")
	assert.Nil(t, bare.Span)
	bare.End(errors.New("ignored"))

	assert.NoError(t, tel.Shutdown(context.Background()))
}
