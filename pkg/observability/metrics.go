// Copyright 2025 The Maestro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes request, tool, and model metrics over
// an OpenTelemetry meter backed by a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tetraclub/maestro/pkg/config"
)

// Metrics is what the rest of the system records against. The no-op
// implementation backs disabled deployments and tests.
type Metrics interface {
	RecordRequest(ctx context.Context, duration time.Duration, iterations int, redFlag bool, err error)
	RecordToolCall(ctx context.Context, server, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, tokens int, err error)
	RecordIngestion(ctx context.Context, documents, chunks int, duration time.Duration)
}

// NoopMetrics records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(context.Context, time.Duration, int, bool, error)       {}
func (NoopMetrics) RecordToolCall(context.Context, string, string, time.Duration, error) {}
func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, error)     {}
func (NoopMetrics) RecordIngestion(context.Context, int, int, time.Duration)             {}

// PrometheusMetrics implements Metrics on otel instruments exported in
// the Prometheus format.
type PrometheusMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	requestErrors   metric.Int64Counter
	redFlagsTotal   metric.Int64Counter
	iterations      metric.Int64Histogram

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmTokens   metric.Int64Counter
	llmErrors   metric.Int64Counter

	ingestDocuments metric.Int64Counter
	ingestChunks    metric.Int64Counter
	ingestDuration  metric.Float64Histogram
}

// Init builds the exporter and instruments. Disabled config returns
// the no-op implementation.
func Init(cfg config.MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("maestro")

	m := &PrometheusMetrics{}
	for _, inst := range []struct {
		hist *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.requestDuration, "maestro_request_duration_seconds", "Orchestration run duration in seconds"},
		{&m.toolDuration, "maestro_tool_call_duration_seconds", "Tool server call duration in seconds"},
		{&m.llmDuration, "maestro_llm_request_duration_seconds", "LLM request duration in seconds"},
		{&m.ingestDuration, "maestro_ingest_duration_seconds", "Ingestion run duration in seconds"},
	} {
		h, err := meter.Float64Histogram(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", inst.name, err)
		}
		*inst.hist = h
	}
	for _, inst := range []struct {
		counter *metric.Int64Counter
		name    string
		desc    string
	}{
		{&m.requestsTotal, "maestro_requests_total", "Total orchestration runs"},
		{&m.requestErrors, "maestro_request_errors_total", "Total failed orchestration runs"},
		{&m.redFlagsTotal, "maestro_red_flags_total", "Total safety gate trips"},
		{&m.toolCalls, "maestro_tool_calls_total", "Total tool server calls"},
		{&m.toolErrors, "maestro_tool_errors_total", "Total failed tool server calls"},
		{&m.llmTokens, "maestro_llm_tokens_total", "Total tokens consumed"},
		{&m.llmErrors, "maestro_llm_errors_total", "Total failed LLM requests"},
		{&m.ingestDocuments, "maestro_ingest_documents_total", "Total documents ingested"},
		{&m.ingestChunks, "maestro_ingest_chunks_total", "Total chunks indexed"},
	} {
		c, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", inst.name, err)
		}
		*inst.counter = c
	}

	m.iterations, err = meter.Int64Histogram("maestro_request_iterations",
		metric.WithDescription("Planner iterations per request"))
	if err != nil {
		return nil, fmt.Errorf("creating maestro_request_iterations: %w", err)
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordRequest(ctx context.Context, duration time.Duration, iterations int, redFlag bool, err error) {
	m.requestDuration.Record(ctx, duration.Seconds())
	m.requestsTotal.Add(ctx, 1)
	m.iterations.Record(ctx, int64(iterations))
	if redFlag {
		m.redFlagsTotal.Add(ctx, 1)
	}
	if err != nil {
		m.requestErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, server, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("tool", tool),
	)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if tokens > 0 {
		m.llmTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordIngestion(ctx context.Context, documents, chunks int, duration time.Duration) {
	m.ingestDocuments.Add(ctx, int64(documents))
	m.ingestChunks.Add(ctx, int64(chunks))
	m.ingestDuration.Record(ctx, duration.Seconds())
}
