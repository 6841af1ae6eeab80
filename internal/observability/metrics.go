package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func attrMemory(memoryID string) attribute.KeyValue { return attribute.String("memory_id", memoryID) }
func attrStage(stage string) attribute.KeyValue      { return attribute.String("stage", stage) }
func attrOutcome(outcome string) attribute.KeyValue  { return attribute.String("outcome", outcome) }

// Metrics wires the ingestion/query stage counters and histograms onto a
// Prometheus-backed OTel meter, generalizing rag/service.Metrics'
// IncCounter/ObserveHistogram calls onto a real exporter instead of the
// teacher's no-op default.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	ingestStageMS  metric.Float64Histogram
	ingestChunks   metric.Int64Counter
	ingestFailures metric.Int64Counter
	retrievalMS    metric.Float64Histogram
	retrievalMode  metric.Int64Counter
}

// NewMetrics constructs a MeterProvider backed by the Prometheus exporter
// registered on /metrics, matching SPEC_FULL's "Prometheus metrics
// endpoint" supplement.
func NewMetrics(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	ingestStageMS, err := meter.Float64Histogram("ingestion_stage_ms",
		metric.WithDescription("Duration of each ingestion pipeline stage in milliseconds"))
	if err != nil {
		return nil, nil, err
	}
	ingestChunks, err := meter.Int64Counter("ingestion_extraction_chunks_total",
		metric.WithDescription("Extraction chunks processed, labeled by outcome"))
	if err != nil {
		return nil, nil, err
	}
	ingestFailures, err := meter.Int64Counter("ingestion_failures_total",
		metric.WithDescription("Ingestion failures by stage"))
	if err != nil {
		return nil, nil, err
	}
	retrievalMS, err := meter.Float64Histogram("retrieval_stage_ms",
		metric.WithDescription("Duration of query-engine retrieval stages in milliseconds"))
	if err != nil {
		return nil, nil, err
	}
	retrievalMode, err := meter.Int64Counter("retrieval_mode_total",
		metric.WithDescription("Q&A retrievals labeled by mode (graph-guided|rag-only)"))
	if err != nil {
		return nil, nil, err
	}

	m := &Metrics{
		provider:       provider,
		ingestStageMS:  ingestStageMS,
		ingestChunks:   ingestChunks,
		ingestFailures: ingestFailures,
		retrievalMS:    retrievalMS,
		retrievalMode:  retrievalMode,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return m, mux, nil
}

// ObserveIngestStage records the elapsed duration of one ingestion stage.
func (m *Metrics) ObserveIngestStage(ctx context.Context, memoryID, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestStageMS.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attrMemory(memoryID), attrStage(stage)))
}

// IncIngestChunk records one extraction chunk's outcome ("ok" or "failed").
func (m *Metrics) IncIngestChunk(ctx context.Context, memoryID, outcome string) {
	if m == nil {
		return
	}
	m.ingestChunks.Add(ctx, 1, metric.WithAttributes(attrMemory(memoryID), attrOutcome(outcome)))
}

// IncIngestFailure records a terminal ingestion failure at stage.
func (m *Metrics) IncIngestFailure(ctx context.Context, memoryID, stage string) {
	if m == nil {
		return
	}
	m.ingestFailures.Add(ctx, 1, metric.WithAttributes(attrMemory(memoryID), attrStage(stage)))
}

// ObserveRetrievalStage records one retrieval-core stage's duration.
func (m *Metrics) ObserveRetrievalStage(ctx context.Context, memoryID, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalMS.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attrMemory(memoryID), attrStage(stage)))
}

// IncRetrievalMode records which retrieval path (graph-guided or
// rag-only) served a question_answer/memory_query call.
func (m *Metrics) IncRetrievalMode(ctx context.Context, memoryID, mode string) {
	if m == nil {
		return
	}
	m.retrievalMode.Add(ctx, 1, metric.WithAttributes(attrMemory(memoryID), attribute.String("mode", mode)))
}

// Shutdown flushes and releases the meter provider's resources.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
