package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Metrics holds the pipeline's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components never need to check.
type Metrics struct {
	registry *prometheus.Registry

	chunksWritten     *prometheus.CounterVec
	batches           *prometheus.CounterVec
	batchLatency      prometheus.Histogram
	parseFailures     prometheus.Counter
	stateTransitions  *prometheus.CounterVec
	duplicateRisk     prometheus.Counter
	consistencyGaps   *prometheus.CounterVec
	documentsScanned  *prometheus.CounterVec
	referenceFailures prometheus.Counter
	retrievalLatency  prometheus.Histogram
	collaboratorCalls *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Init builds the process-wide collectors on a private registry.
func Init() *Metrics {
	initOnce.Do(func() {
		instance = NewMetrics(prometheus.NewRegistry())
	})
	return instance
}

// Current returns the process-wide metrics, or nil before Init.
func Current() *Metrics {
	return instance
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		chunksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "chunks_written_total",
			Help:      "Chunks written to both the vector index and the relational store.",
		}, []string{"type"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "ingest_batches_total",
			Help:      "Ingestion batches by outcome.",
		}, []string{"outcome"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docrag",
			Name:      "ingest_batch_duration_seconds",
			Help:      "Embed plus dual-write time per batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "ocr_parse_failures_total",
			Help:      "OCR output files skipped because they could not be parsed.",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "document_transitions_total",
			Help:      "Committed document state transitions.",
		}, []string{"state"}),
		duplicateRisk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "blob_duplicate_risk_total",
			Help:      "Blob moves whose copy succeeded but delete failed.",
		}),
		consistencyGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "consistency_gaps_total",
			Help:      "Batches left written to one store only.",
		}, []string{"stage"}),
		documentsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "scanned_documents_total",
			Help:      "Documents seen by the scanner by outcome.",
		}, []string{"outcome"}),
		referenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "reference_link_failures_total",
			Help:      "References that degraded to filename-only.",
		}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docrag",
			Name:      "retrieval_duration_seconds",
			Help:      "Prompt assembly time including embedding and search.",
			Buckets:   prometheus.DefBuckets,
		}),
		collaboratorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Name:      "collaborator_calls_total",
			Help:      "Calls to external collaborators by result.",
		}, []string{"collaborator", "result"}),
	}
	reg.MustRegister(
		m.chunksWritten,
		m.batches,
		m.batchLatency,
		m.parseFailures,
		m.stateTransitions,
		m.duplicateRisk,
		m.consistencyGaps,
		m.documentsScanned,
		m.referenceFailures,
		m.retrievalLatency,
		m.collaboratorCalls,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBatch(chunkTypes []string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.batchLatency.Observe(dur.Seconds())
	if err != nil {
		m.batches.WithLabelValues("error").Inc()
		return
	}
	m.batches.WithLabelValues("ok").Inc()
	for _, t := range chunkTypes {
		m.chunksWritten.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) IncParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

func (m *Metrics) IncTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) IncDuplicateRisk() {
	if m == nil {
		return
	}
	m.duplicateRisk.Inc()
}

func (m *Metrics) IncConsistencyGap(stage string) {
	if m == nil {
		return
	}
	m.consistencyGaps.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncScanned(outcome string) {
	if m == nil {
		return
	}
	m.documentsScanned.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReferenceFailure() {
	if m == nil {
		return
	}
	m.referenceFailures.Inc()
}

func (m *Metrics) ObserveRetrieval(dur time.Duration) {
	if m == nil {
		return
	}
	m.retrievalLatency.Observe(dur.Seconds())
}

func (m *Metrics) ObserveCollaborator(collaborator string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.collaboratorCalls.WithLabelValues(collaborator, result).Inc()
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, log *logger.Logger, addr string) {
	addr = strings.TrimSpace(addr)
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
}
