// Package metrics exposes Prometheus counters/histograms for the secdb
// domain stack (writer, reader, catalog, tail, livefeed) plus a /healthz
// endpoint reporting the status of each dependency.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the secdb toolchain.
type Metrics struct {
	RecordsWritten   *prometheus.CounterVec // labels: kind=seconds|quote|trade
	RecordsRead      *prometheus.CounterVec // labels: kind=seconds|quote|trade
	BytesWritten     prometheus.Counter
	CandleCommits    prometheus.Counter
	DecodeRefills    prometheus.Counter
	BackpatchErrors  prometheus.Counter
	WriteDuration    prometheus.Histogram
	VisitDuration    prometheus.Histogram

	// catalog (internal/catalog, SQLite)
	CatalogCommitDur prometheus.Histogram
	CatalogFilesTotal prometheus.Counter

	// tail (internal/tail, Redis Streams)
	TailPublishDur        prometheus.Histogram
	TailCircuitState      prometheus.Gauge // 0=closed, 1=open, 2=half-open
	TailCircuitTrips      prometheus.Counter
	TailBufferedPublishes prometheus.Counter

	// livefeed (internal/livefeed, WebSocket)
	LivefeedClients     prometheus.Gauge
	LivefeedFanoutDrops *prometheus.CounterVec // labels: subscriber (value: the client's stream key)
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secdb_records_written_total",
			Help: "Total records appended to the data stream, by kind",
		}, []string{"kind"}),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secdb_records_read_total",
			Help: "Total records decoded from the data stream, by kind",
		}, []string{"kind"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_bytes_written_total",
			Help: "Total bytes written to .sdb files",
		}),
		CandleCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_candle_commits_total",
			Help: "Total CandlesMeta Commit (back-patch) calls",
		}),
		DecodeRefills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_decode_refills_total",
			Help: "Total buffer refills the reader's decode loop performed",
		}),
		BackpatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_backpatch_errors_total",
			Help: "Total failed back-patch writes (StreamsMeta data offset or candle commit)",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "secdb_write_duration_seconds",
			Help:    "Latency of one WriteQuotes/WriteTrade call",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		VisitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "secdb_visit_duration_seconds",
			Help:    "Latency of a full Reader.Visit pass over one file",
			Buckets: prometheus.DefBuckets,
		}),

		CatalogCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "secdb_catalog_commit_duration_seconds",
			Help:    "SQLite catalog insert/commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		CatalogFilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_catalog_files_total",
			Help: "Total .sdb files recorded in the catalog",
		}),

		TailPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "secdb_tail_publish_duration_seconds",
			Help:    "Redis Stream XADD latency",
			Buckets: prometheus.DefBuckets,
		}),
		TailCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "secdb_tail_circuit_breaker_state",
			Help: "Tail publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TailCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_tail_circuit_breaker_trips_total",
			Help: "Times the tail publisher's circuit breaker tripped open",
		}),
		TailBufferedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secdb_tail_buffered_publishes_total",
			Help: "Publishes buffered locally while the circuit breaker was open",
		}),

		LivefeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "secdb_livefeed_clients",
			Help: "Current number of connected livefeed WebSocket clients",
		}),
		LivefeedFanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secdb_livefeed_fanout_drops_total",
			Help: "Records dropped by the livefeed hub per subscribed stream key (slow consumer)",
		}, []string{"subscriber"}),
	}

	prometheus.MustRegister(
		m.RecordsWritten,
		m.RecordsRead,
		m.BytesWritten,
		m.CandleCommits,
		m.DecodeRefills,
		m.BackpatchErrors,
		m.WriteDuration,
		m.VisitDuration,
		m.CatalogCommitDur,
		m.CatalogFilesTotal,
		m.TailPublishDur,
		m.TailCircuitState,
		m.TailCircuitTrips,
		m.TailBufferedPublishes,
		m.LivefeedClients,
		m.LivefeedFanoutDrops,
	)

	return m
}

// HealthStatus represents the liveness of secdb's downstream dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	LivefeedUp     bool      `json:"livefeed_up"`
	LastRecordTime time.Time `json:"last_record_time"`
	TailConnected  bool      `json:"tail_connected"`
	CatalogOK      bool      `json:"catalog_ok"`

	TailLatencyMs    float64   `json:"tail_latency_ms"`
	CatalogLatencyMs float64   `json:"catalog_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLivefeedUp(v bool) {
	h.mu.Lock()
	h.LivefeedUp = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRecordTime(t time.Time) {
	h.mu.Lock()
	h.LastRecordTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetTailConnected(v bool) {
	h.mu.Lock()
	h.TailConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetCatalogOK(v bool) {
	h.mu.Lock()
	h.CatalogOK = v
	h.mu.Unlock()
}

// CheckTail pings the Redis connection backing internal/tail and records
// latency + connectivity.
func (h *HealthStatus) CheckTail(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.TailConnected = err == nil
	h.TailLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckCatalog pings the SQLite catalog and records latency + health.
func (h *HealthStatus) CheckCatalog(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.CatalogOK = err == nil
	h.CatalogLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks on interval until ctx
// is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckTail(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckCatalog(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.TailConnected || !h.CatalogOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.TailConnected && !h.CatalogOK {
		overallStatus = "unhealthy"
	}

	recordAge := ""
	if !h.LastRecordTime.IsZero() {
		recordAge = time.Since(h.LastRecordTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		LivefeedUp       bool    `json:"livefeed_up"`
		LastRecordTime   string  `json:"last_record_time"`
		RecordAge        string  `json:"record_age"`
		TailConnected    bool    `json:"tail_connected"`
		TailLatencyMs    float64 `json:"tail_latency_ms"`
		CatalogOK        bool    `json:"catalog_ok"`
		CatalogLatencyMs float64 `json:"catalog_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		LivefeedUp:       h.LivefeedUp,
		LastRecordTime:   h.LastRecordTime.Format(time.RFC3339),
		RecordAge:        recordAge,
		TailConnected:    h.TailConnected,
		TailLatencyMs:    h.TailLatencyMs,
		CatalogOK:        h.CatalogOK,
		CatalogLatencyMs: h.CatalogLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
