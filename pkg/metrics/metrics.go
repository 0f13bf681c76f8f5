package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/titee12345678/PMSYSTEMANDPREDICTION/pkg/logx"
)

var (
	// RecordsImported counts batch-import outcomes by result (success|failed)
	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmsys_records_imported_total",
		Help: "Maintenance records processed by batch import, by result",
	}, []string{"result"})

	// AnalysesRun counts analytic operations by name
	AnalysesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmsys_analyses_total",
		Help: "Analytic operations executed, by operation",
	}, []string{"operation"})

	// ImportBatchDuration observes wall time of whole import batches
	ImportBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmsys_import_batch_duration_seconds",
		Help:    "Duration of record import batches",
		Buckets: prometheus.DefBuckets,
	})
)

// Server exposes the Prometheus registry over HTTP
type Server struct {
	srv    *http.Server
	logger *logx.Logger
}

// NewServer creates a metrics server listening on the given port
func NewServer(port int, logger *logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves the metrics endpoint until the listener fails or is closed
func (s *Server) Start() {
	s.logger.Info("metrics listener started", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("metrics listener failed", "error", err)
	}
}

// Close shuts the listener down
func (s *Server) Close() error {
	return s.srv.Close()
}
