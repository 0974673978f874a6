package http

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/mesh"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusReporter exposes the outcome of the latest sync pass per client.
type StatusReporter interface {
	sharedobs.ReadinessChecker
	Status() []pipeline.ClientStatus
}

// LedgerReader lists a client's committed date keys.
type LedgerReader interface {
	CommittedDates(ctx context.Context, client string) ([]domain.DateKey, error)
}

// NodeQuerier answers node queries against a client's mesh file for one date.
type NodeQuerier interface {
	NodeData(ctx context.Context, client string, key domain.DateKey, lon, lat, depth float64, category string) (domain.Frame, error)
	Polar(ctx context.Context, client string, key domain.DateKey, lon, lat, depth float64) (domain.PolarFrame, error)
}

// Option configures a Server.
type Option func(*http.ServeMux, *Server)

// WithNodeQuery adds the /clients/{client}/dates/{date}/node and /polar routes.
func WithNodeQuery(q NodeQuerier) Option {
	return func(mux *http.ServeMux, s *Server) {
		mux.HandleFunc("GET /clients/{client}/dates/{date}/node", s.handleNode(q))
		mux.HandleFunc("GET /clients/{client}/dates/{date}/polar", s.handlePolar(q))
	}
}

// Server exposes health, readiness, metrics, and sync status HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /status, and /clients/{client}/dates routes.
func NewServer(addr string, status StatusReporter, ledger LedgerReader, logger *slog.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(status))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", handleStatus(status))
	mux.HandleFunc("GET /clients/{client}/dates", s.handleDates(ledger))
	for _, opt := range opts {
		opt(mux, s)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleStatus(status StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"clients": status.Status()})
	}
}

func (s *Server) handleDates(ledger LedgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.PathValue("client")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		keys, err := ledger.CommittedDates(ctx, client)
		if err != nil {
			s.logger.Error("read ledger failed", "client", client, "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if keys == nil {
			keys = []domain.DateKey{}
		}
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"client": client, "dates": keys})
	}
}

// Missing values (NaN) are encoded as null.
type sampleJSON struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

type polarJSON struct {
	Time  time.Time `json:"time"`
	R     *float64  `json:"r"`
	Theta *float64  `json:"theta"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// point reads the date path value and lon, lat, depth query parameters.
// depth defaults to the surface.
func point(r *http.Request) (domain.DateKey, [3]float64, error) {
	var p [3]float64
	key, err := domain.ParseDateKey(r.PathValue("date"))
	if err != nil {
		return "", p, err
	}
	q := r.URL.Query()
	if q.Get("depth") == "" {
		q.Set("depth", "1")
	}
	for i, name := range []string{"lon", "lat", "depth"} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return "", p, fmt.Errorf("invalid %s %q", name, q.Get(name))
		}
		p[i] = v
	}
	return key, p, nil
}

func (s *Server) handleNode(q NodeQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.PathValue("client")
		key, p, err := point(r)
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		category := r.URL.Query().Get("category")
		if category == "" {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "category is required"})
			return
		}

		f, err := q.NodeData(r.Context(), client, key, p[0], p[1], p[2], category)
		if err != nil {
			s.queryError(w, client, key, err)
			return
		}
		samples := make([]sampleJSON, len(f.Samples))
		for i, smp := range f.Samples {
			samples[i] = sampleJSON{Time: smp.Time, Value: finite(smp.Value)}
		}
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
			"client": client, "date": key, "category": f.Category, "element": f.Element, "samples": samples,
		})
	}
}

func (s *Server) handlePolar(q NodeQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.PathValue("client")
		key, p, err := point(r)
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		pf, err := q.Polar(r.Context(), client, key, p[0], p[1], p[2])
		if err != nil {
			s.queryError(w, client, key, err)
			return
		}
		samples := make([]polarJSON, len(pf.Samples))
		for i, smp := range pf.Samples {
			samples[i] = polarJSON{Time: smp.Time, R: finite(smp.R), Theta: finite(smp.Theta)}
		}
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
			"client": client, "date": key, "element": pf.Element, "samples": samples,
		})
	}
}

func (s *Server) queryError(w http.ResponseWriter, client string, key domain.DateKey, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, mesh.ErrUnknownCategory), errors.Is(err, mesh.ErrOutsideMesh), errors.Is(err, mesh.ErrItemMissing):
		status = http.StatusUnprocessableEntity
	default:
		s.logger.Error("node query failed", "client", client, "date_key", key, "error", err)
	}
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
