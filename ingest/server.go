package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hostwatch/hostwatch/model"
	"github.com/hostwatch/hostwatch/storage"
)

const shutdownGrace = 10 * time.Second

// ingestRequest is the wire body for POST /ingest. The envelope hostname is
// authoritative when the embedded snapshot leaves it empty.
type ingestRequest struct {
	Hostname string                `json:"hostname"`
	Metrics  *model.MetricSnapshot `json:"metrics"`
}

type ingestResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Server exposes the ingestion HTTP API.
type Server struct {
	service *Service
	store   storage.Store
	logger  *slog.Logger
	http    *http.Server
}

// NewServer creates an HTTP server listening on addr.
func NewServer(addr string, service *Service, store storage.Store, logger *slog.Logger) *Server {
	s := &Server{service: service, store: store, logger: logger}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return r
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is canceled, then shuts down gracefully: the listener
// stops taking connections and in-flight requests get shutdownGrace to finish.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(shutCtx); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, "malformed request body: "+err.Error())
		return
	}
	if req.Metrics == nil {
		s.reject(w, "missing metrics payload")
		return
	}
	snap := req.Metrics
	if snap.Hostname == "" {
		snap.Hostname = req.Hostname
	} else if req.Hostname != "" && req.Hostname != snap.Hostname {
		s.reject(w, "envelope hostname does not match snapshot hostname")
		return
	}

	err := s.service.Ingest(r.Context(), snap)
	var verr *ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ingestResponse{Status: "accepted"})
	case errors.As(err, &verr):
		s.reject(w, verr.Reason)
	default:
		s.logger.Error("snapshot write failed", "hostname", snap.Hostname, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ingestResponse{
			Status: "rejected", Reason: "storage unavailable",
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy", "reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host := q.Get("host")

	var since, until time.Time
	var err error
	if v := q.Get("since"); v != "" {
		if since, err = time.Parse(time.RFC3339, v); err != nil {
			s.reject(w, "invalid since: "+err.Error())
			return
		}
	}
	if v := q.Get("until"); v != "" {
		if until, err = time.Parse(time.RFC3339, v); err != nil {
			s.reject(w, "invalid until: "+err.Error())
			return
		}
	}

	snaps, err := s.store.Query(r.Context(), host, since, until)
	if err != nil {
		s.logger.Error("metrics query failed", "host", host, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ingestResponse{
			Status: "rejected", Reason: "storage unavailable",
		})
		return
	}
	if snaps == nil {
		snaps = []model.MetricSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) reject(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "rejected", Reason: reason})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
