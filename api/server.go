// Package api serves the HTTP surface: user and subscription CRUD,
// chain stat reads, the SSE block event stream, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
	"github.com/Hydraverse/db/events"
	"github.com/Hydraverse/db/ingest"
)

// Server wires the HTTP handlers over the shared storage, registry and
// event hub.
type Server struct {
	log     *zap.Logger
	dbc     *db.DB
	reg     *db.Registry
	hub     *events.Hub
	mainnet bool
	met     *ingest.Metrics

	eventsrc EventStore

	srv *http.Server
}

func NewServer(addr string, dbc *db.DB, reg *db.Registry, hub *events.Hub, mainnet bool, met *ingest.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		log:     logger.Named("api"),
		dbc:     dbc,
		reg:     reg,
		hub:     hub,
		mainnet: mainnet,
		met:     met,
	}

	r := mux.NewRouter()
	r.HandleFunc("/server/info", s.handleServerInfo).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(met.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/sse/block", s.handleSSEBlock).Methods(http.MethodGet)
	r.HandleFunc("/sse/block/next", s.handleSSEBlockNext).Methods(http.MethodGet)
	r.HandleFunc("/sse/block/{block_pk:[0-9]+}/{event:create|mature}", s.handleSSETrigger).Methods(http.MethodGet)

	r.HandleFunc("/u/", s.handleUserCreate).Methods(http.MethodPost)
	r.HandleFunc("/u/{pk:[0-9]+}", s.handleUserGet).Methods(http.MethodGet)
	r.HandleFunc("/u/tg/{tgid:[0-9]+}", s.handleUserGetTg).Methods(http.MethodGet)
	r.HandleFunc("/u/{pk:[0-9]+}", s.handleUserDelete).Methods(http.MethodDelete)
	r.HandleFunc("/u/{pk:[0-9]+}/info", s.handleUserInfo).Methods(http.MethodPut)

	r.HandleFunc("/u/{pk:[0-9]+}/a/", s.handleSubAdd).Methods(http.MethodPost)
	r.HandleFunc("/u/{pk:[0-9]+}/a/", s.handleSubList).Methods(http.MethodGet)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{addr}", s.handleSubGet).Methods(http.MethodGet)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{ua:[0-9]+}", s.handleSubUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{ua:[0-9]+}", s.handleSubDelete).Methods(http.MethodDelete)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{ua:[0-9]+}/hist", s.handleSubHist).Methods(http.MethodGet)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{ua:[0-9]+}/t", s.handleTokenAdd).Methods(http.MethodPost)
	r.HandleFunc("/u/{pk:[0-9]+}/a/{ua:[0-9]+}/t/{addr}", s.handleTokenDelete).Methods(http.MethodDelete)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		// SSE streams are long-lived; only reads are bounded.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Shutdown drains connections until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"mainnet": s.mainnet})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	store := s.dbc.Store()

	latest, err := store.LatestStat(r.Context())
	if err != nil {
		s.error(w, r, err)
		return
	}
	if latest == nil {
		s.respond(w, http.StatusOK, map[string]any{"current": nil})
		return
	}

	q1d, err := store.QuantStat1D(r.Context())
	if err != nil {
		s.error(w, r, err)
		return
	}
	qnw, err := store.QuantNetWeight(r.Context())
	if err != nil {
		s.error(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"current":    latest,
		"median_1d":  q1d,
		"net_weight": qnw,
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.log.Warn("response encode failed", zap.Error(err))
		}
	}
}

// error maps storage and validation failures onto HTTP statuses:
// missing rows 404, rejected input 400, conflicts 403, the rest 500.
func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrInvalidAddress), errors.Is(err, db.ErrBadSubName), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case db.IsUniqueViolation(err):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.respond(w, status, map[string]any{"detail": err.Error()})
}

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)
