// Package server exposes the scoring model over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/ml"
	"credit-engine/internal/scoring"
	"credit-engine/internal/training"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	maxBodyBytes          = 1 << 20
	defaultRequestTimeout = 5 * time.Second
)

// Scorer is the part of scoring.Model the API serves.
type Scorer interface {
	PredictProbability(values []float64) (float64, error)
	Explain(values []float64) (explain.Result, error)
	Info() scoring.Info
	FeatureImportance() training.ImportanceTable
	Drift() (drift.Report, error)
}

// Observer is notified once per completed request.
type Observer interface {
	RequestServed(handler string, status int, latency time.Duration)
}

// Server provides the HTTP API for credit decisions.
type Server struct {
	scorer   Scorer
	server   *http.Server
	logger   zerolog.Logger
	observer Observer
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithRequestTimeout bounds the time spent handling one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a server for scorer listening on port.
func New(scorer Scorer, port int, opts ...Option) *Server {
	s := &Server{
		scorer:  scorer,
		logger:  log.Logger,
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/explain", s.instrument("/explain", s.handleExplain))
	mux.HandleFunc("/predict", s.instrument("/predict", s.handlePredict))
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("/model/info", s.instrument("/model/info", s.handleModelInfo))
	mux.HandleFunc("/importance", s.instrument("/importance", s.handleImportance))
	mux.HandleFunc("/drift", s.instrument("/drift", s.handleDrift))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      http.TimeoutHandler(mux, s.timeout, `{"error":"request timed out"}`),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the root handler, including the request timeout.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting credit api")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	start := time.Now()
	req, ok := s.decodeScoreRequest(w, r)
	if !ok {
		return
	}

	res, err := s.scorer.Explain(req.Features)
	if err != nil {
		s.writeScoringError(w, err, req.RequestID)
		return
	}

	s.logger.Debug().
		Str("request_id", req.RequestID).
		Str("decision", string(res.Decision)).
		Float64("probability", res.ApprovalProbability).
		Msg("explanation served")

	writeJSON(w, http.StatusOK, ExplainResponse{
		Result:       res,
		RequestID:    req.RequestID,
		ModelVersion: s.scorer.Info().Version,
		Latency:      milliseconds(time.Since(start)),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	start := time.Now()
	req, ok := s.decodeScoreRequest(w, r)
	if !ok {
		return
	}

	p, err := s.scorer.PredictProbability(req.Features)
	if err != nil {
		s.writeScoringError(w, err, req.RequestID)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		ApprovalProbability: p,
		RequestID:           req.RequestID,
		ModelVersion:        s.scorer.Info().Version,
		Latency:             milliseconds(time.Since(start)),
		Timestamp:           time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	info := s.scorer.Info()
	health := HealthStatus{
		Status:       StatusOK,
		Trained:      info.Trained,
		ModelVersion: info.Version,
		Timestamp:    time.Now().UTC(),
	}

	status := http.StatusOK
	if !info.Trained {
		health.Status = StatusUntrained
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.scorer.Info())
}

func (s *Server) handleImportance(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	table := s.scorer.FeatureImportance()
	if len(table) == 0 {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: ml.ErrNotTrained.Error()})
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.scorer.Drift()
	if err != nil {
		s.writeScoringError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// decodeScoreRequest parses the body and assigns a request id when the
// caller did not send one. It writes the error reply itself.
func (s *Server) decodeScoreRequest(w http.ResponseWriter, r *http.Request) (ScoreRequest, bool) {
	var req ScoreRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return req, false
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return req, true
}

func (s *Server) writeScoringError(w http.ResponseWriter, err error, requestID string) {
	resp := ErrorResponse{Error: err.Error(), RequestID: requestID}

	var (
		mismatch *ml.SchemaMismatchError
		invalid  *ml.InvalidInputError
	)
	switch {
	case errors.Is(err, ml.ErrNotTrained):
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &mismatch), errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("scoring failed")
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// instrument reports the status and latency of every request to the observer.
func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.observer != nil {
			s.observer.RequestServed(name, rec.status, time.Since(start))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
