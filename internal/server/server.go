// Package server exposes the companion's JSON API over HTTP.
//
// Every variant is addressed by name under /api/variants/{variant}. Mutating
// endpoints answer with the variant's current [variant.View] so the UI can
// re-render from one response:
//
//	POST /api/variants/{variant}/mount            resume saved progress
//	GET  /api/variants/{variant}                  current view
//	POST /api/variants/{variant}/capture/begin    start recording
//	POST /api/variants/{variant}/capture/audio    push PCM or WAV
//	POST /api/variants/{variant}/capture/end      stop and analyze
//	POST /api/variants/{variant}/submit           mint the attempt
//
// Probes and metrics are mounted next to the API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/health"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/progress"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/speech"
	"github.com/toecm/pureconvo/internal/variant"
)

// maxAudioBody bounds one audio upload: five minutes of 16 kHz mono PCM.
const maxAudioBody = 5 * 60 * 16000 * 2

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 64 << 10

// Drivers resolves variant drivers by name.
type Drivers interface {
	// Driver returns the driver for name, creating it on first use.
	// Unknown or disabled names return [variant.ErrUnknownVariant].
	Driver(ctx context.Context, name string) (*variant.Driver, error)

	// Variants lists the served variants in menu order.
	Variants() []variant.Config
}

// Server serves the companion API.
type Server struct {
	drivers Drivers
	sess    *session.State
	source  catalog.Source
	speaker *speech.Speaker
	health  *health.Handler
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithSpeaker enables the voice listing endpoint.
func WithSpeaker(sp *speech.Speaker) Option {
	return func(s *Server) { s.speaker = sp }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps the API in the observe middleware and mounts /metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a server over drivers. src is used by the dialect refresh
// endpoint.
func New(drivers Drivers, sess *session.State, src catalog.Source, opts ...Option) *Server {
	s := &Server{drivers: drivers, sess: sess, source: src}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/consent", s.handleConsent)
	mux.HandleFunc("POST /api/nickname", s.handleNickname)
	mux.HandleFunc("GET /api/dialects", s.handleDialects)
	mux.HandleFunc("POST /api/dialects/refresh", s.handleRefreshDialects)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/variants", s.handleVariants)

	mux.HandleFunc("POST /api/variants/{variant}/mount", s.withDriver(s.handleMount))
	mux.HandleFunc("GET /api/variants/{variant}", s.withDriver(s.handleView))
	mux.HandleFunc("POST /api/variants/{variant}/capture/permission", s.withDriver(s.handlePermission))
	mux.HandleFunc("POST /api/variants/{variant}/capture/begin", s.withDriver(s.handleBegin))
	mux.HandleFunc("POST /api/variants/{variant}/capture/audio", s.withDriver(s.handleAudio))
	mux.HandleFunc("POST /api/variants/{variant}/capture/end", s.withDriver(s.handleEnd))
	mux.HandleFunc("POST /api/variants/{variant}/analyze", s.withDriver(s.handleAnalyze))
	mux.HandleFunc("POST /api/variants/{variant}/dialect", s.withDriver(s.handleDialect))
	mux.HandleFunc("POST /api/variants/{variant}/transcript", s.withDriver(s.handleTranscript))
	mux.HandleFunc("POST /api/variants/{variant}/meaning", s.withDriver(s.handleMeaning))
	mux.HandleFunc("POST /api/variants/{variant}/tone", s.withDriver(s.handleTone))
	mux.HandleFunc("POST /api/variants/{variant}/regenerate", s.withDriver(s.handleRegenerate))
	mux.HandleFunc("POST /api/variants/{variant}/retry", s.withDriver(s.handleRetry))
	mux.HandleFunc("POST /api/variants/{variant}/submit", s.withDriver(s.handleSubmit))
	mux.HandleFunc("POST /api/variants/{variant}/skip", s.withDriver(s.handleSkip))
	mux.HandleFunc("POST /api/variants/{variant}/reset", s.withDriver(s.handleReset))
	mux.HandleFunc("POST /api/variants/{variant}/setup", s.withDriver(s.handleSetup))
	mux.HandleFunc("POST /api/variants/{variant}/onboard", s.withDriver(s.handleOnboard))
	mux.HandleFunc("GET /api/variants/{variant}/reply.wav", s.withDriver(s.handleReply))

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully. TLS is used when both files are given.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

type driverHandler func(w http.ResponseWriter, r *http.Request, d *variant.Driver)

// withDriver resolves the {variant} path value.
func (s *Server) withDriver(h driverHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.drivers.Driver(r.Context(), r.PathValue("variant"))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, d)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("server: request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, variant.ErrUnknownVariant):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrWrongStage),
		errors.Is(err, pipeline.ErrNoArtifact),
		errors.Is(err, capture.ErrDeviceClosed):
		return http.StatusConflict
	case errors.Is(err, variant.ErrConsentRequired),
		errors.Is(err, pipeline.ErrChallengeFailed):
		return http.StatusForbidden
	case errors.Is(err, progress.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, pipeline.ErrNoDialect),
		errors.Is(err, pipeline.ErrUnknownDialect),
		errors.Is(err, pipeline.ErrUnknownTone),
		errors.Is(err, pipeline.ErrEmptyTranscript),
		errors.Is(err, pipeline.ErrEmptyMeaning),
		errors.Is(err, pipeline.ErrCustomDialectRequired),
		errors.Is(err, variant.ErrInvalidSetup),
		errors.Is(err, variant.ErrInvalidProfile),
		errors.Is(err, capture.ErrNoAudio),
		errors.Is(err, errBadAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrCapture):
		return http.StatusServiceUnavailable
	case errors.Is(err, inference.ErrSubmission),
		errors.Is(err, inference.ErrConnection),
		errors.Is(err, speech.ErrSpeech):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
