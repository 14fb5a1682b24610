// Package httpapi exposes the intake engine over plain HTTP for long-running
// deployments. The telephony side posts one request per recognized utterance.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"voice-intake/internal/dialogue"
	"voice-intake/internal/logging"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 16 << 10
)

// Conversation is the engine surface used by the routes.
// *dialogue.Engine satisfies this interface.
type Conversation interface {
	StartSession(ctx context.Context, callID string) (dialogue.Reply, error)
	ProcessUtterance(ctx context.Context, callID, text string) (dialogue.Reply, error)
	EndSession(ctx context.Context, callID, reason string) error
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type hangupRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type server struct {
	conv   Conversation
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics http.Handler
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

// NewHandler builds the router for conv.
func NewHandler(conv Conversation, opts ...Option) (http.Handler, error) {
	if conv == nil {
		return nil, errors.New("httpapi: conversation must not be nil")
	}
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &server{conv: conv, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlation)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics)
	}
	r.Route("/calls/{callId}", func(r chi.Router) {
		r.Post("/start", s.start)
		r.Post("/utterances", s.utterance)
		r.Post("/hangup", s.hangup)
	})
	return r, nil
}

// correlation echoes the caller's correlation id, or assigns one.
func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *server) start(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	reply, err := s.conv.StartSession(r.Context(), callID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) utterance(w http.ResponseWriter, r *http.Request) {
	var body utteranceRequest
	if err := decode(r, &body, false); err != nil {
		s.fail(w, r, &dialogue.Error{Code: dialogue.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return
	}
	reply, err := s.conv.ProcessUtterance(r.Context(), chi.URLParam(r, "callId"), body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) hangup(w http.ResponseWriter, r *http.Request) {
	var body hangupRequest
	if err := decode(r, &body, true); err != nil {
		s.fail(w, r, &dialogue.Error{Code: dialogue.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return
	}
	if err := s.conv.EndSession(r.Context(), chi.URLParam(r, "callId"), body.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	de := dialogue.AsError(err)
	status := StatusFor(de.Code)
	log := s.logger.Warn
	if status >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("request failed",
		"path", r.URL.Path,
		"correlation_id", w.Header().Get(correlationHeader),
		"code", string(de.Code),
		"reason", de.Reason,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: string(de.Code), Reason: de.Reason})
}

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code dialogue.ErrorCode) int {
	if code == dialogue.ErrorInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body. When optional is set an empty body is accepted.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
