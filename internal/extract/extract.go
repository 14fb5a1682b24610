// Package extract validates normalized candidates and, for vehicle plates and
// arrival times, delegates structural extraction to a generative model whose
// answer is accepted only when it matches a strict pattern.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"voice-intake/internal/domain"
	"voice-intake/internal/logging"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultCacheSize = 512
)

// InferenceClient is the generative-model collaborator.
// *openai.Client satisfies this interface.
type InferenceClient interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Observer receives one event per inference attempt.
// *metrics.Metrics satisfies this interface.
type Observer interface {
	Inference(kind, result string, d time.Duration)
}

const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultError    = "error"
	resultTimeout  = "timeout"
	resultCached   = "cached"
)

// InferStructured asks client for the plate or ETA contained in candidate and
// returns it only when the answer conforms to the field's strict pattern.
// Failures, timeouts and non-conforming answers all yield "".
func InferStructured(ctx context.Context, client InferenceClient, candidate string, field domain.FieldKey, timeout time.Duration) string {
	v, _, _ := infer(ctx, client, candidate, field.Kind(), timeout)
	return v
}

func infer(ctx context.Context, client InferenceClient, candidate string, kind domain.FieldKind, timeout time.Duration) (string, string, error) {
	if client == nil {
		return "", resultError, errors.New("extract: no inference client configured")
	}
	if kind != domain.KindPlate && kind != domain.KindTime {
		return "", resultRejected, nil
	}
	if strings.TrimSpace(candidate) == "" {
		return "", resultRejected, nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := client.Complete(ctx, promptFor(kind, candidate), timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", resultTimeout, err
		}
		return "", resultError, err
	}
	if v := conform(answer, kind); v != "" {
		return v, resultAccepted, nil
	}
	return "", resultRejected, nil
}

// Extractor turns a normalized candidate into an accepted field value.
type Extractor struct {
	client  InferenceClient
	timeout time.Duration
	cache   *lru.Cache[string, string]
	obs     Observer
	logger  *slog.Logger
}

type Option func(*Extractor)

func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCacheSize bounds the cache of accepted inferences. Zero disables it.
func WithCacheSize(n int) Option {
	return func(e *Extractor) {
		if n <= 0 {
			e.cache = nil
			return
		}
		e.cache, _ = lru.New[string, string](n)
	}
}

func WithObserver(o Observer) Option {
	return func(e *Extractor) {
		e.obs = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Extractor. client may be nil, in which case plate and ETA
// candidates are accepted only when they already conform.
func New(client InferenceClient, opts ...Option) *Extractor {
	e := &Extractor{
		client:  client,
		timeout: defaultTimeout,
		logger:  logging.NewNop(),
	}
	e.cache, _ = lru.New[string, string](defaultCacheSize)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the accepted value for field, or false when the caller
// should ask again.
func (e *Extractor) Extract(ctx context.Context, field domain.FieldKey, normalized string) (string, bool) {
	normalized = strings.TrimSpace(normalized)
	kind := field.Kind()
	if kind == domain.KindName || kind == domain.KindNumber {
		return normalized, ValidateDirect(normalized, field)
	}
	if normalized == "" {
		return "", false
	}
	if v, ok := fastPath(normalized, kind); ok {
		return v, true
	}

	key := kind.String() + "|" + normalized
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			e.observe(kind, resultCached, 0)
			return v, true
		}
	}
	if e.client == nil {
		return "", false
	}

	start := time.Now()
	v, result, err := infer(ctx, e.client, normalized, kind, e.timeout)
	e.observe(kind, result, time.Since(start))
	switch result {
	case resultAccepted:
		if e.cache != nil {
			e.cache.Add(key, v)
		}
		return v, true
	case resultTimeout, resultError:
		e.logger.Warn("inference failed", "field", string(field), "result", result, "err", err)
	default:
		e.logger.Debug("inference answer rejected", "field", string(field))
	}
	return "", false
}

func (e *Extractor) observe(kind domain.FieldKind, result string, d time.Duration) {
	if e.obs != nil {
		e.obs.Inference(kind.String(), result, d)
	}
}
