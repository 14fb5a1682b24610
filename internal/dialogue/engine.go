// Package dialogue drives the slot-filling intake conversation: one state
// machine per call that asks for each configured field, confirms it and
// decides when the call ends.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-intake/internal/config"
	"voice-intake/internal/domain"
	"voice-intake/internal/logging"
	"voice-intake/internal/metrics"
	"voice-intake/internal/normalize"
)

const defaultPersistTimeout = 10 * time.Second

// SessionStore holds live sessions keyed by call id.
// *sessionstore.Manager satisfies this interface.
type SessionStore interface {
	// Update runs fn with exclusive access to the call's session. fn receives
	// nil when none exists; a non-nil session it returns is saved and a nil
	// one removes the entry.
	Update(ctx context.Context, callID string, fn func(*domain.Session) (*domain.Session, error)) error
	Calls(ctx context.Context) ([]string, error)
}

// Extractor turns a normalized candidate into an accepted field value.
// *extract.Extractor satisfies this interface.
type Extractor interface {
	Extract(ctx context.Context, field domain.FieldKey, normalized string) (string, bool)
}

// Persister durably records a session that reached a terminal outcome.
// *recorder.Recorder satisfies this interface.
type Persister interface {
	Persist(ctx context.Context, s *domain.Session) error
}

type Status string

const (
	StatusContinue Status = "continue"
	StatusEnded    Status = "ended"
)

// Reply is what the caller hears after a turn.
type Reply struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type Engine struct {
	lex            *config.Lexicon
	store          SessionStore
	extractor      Extractor
	persister      Persister
	classifier     IntentClassifier
	words          *lexiconClassifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
	persistTimeout time.Duration
}

type Option func(*Engine)

// WithClassifier replaces the keyword permission classifier.
func WithClassifier(c IntentClassifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.persistTimeout = d
		}
	}
}

func NewEngine(lex *config.Lexicon, store SessionStore, extractor Extractor, persister Persister, opts ...Option) (*Engine, error) {
	if lex == nil {
		return nil, errors.New("dialogue: lexicon must not be nil")
	}
	if store == nil {
		return nil, errors.New("dialogue: session store must not be nil")
	}
	if extractor == nil {
		return nil, errors.New("dialogue: extractor must not be nil")
	}
	if persister == nil {
		return nil, errors.New("dialogue: persister must not be nil")
	}
	e := &Engine{
		lex:            lex,
		store:          store,
		extractor:      extractor,
		persister:      persister,
		classifier:     NewKeywordClassifier(lex.Refusals, lex.Affirmations),
		words:          newLexiconClassifier(lex),
		logger:         logging.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StartSession opens a new session for callID and returns the greeting. A
// live session already registered under callID is persisted as superseded
// and replaced.
func (e *Engine) StartSession(ctx context.Context, callID string) (Reply, error) {
	callID, err := checkCallID(callID)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	err = e.store.Update(ctx, callID, func(prev *domain.Session) (*domain.Session, error) {
		if prev != nil && !prev.State.Terminal() {
			e.logger.Warn("superseding live session", "call_id", callID, "session_id", prev.ID)
			prev.State = domain.StateEnded
			prev.Outcome = domain.OutcomeSuperseded
			prev.Append(domain.RoleSystem, "session superseded by a new start", "", e.now())
			e.finish(ctx, prev)
		}
		s := e.newSession(callID)
		msg := e.render(config.TemplateGreeting, s, PromptContext{})
		s.Append(domain.RoleAssistant, msg, "", e.now())
		reply = Reply{Status: StatusContinue, Message: msg, SessionID: s.ID}
		return s, nil
	})
	if err != nil {
		return Reply{}, newError(ErrorInternal, "session_store_failed", err)
	}
	return reply, nil
}

// ProcessUtterance advances the call's session by one turn. An unknown call
// id starts a session on the fly. A session that reaches Ended is persisted
// and removed from the store before ProcessUtterance returns.
func (e *Engine) ProcessUtterance(ctx context.Context, callID, text string) (Reply, error) {
	callID, err := checkCallID(callID)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	err = e.store.Update(ctx, callID, func(s *domain.Session) (*domain.Session, error) {
		if s == nil {
			e.logger.Warn("utterance for unknown call, starting session", "call_id", callID)
			s = e.newSession(callID)
		}
		reply = e.Turn(ctx, s, text)
		if reply.Status == StatusEnded {
			e.finish(ctx, s)
			return nil, nil
		}
		return s, nil
	})
	if err != nil {
		return Reply{}, newError(ErrorInternal, "session_store_failed", err)
	}
	return reply, nil
}

// EndSession closes the call's session on a collaborator-signalled
// disconnect. Whatever was collected is persisted with outcome
// "disconnected". Unknown call ids are ignored.
func (e *Engine) EndSession(ctx context.Context, callID, reason string) error {
	callID, err := checkCallID(callID)
	if err != nil {
		return err
	}

	err = e.store.Update(ctx, callID, func(s *domain.Session) (*domain.Session, error) {
		if s == nil {
			return nil, nil
		}
		if !s.State.Terminal() {
			from := s.State
			s.State = domain.StateEnded
			s.Outcome = domain.OutcomeDisconnected
			s.ConfirmationAttempts = 0
			note := "call disconnected"
			if reason = strings.TrimSpace(reason); reason != "" {
				note += ": " + reason
			}
			s.Append(domain.RoleSystem, note, "", e.now())
			e.metrics.Transition(from.String(), s.State.String())
			e.finish(ctx, s)
		}
		return nil, nil
	})
	if err != nil {
		return newError(ErrorInternal, "session_store_failed", err)
	}
	return nil
}

// Drain ends every live session started by this process, used on
// shutdown. Sessions other processes started over a shared store are left
// alone.
func (e *Engine) Drain(ctx context.Context, reason string) error {
	calls, err := e.store.Calls(ctx)
	if err != nil {
		return newError(ErrorInternal, "session_store_failed", err)
	}
	var errs []error
	for _, callID := range calls {
		if err := e.EndSession(ctx, callID, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Turn applies one utterance to s and returns the reply. It never returns an
// error: a panic during the turn ends the session with an apology and
// outcome "error". Turns on an ended session change nothing.
func (e *Engine) Turn(ctx context.Context, s *domain.Session, text string) (reply Reply) {
	if s.State.Terminal() {
		return Reply{Status: StatusEnded, SessionID: s.ID}
	}
	from := s.State
	field := e.currentField(s)
	e.metrics.Turn(from.String())

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("turn panicked",
				"call_id", s.CallID,
				"session_id", s.ID,
				"state", from.String(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			s.State = domain.StateEnded
			s.Outcome = domain.OutcomeError
			s.ConfirmationAttempts = 0
			msg := e.lex.Template(config.TemplateApology)
			s.Append(domain.RoleAssistant, msg, "", e.now())
			reply = Reply{Status: StatusEnded, Message: msg, SessionID: s.ID}
		}
		e.metrics.Transition(from.String(), s.State.String())
		e.logger.Debug("turn",
			"call_id", s.CallID,
			"session_id", s.ID,
			"state_from", from.String(),
			"state_to", s.State.String(),
			"field", string(field.Key),
		)
	}()

	s.Append(domain.RoleUser, text, field.Key, e.now())
	reply = e.dispatch(ctx, s, text)
	reply.SessionID = s.ID
	s.Append(domain.RoleAssistant, reply.Message, e.currentField(s).Key, e.now())
	return reply
}

func (e *Engine) dispatch(ctx context.Context, s *domain.Session, text string) Reply {
	words := normalize.Words(text)
	switch {
	case e.words.isRepeat(words):
		return e.reprompt(s, config.TemplateRepeat)
	case e.words.isOffTopic(words):
		return e.reprompt(s, config.TemplateRedirect)
	}

	switch s.State {
	case domain.StateWaitingWake:
		return e.onWake(s, words)
	case domain.StateWaitingPermission:
		return e.onPermission(ctx, s, text)
	case domain.StateAsking:
		return e.onAsking(ctx, s, text)
	case domain.StateConfirming:
		return e.onConfirming(s, words)
	}
	panic(fmt.Sprintf("dialogue: no handler for state %s", s.State))
}

func (e *Engine) onWake(s *domain.Session, words []string) Reply {
	if !e.words.isWake(words) {
		return e.say(e.render(config.TemplateWakeHint, s, PromptContext{}))
	}
	s.State = domain.StateWaitingPermission
	return e.say(e.render(config.TemplatePermission, s, PromptContext{}))
}

func (e *Engine) onPermission(ctx context.Context, s *domain.Session, text string) Reply {
	if e.classifier.Classify(ctx, text) == domain.IntentRefuse {
		return e.end(s, domain.OutcomeRefused, e.render(config.TemplateRefused, s, PromptContext{}))
	}
	s.State = domain.StateAsking
	s.FieldIndex = 0
	s.ResetFieldCounters()
	return e.say(e.question(s))
}

func (e *Engine) onAsking(ctx context.Context, s *domain.Session, text string) Reply {
	field := e.currentField(s)
	normalized := normalize.Normalize(text, field.Key)
	if normalized == "" || e.words.isYesNo(normalize.Words(normalized)) {
		return e.retryAsk(s)
	}
	value, ok := e.extractor.Extract(ctx, field.Key, normalized)
	if !ok {
		return e.retryAsk(s)
	}
	s.SetValue(field.Key, value)
	s.ConfirmationAttempts = 0
	s.State = domain.StateConfirming
	return e.say(e.question(s))
}

func (e *Engine) retryAsk(s *domain.Session) Reply {
	s.AskAttempts++
	if s.AskAttempts >= e.lex.Limits.MaxAskAttempts {
		field := e.currentField(s)
		e.logger.Info("abandoning field", "call_id", s.CallID, "session_id", s.ID, "field", string(field.Key))
		s.ClearValue(field.Key)
		return e.advance(s, e.lex.Template(config.TemplateSkip))
	}
	return e.say(e.question(s))
}

func (e *Engine) onConfirming(s *domain.Session, words []string) Reply {
	field := e.currentField(s)
	switch e.words.confirm(words) {
	case replyYes:
		return e.advance(s, "")
	case replyNo:
		s.ClearValue(field.Key)
		s.ConfirmationAttempts = 0
		s.State = domain.StateAsking
		return e.say(e.question(s))
	}

	s.ConfirmationAttempts++
	s.AmbiguousReplies++
	switch {
	case s.AmbiguousReplies >= e.lex.Limits.MaxAmbiguousReplies:
		s.ClearValue(field.Key)
		return e.end(s, domain.OutcomeFollowUp, e.render(config.TemplateFollowUp, s, PromptContext{}))
	case s.ConfirmationAttempts >= e.lex.Limits.MaxConfirmAttempts:
		s.ClearValue(field.Key)
		s.ConfirmationAttempts = 0
		s.State = domain.StateAsking
		return e.say(e.question(s))
	}
	return e.say(e.question(s))
}

// advance moves the cursor past the current field, asking for the next one
// or closing the call after the last. prefix is spoken first.
func (e *Engine) advance(s *domain.Session, prefix string) Reply {
	s.FieldIndex++
	s.ResetFieldCounters()
	if s.FieldIndex >= len(e.lex.Fields) {
		outcome := domain.OutcomeCompleted
		if len(s.Values) < len(e.lex.Fields) {
			outcome = domain.OutcomeFollowUp
		}
		return e.end(s, outcome, joinMessages(prefix, e.render(config.TemplateClosing, s, PromptContext{})))
	}
	s.State = domain.StateAsking
	return e.say(joinMessages(prefix, e.question(s)))
}

func (e *Engine) end(s *domain.Session, outcome domain.Outcome, msg string) Reply {
	s.State = domain.StateEnded
	s.Outcome = outcome
	s.ConfirmationAttempts = 0
	return Reply{Status: StatusEnded, Message: msg}
}

func (e *Engine) say(msg string) Reply {
	return Reply{Status: StatusContinue, Message: msg}
}

func (e *Engine) reprompt(s *domain.Session, kind config.TemplateKind) Reply {
	return e.say(e.render(kind, s, PromptContext{Question: e.question(s)}))
}

// question is the prompt the caller is currently expected to answer.
func (e *Engine) question(s *domain.Session) string {
	switch s.State {
	case domain.StateWaitingWake:
		return e.render(config.TemplateWakeHint, s, PromptContext{})
	case domain.StateWaitingPermission:
		return e.render(config.TemplatePermission, s, PromptContext{})
	case domain.StateAsking:
		return e.render(config.TemplateAsk, s, PromptContext{Remaining: e.remaining(s)})
	case domain.StateConfirming:
		v, _ := s.Value(e.currentField(s).Key)
		return e.render(config.TemplateConfirm, s, PromptContext{Value: v})
	}
	return ""
}

func (e *Engine) render(kind config.TemplateKind, s *domain.Session, pc PromptContext) string {
	return RenderPrompt(e.lex, kind, e.currentField(s), pc)
}

// remaining counts the fields still to collect, the current one included.
func (e *Engine) remaining(s *domain.Session) int {
	n := len(e.lex.Fields) - s.FieldIndex
	if n < 0 {
		return 0
	}
	return n
}

// currentField returns the field under the cursor, or the zero Field once
// every field has been handled.
func (e *Engine) currentField(s *domain.Session) domain.Field {
	if s.FieldIndex < 0 || s.FieldIndex >= len(e.lex.Fields) {
		return domain.Field{}
	}
	return e.lex.Fields[s.FieldIndex]
}

func (e *Engine) newSession(callID string) *domain.Session {
	return domain.NewSession(e.newID(), callID, e.now())
}

// finish persists an ended session. Persistence failures are logged and
// never reach the caller.
func (e *Engine) finish(ctx context.Context, s *domain.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout)
	defer cancel()

	if err := e.persister.Persist(ctx, s); err != nil {
		e.logger.Error("persist session failed",
			"call_id", s.CallID,
			"session_id", s.ID,
			"outcome", string(s.Outcome),
			"err", err,
		)
	}
	e.metrics.SessionEnded(string(s.Outcome))
	e.logger.Info("session ended",
		"call_id", s.CallID,
		"session_id", s.ID,
		"outcome", string(s.Outcome),
		"collected", len(s.Values),
	)
}

func checkCallID(callID string) (string, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return "", newError(ErrorInvalidInput, "empty_call_id", nil)
	}
	return callID, nil
}
