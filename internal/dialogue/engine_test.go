package dialogue

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"voice-intake/internal/config"
	"voice-intake/internal/domain"
	"voice-intake/internal/extract"
	"voice-intake/internal/sessionstore"
)

// fakeInference answers every prompt with a fixed string.
type fakeInference struct {
	answer string
	err    error
}

func (f *fakeInference) Complete(context.Context, string, time.Duration) (string, error) {
	return f.answer, f.err
}

// fakePersister keeps a copy of every persisted session.
type fakePersister struct {
	mu       sync.Mutex
	sessions []domain.Session
	err      error
}

func (p *fakePersister) Persist(_ context.Context, s *domain.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *s
	cp.Values = make(map[domain.FieldKey]string, len(s.Values))
	for k, v := range s.Values {
		cp.Values[k] = v
	}
	p.sessions = append(p.sessions, cp)
	return p.err
}

func (p *fakePersister) persisted() []domain.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Session(nil), p.sessions...)
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, domain.FieldKey, string) (string, bool) {
	panic("extractor exploded")
}

type harness struct {
	engine    *Engine
	lex       *config.Lexicon
	store     *sessionstore.Manager
	persister *fakePersister
	inference *fakeInference
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		lex:       config.Default(),
		store:     sessionstore.NewManager(nil),
		persister: &fakePersister{},
		inference: &fakeInference{},
	}
	ids := 0
	opts = append([]Option{WithIDGenerator(func() string {
		ids++
		return "session-" + strconv.Itoa(ids)
	})}, opts...)
	e, err := NewEngine(h.lex, h.store, extract.New(h.inference, extract.WithCacheSize(0)), h.persister, opts...)
	require.NoError(t, err)
	h.engine = e
	return h
}

// peek returns the stored session for callID, or nil.
func (h *harness) peek(t *testing.T, callID string) *domain.Session {
	t.Helper()
	var got *domain.Session
	require.NoError(t, h.store.Update(context.Background(), callID, func(s *domain.Session) (*domain.Session, error) {
		got = s
		return s, nil
	}))
	return got
}

func (h *harness) session(state domain.State, fieldIndex int) *domain.Session {
	s := domain.NewSession("s-test", "call-test", time.Now())
	s.State = state
	s.FieldIndex = fieldIndex
	return s
}

func (h *harness) ask(fieldIndex, remaining int) string {
	return RenderPrompt(h.lex, config.TemplateAsk, h.lex.Fields[fieldIndex], PromptContext{Remaining: remaining})
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewEngine_ValidatesDependencies(t *testing.T) {
	lex := config.Default()
	store := sessionstore.NewManager(nil)
	ex := extract.New(nil)
	p := &fakePersister{}

	_, err := NewEngine(nil, store, ex, p)
	require.Error(t, err)
	_, err = NewEngine(lex, nil, ex, p)
	require.Error(t, err)
	_, err = NewEngine(lex, store, nil, p)
	require.Error(t, err)
	_, err = NewEngine(lex, store, ex, nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Turn scenarios
// ---------------------------------------------------------------------------

func TestTurn_WakeWordMovesToPermission(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateWaitingWake, 0)

	reply := h.engine.Turn(context.Background(), s, "hola")

	require.Equal(t, StatusContinue, reply.Status)
	require.Equal(t, domain.StateWaitingPermission, s.State)
	require.Equal(t, h.lex.Template(config.TemplatePermission), reply.Message)
	require.Len(t, s.Transcript, 2)
	require.Equal(t, domain.RoleUser, s.Transcript[0].Role)
	require.Equal(t, "waiting_wake", s.Transcript[0].State)
	require.Equal(t, domain.RoleAssistant, s.Transcript[1].Role)
}

func TestTurn_NoWakeWordGivesHint(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateWaitingWake, 0)

	reply := h.engine.Turn(context.Background(), s, "eh... este")

	require.Equal(t, domain.StateWaitingWake, s.State)
	require.Equal(t, h.lex.Template(config.TemplateWakeHint), reply.Message)
}

func TestTurn_PermissionAcceptedAsksFirstField(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateWaitingPermission, 0)

	reply := h.engine.Turn(context.Background(), s, "sí, claro")

	require.Equal(t, domain.StateAsking, s.State)
	require.Equal(t, 0, s.FieldIndex)
	require.Equal(t, h.ask(0, 6), reply.Message)
}

func TestTurn_PermissionRefusedEndsCall(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateWaitingPermission, 0)

	reply := h.engine.Turn(context.Background(), s, "no, estoy manejando")

	require.Equal(t, StatusEnded, reply.Status)
	require.Equal(t, domain.StateEnded, s.State)
	require.Equal(t, domain.OutcomeRefused, s.Outcome)
	require.Equal(t, h.lex.Template(config.TemplateRefused), reply.Message)
}

func TestTurn_AskingStoresProvisionalValue(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateAsking, 1)

	reply := h.engine.Turn(context.Background(), s, "cuatro cinco seis")

	require.Equal(t, domain.StateConfirming, s.State)
	require.Equal(t, "456", s.Values[domain.FieldTractorNumber])
	require.Equal(t, 0, s.ConfirmationAttempts)
	require.Equal(t, "Anoté el número de tractor: 456. ¿Es correcto?", reply.Message)
}

func TestTurn_NegationClearsAndReasks(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateConfirming, 1)
	s.SetValue(domain.FieldTractorNumber, "456")

	reply := h.engine.Turn(context.Background(), s, "no")

	require.Equal(t, domain.StateAsking, s.State)
	_, ok := s.Value(domain.FieldTractorNumber)
	require.False(t, ok)
	require.Equal(t, h.ask(1, 5), reply.Message)
}

func TestTurn_PlateInference(t *testing.T) {
	h := newHarness(t)

	h.inference.answer = "ABC-1234"
	s := h.session(domain.StateAsking, 2)
	reply := h.engine.Turn(context.Background(), s, "a b c uno dos tres cuatro")
	require.Equal(t, domain.StateConfirming, s.State)
	require.Equal(t, "ABC-1234", s.Values[domain.FieldTractorPlates])
	require.Contains(t, reply.Message, "A B C - 1 2 3 4")

	h.inference.answer = "ABCD"
	s = h.session(domain.StateAsking, 2)
	reply = h.engine.Turn(context.Background(), s, "a b c uno dos tres cuatro")
	require.Equal(t, domain.StateAsking, s.State)
	require.Empty(t, s.Values)
	require.Equal(t, 1, s.AskAttempts)
	require.Equal(t, h.ask(2, 4), reply.Message)
}

func TestTurn_ThreeAmbiguousConfirmationsClearField(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateConfirming, 1)
	s.SetValue(domain.FieldTractorNumber, "456")
	confirm := RenderPrompt(h.lex, config.TemplateConfirm, h.lex.Fields[1], PromptContext{Value: "456"})

	for i := 1; i <= 2; i++ {
		reply := h.engine.Turn(context.Background(), s, "mmm tal vez")
		require.Equal(t, domain.StateConfirming, s.State)
		require.Equal(t, i, s.ConfirmationAttempts)
		require.Equal(t, confirm, reply.Message)
	}

	reply := h.engine.Turn(context.Background(), s, "pues quién sabe")
	require.Equal(t, domain.StateAsking, s.State)
	require.Equal(t, 0, s.ConfirmationAttempts)
	require.Equal(t, 3, s.AmbiguousReplies)
	_, ok := s.Value(domain.FieldTractorNumber)
	require.False(t, ok)
	require.Equal(t, h.ask(1, 5), reply.Message)
}

func TestTurn_AmbiguousCeilingEndsWithFollowUp(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateConfirming, 1)
	s.SetValue(domain.FieldTractorNumber, "456")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.Turn(ctx, s, "tal vez")
	}
	require.Equal(t, domain.StateAsking, s.State)

	h.engine.Turn(ctx, s, "cuatro cinco siete")
	require.Equal(t, domain.StateConfirming, s.State)
	h.engine.Turn(ctx, s, "tal vez")
	reply := h.engine.Turn(ctx, s, "tal vez")

	require.Equal(t, StatusEnded, reply.Status)
	require.Equal(t, domain.OutcomeFollowUp, s.Outcome)
	require.Equal(t, h.lex.Template(config.TemplateFollowUp), reply.Message)
	require.Empty(t, s.Values)
	require.Equal(t, 0, s.ConfirmationAttempts)
}

func TestTurn_YesNoWhileAskingReasks(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateAsking, 0)

	reply := h.engine.Turn(context.Background(), s, "Sí")

	require.Equal(t, domain.StateAsking, s.State)
	require.Empty(t, s.Values)
	require.Equal(t, h.ask(0, 6), reply.Message)
}

func TestTurn_AbandonsFieldAfterAskLimit(t *testing.T) {
	h := newHarness(t)
	h.inference.err = errors.New("model unavailable")
	s := h.session(domain.StateAsking, 2)

	var reply Reply
	for i := 0; i < h.lex.Limits.MaxAskAttempts; i++ {
		require.Equal(t, 2, s.FieldIndex)
		reply = h.engine.Turn(context.Background(), s, "no me acuerdo de las placas")
	}

	require.Equal(t, 3, s.FieldIndex)
	require.Equal(t, domain.StateAsking, s.State)
	require.Zero(t, s.AskAttempts)
	require.True(t, strings.HasPrefix(reply.Message, h.lex.Template(config.TemplateSkip)))
	require.True(t, strings.HasSuffix(reply.Message, h.ask(3, 3)))
}

func TestTurn_RepeatRestatesCurrentQuestion(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateAsking, 1)

	reply := h.engine.Turn(context.Background(), s, "¿perdón? no entendí")

	require.Equal(t, domain.StateAsking, s.State)
	require.Equal(t, "Claro, te repito: "+h.ask(1, 5), reply.Message)
}

func TestTurn_RepeatTakesPrecedenceOverOffTopic(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateWaitingPermission, 0)

	reply := h.engine.Turn(context.Background(), s, "quién eres, repite otra vez")

	require.Equal(t, domain.StateWaitingPermission, s.State)
	require.True(t, strings.HasPrefix(reply.Message, "Claro, te repito:"))
}

func TestTurn_OffTopicRedirects(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateConfirming, 1)
	s.SetValue(domain.FieldTractorNumber, "456")

	reply := h.engine.Turn(context.Background(), s, "oye, ¿quién eres?")

	require.Equal(t, domain.StateConfirming, s.State)
	require.Equal(t, 0, s.ConfirmationAttempts)
	require.Contains(t, reply.Message, "necesito completar tu registro")
	require.Contains(t, reply.Message, "456")
}

func TestTurn_EndedIsNoop(t *testing.T) {
	h := newHarness(t)
	s := h.session(domain.StateEnded, 6)
	s.SetValue(domain.FieldETA, "14:30")

	reply := h.engine.Turn(context.Background(), s, "hola")

	require.Equal(t, StatusEnded, reply.Status)
	require.Empty(t, s.Transcript)
	require.Equal(t, map[domain.FieldKey]string{domain.FieldETA: "14:30"}, s.Values)
}

func TestTurn_PanicBecomesApology(t *testing.T) {
	h := newHarness(t)
	e, err := NewEngine(h.lex, h.store, panicExtractor{}, h.persister)
	require.NoError(t, err)
	s := h.session(domain.StateAsking, 0)

	reply := e.Turn(context.Background(), s, "Juan")

	require.Equal(t, StatusEnded, reply.Status)
	require.Equal(t, h.lex.Template(config.TemplateApology), reply.Message)
	require.Equal(t, domain.StateEnded, s.State)
	require.Equal(t, domain.OutcomeError, s.Outcome)
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func TestProcessUtterance_FullConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.engine.StartSession(ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, h.lex.Template(config.TemplateGreeting), start.Message)

	script := []string{
		"hola",
		"sí, adelante",
		"me llamo Juan Pérez",
		"sí",
		"cuatro cinco seis",
		"correcto",
		"las placas son a b c guion uno dos tres cuatro",
		"así es",
		"7 8 9",
		"sí",
		"x y z raya nueve nueve nueve",
		"exacto",
		"como a las catorce y treinta",
	}
	for _, utterance := range script {
		reply, err := h.engine.ProcessUtterance(ctx, "call-1", utterance)
		require.NoError(t, err)
		require.Equal(t, StatusContinue, reply.Status, "utterance=%q message=%q", utterance, reply.Message)
		require.Empty(t, h.persister.persisted())
	}

	reply, err := h.engine.ProcessUtterance(ctx, "call-1", "sí, está bien")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, reply.Status)
	require.Equal(t, h.lex.Template(config.TemplateClosing), reply.Message)

	persisted := h.persister.persisted()
	require.Len(t, persisted, 1)
	got := persisted[0]
	require.Equal(t, domain.OutcomeCompleted, got.Outcome)
	require.Equal(t, map[domain.FieldKey]string{
		domain.FieldOperatorName:  "Juan Pérez",
		domain.FieldTractorNumber: "456",
		domain.FieldTractorPlates: "ABC-1234",
		domain.FieldTrailerNumber: "789",
		domain.FieldTrailerPlates: "XYZ-999",
		domain.FieldETA:           "14:30",
	}, got.Values)
	require.Len(t, got.Transcript, 1+2*(len(script)+1))

	require.Nil(t, h.peek(t, "call-1"))
}

func TestProcessUtterance_UnknownCallStartsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.engine.ProcessUtterance(ctx, "call-9", "hola")
	require.NoError(t, err)
	require.Equal(t, StatusContinue, reply.Status)

	s := h.peek(t, "call-9")
	require.NotNil(t, s)
	require.Equal(t, domain.StateWaitingPermission, s.State)
}

func TestProcessUtterance_EmptyCallID(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ProcessUtterance(context.Background(), "  ", "hola")

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ErrorInvalidInput, derr.Code)
}

func TestProcessUtterance_PersistFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t)
	h.persister.err = errors.New("disk full")
	ctx := context.Background()

	_, err := h.engine.ProcessUtterance(ctx, "call-1", "hola")
	require.NoError(t, err)
	reply, err := h.engine.ProcessUtterance(ctx, "call-1", "no gracias")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, reply.Status)
	require.Len(t, h.persister.persisted(), 1)
}

func TestProcessUtterance_PanicPersistsPartialData(t *testing.T) {
	h := newHarness(t)
	e, err := NewEngine(h.lex, h.store, panicExtractor{}, h.persister)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.ProcessUtterance(ctx, "call-1", "hola")
	require.NoError(t, err)
	_, err = e.ProcessUtterance(ctx, "call-1", "sí")
	require.NoError(t, err)
	reply, err := e.ProcessUtterance(ctx, "call-1", "Juan")
	require.NoError(t, err)

	require.Equal(t, StatusEnded, reply.Status)
	persisted := h.persister.persisted()
	require.Len(t, persisted, 1)
	require.Equal(t, domain.OutcomeError, persisted[0].Outcome)
}

func TestStartSession_SupersedesLiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.StartSession(ctx, "call-1")
	require.NoError(t, err)
	second, err := h.engine.StartSession(ctx, "call-1")
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, second.SessionID)

	persisted := h.persister.persisted()
	require.Len(t, persisted, 1)
	require.Equal(t, first.SessionID, persisted[0].ID)
	require.Equal(t, domain.OutcomeSuperseded, persisted[0].Outcome)

	s := h.peek(t, "call-1")
	require.NotNil(t, s)
	require.Equal(t, second.SessionID, s.ID)
}

func TestEndSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.EndSession(ctx, "nobody", "hangup"))
	require.Empty(t, h.persister.persisted())

	_, err := h.engine.StartSession(ctx, "call-1")
	require.NoError(t, err)
	require.NoError(t, h.engine.EndSession(ctx, "call-1", "hangup"))

	persisted := h.persister.persisted()
	require.Len(t, persisted, 1)
	require.Equal(t, domain.OutcomeDisconnected, persisted[0].Outcome)
	last := persisted[0].Transcript[len(persisted[0].Transcript)-1]
	require.Equal(t, domain.RoleSystem, last.Role)
	require.Equal(t, "call disconnected: hangup", last.Content)

	require.Nil(t, h.peek(t, "call-1"))
}

func TestDrain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"call-1", "call-2"} {
		_, err := h.engine.StartSession(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.Drain(ctx, "shutdown"))

	require.Len(t, h.persister.persisted(), 2)
	calls, err := h.store.Calls(ctx)
	require.NoError(t, err)
	require.Empty(t, calls)
}

func TestDrain_SharedRedisLeavesOtherProcessCalls(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newEngine := func(prefix string) (*Engine, *harness) {
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h := &harness{
			lex:       config.Default(),
			store:     sessionstore.NewManager(sessionstore.NewRedis(client), sessionstore.WithLocker(sessionstore.NewRedisLocker(client, ""))),
			persister: &fakePersister{},
			inference: &fakeInference{},
		}
		ids := 0
		e, err := NewEngine(h.lex, h.store, extract.New(h.inference, extract.WithCacheSize(0)), h.persister,
			WithIDGenerator(func() string {
				ids++
				return prefix + strconv.Itoa(ids)
			}))
		require.NoError(t, err)
		h.engine = e
		return e, h
	}
	a, ha := newEngine("a-")
	b, hb := newEngine("b-")

	_, err := a.StartSession(ctx, "call-a")
	require.NoError(t, err)
	_, err = b.StartSession(ctx, "call-b")
	require.NoError(t, err)
	// a turn of call-a lands on b
	_, err = b.ProcessUtterance(ctx, "call-a", "hola")
	require.NoError(t, err)

	require.NoError(t, b.Drain(ctx, "shutdown"))

	persisted := hb.persister.persisted()
	require.Len(t, persisted, 1)
	require.Equal(t, "call-b", persisted[0].CallID)
	require.Nil(t, hb.peek(t, "call-b"))

	reply, err := a.ProcessUtterance(ctx, "call-a", "sí")
	require.NoError(t, err)
	require.Equal(t, StatusContinue, reply.Status)
	require.Empty(t, ha.persister.persisted())
	s := ha.peek(t, "call-a")
	require.NotNil(t, s)
	require.Equal(t, "a-1", s.ID)
	require.Equal(t, domain.StateAsking, s.State)
	require.Equal(t, 0, s.FieldIndex)

	calls, err := ha.store.Calls(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"call-a"}, calls)
}

func TestEngine_CallerChosenCallIDs(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := sessionstore.NewManager(sessionstore.NewRedis(client), sessionstore.WithLocker(sessionstore.NewRedisLocker(client, "")))
	e, err := NewEngine(config.Default(), store, extract.New(nil), &fakePersister{})
	require.NoError(t, err)

	ids := []string{"call-1", "index", "idx", "s:call-1", "lock:call-1"}
	for _, id := range ids {
		_, err := e.StartSession(ctx, id)
		require.NoError(t, err, id)
	}
	_, err = e.ProcessUtterance(ctx, "call-1", "hola")
	require.NoError(t, err)

	calls, err := store.Calls(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, ids, calls)

	require.NoError(t, e.EndSession(ctx, "index", "hangup"))
	calls, err = store.Calls(ctx)
	require.NoError(t, err)
	require.Len(t, calls, len(ids)-1)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

var randomUtterances = []string{
	"hola", "sí", "no", "tal vez", "repite", "quién eres", "", "umm",
	"Juan Pérez", "cuatro cinco seis", "a b c guion uno dos tres", "catorce y treinta",
	"correcto", "está mal", "no me acuerdo", "XYZ-999", "9:15", "estoy manejando",
}

func TestProperties_RandomConversations(t *testing.T) {
	h := newHarness(t)
	h.inference.answer = "ABC-123"
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := 0; run < 200; run++ {
		s := domain.NewSession("s", "c", time.Now())
		if run%2 == 1 {
			s.State = domain.StateAsking
		}

		for turn := 0; turn < 60; turn++ {
			beforeIndex := s.FieldIndex
			beforeState := s.State
			beforeValues := make(map[domain.FieldKey]string, len(s.Values))
			for k, v := range s.Values {
				beforeValues[k] = v
			}

			h.engine.Turn(ctx, s, randomUtterances[rng.Intn(len(randomUtterances))])

			if beforeState.Terminal() {
				require.Equal(t, beforeValues, s.Values)
				require.Equal(t, beforeIndex, s.FieldIndex)
				continue
			}

			require.GreaterOrEqual(t, s.FieldIndex, beforeIndex)
			require.LessOrEqual(t, s.FieldIndex-beforeIndex, 1)
			require.LessOrEqual(t, s.FieldIndex, len(h.lex.Fields))
			if s.State == domain.StateConfirming {
				require.Less(t, s.ConfirmationAttempts, h.lex.Limits.MaxConfirmAttempts)
			} else {
				require.Zero(t, s.ConfirmationAttempts)
			}
		}
	}
}
