package conversation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/flightdeck/skyboard/internal/analyst"
	"github.com/flightdeck/skyboard/internal/logger"
)

// FSM states and triggers for one session. A session is Idle with no request
// pending, AwaitingResponse while a submission is in flight, and back to
// Idle on response or error.
type FSMState stateless.State

var (
	StateIdle             FSMState = "Idle"
	StateAwaitingResponse FSMState = "AwaitingResponse"
)

type FSMTrigger stateless.Trigger

var (
	TriggerSubmit    FSMTrigger = "Submit"
	TriggerResponded FSMTrigger = "Responded"
	TriggerFailed    FSMTrigger = "Failed"
)

var (
	// ErrBusy is returned when a submission arrives while another is in
	// flight, or Clear is called outside Idle. One request per session at a
	// time; the caller re-invokes after the pending turn settles.
	ErrBusy = errors.New("conversation: a submission is already in flight")

	// ErrEmptyQuestion rejects blank input before it costs a round trip.
	ErrEmptyQuestion = errors.New("conversation: question is empty")
)

// Session owns one conversation: the ordered history of user and analyst
// turns, and the single-flight state machine guarding submissions. Each
// interactive session gets its own Session; nothing is shared across them.
// History lives only as long as the session and is clearable on demand.
type Session struct {
	client       analyst.Client
	semanticView string

	mu      sync.Mutex
	history []analyst.Message
	fsm     *stateless.StateMachine
}

// NewSession creates an idle session with empty history.
func NewSession(client analyst.Client, semanticView string) *Session {
	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateAwaitingResponse)
	fsm.Configure(StateAwaitingResponse).
		Permit(TriggerResponded, StateIdle).
		Permit(TriggerFailed, StateIdle)

	return &Session{
		client:       client,
		semanticView: semanticView,
		fsm:          fsm,
	}
}

// Submit appends the question as a user turn, sends the full history to the
// analyst service, and on success appends the analyst's reply and returns
// its content. On failure the user turn stays in history (a retry keeps its
// context) and no analyst turn is appended. A Submit while another is in
// flight returns ErrBusy.
func (s *Session) Submit(ctx context.Context, question string) ([]analyst.ContentItem, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	s.mu.Lock()
	if err := s.fsm.Fire(TriggerSubmit); err != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.history = append(s.history, analyst.Message{
		Role:    analyst.RoleUser,
		Content: []analyst.ContentItem{analyst.Text{Text: question}},
	})
	outbound := slices.Clone(s.history)
	s.mu.Unlock()

	items, err := s.client.SendMessage(ctx, outbound, s.semanticView)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if fireErr := s.fsm.Fire(TriggerFailed); fireErr != nil {
			logger.L.Warn("session fsm fire error", "error", fireErr)
		}
		logger.L.Warn("analyst submission failed", "error", err)
		return nil, err
	}
	s.history = append(s.history, analyst.Message{Role: analyst.RoleAnalyst, Content: items})
	if fireErr := s.fsm.Fire(TriggerResponded); fireErr != nil {
		logger.L.Warn("session fsm fire error", "error", fireErr)
	}
	return items, nil
}

// Clear resets the history. Allowed only from Idle; a clear during an
// in-flight submission returns ErrBusy. Clearing an empty history is a
// no-op.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.MustState() != stateless.State(StateIdle) {
		return ErrBusy
	}
	s.history = nil
	return nil
}

// History returns a copy of the conversation so far, in turn order.
func (s *Session) History() []analyst.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// State reports the current FSM state, for handlers that want to block
// further input while a request is pending.
func (s *Session) State() FSMState {
	return FSMState(s.fsm.MustState())
}
