package sandbox

import (
	"context"
	"time"

	"github.com/isdmx/playground/language"
)

// State is the phase of the sandbox state machine.
type State int

// Sandbox states. A run moves Idle → Preparing → Running → Finalizing → Idle;
// unsupported languages and failed loads skip Running.
const (
	StateIdle State = iota
	StatePreparing
	StateRunning
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome tells how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeLoadFailed  Outcome = "load_failed"
)

// Request is one run of user source.
type Request struct {
	Language language.Language
	Source   string
}

// Result is the outcome of a run with its captured output.
type Result struct {
	RunID      string            `json:"run_id"`
	Language   language.Language `json:"language"`
	Outcome    Outcome           `json:"outcome"`
	Events     []OutputEvent     `json:"events"`
	Transcript string            `json:"transcript"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"-"`
}

// Status is a snapshot of the sandbox.
type Status struct {
	State    State             `json:"state"`
	RunID    string            `json:"run_id,omitempty"`
	Language language.Language `json:"language,omitempty"`
	Loading  bool              `json:"loading"`
}

// Observer is notified of every state transition, in order.
type Observer interface {
	OnStateChange(runID string, state State)
}

// session is the transient state of one run.
type session struct {
	id        string
	lang      language.Language
	ctx       context.Context
	cancel    context.CancelCauseFunc
	done      chan struct{}
	startedAt time.Time
}

func newSession(ctx context.Context, id string, lang language.Language) *session {
	sessCtx, cancel := context.WithCancelCause(ctx)
	return &session{
		id:        id,
		lang:      lang,
		ctx:       sessCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// cause returns why the session context ended.
func (s *session) cause() error {
	return context.Cause(s.ctx)
}
