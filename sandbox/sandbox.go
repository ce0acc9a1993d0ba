package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/playground/language"
)

// Defaults of the sandbox manager.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultLoadTimeout   = 120 * time.Second
	DefaultTeardownGrace = 2 * time.Second
)

// Sandbox runs user source through the backend of its language, one run at
// a time. Starting a run tears down the previous one first.
type Sandbox struct {
	logger   *zap.Logger
	registry *Registry
	loader   *Loader
	router   *Router
	metrics  *Metrics
	observer Observer

	timeout       time.Duration
	loadTimeout   time.Duration
	grace         time.Duration
	maxTranscript int
	newRunID      func() string

	mu      sync.Mutex
	current *session
	active  *session
	state   State
	closed  bool
}

// Option defines a functional option for Sandbox
type Option func(*Sandbox)

// WithTimeout sets the wall-clock limit of a run
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sandbox) {
		s.timeout = timeout
	}
}

// WithLoadTimeout sets the limit of a backend initialization
func WithLoadTimeout(timeout time.Duration) Option {
	return func(s *Sandbox) {
		s.loadTimeout = timeout
	}
}

// WithTeardownGrace sets how long teardown waits for a destroyed boundary
func WithTeardownGrace(grace time.Duration) Option {
	return func(s *Sandbox) {
		s.grace = grace
	}
}

// WithMetrics sets the collectors updated by the sandbox
func WithMetrics(metrics *Metrics) Option {
	return func(s *Sandbox) {
		s.metrics = metrics
	}
}

// WithObserver sets the receiver of state transitions
func WithObserver(observer Observer) Option {
	return func(s *Sandbox) {
		s.observer = observer
	}
}

// WithMaxTranscriptBytes bounds the output text kept per run
func WithMaxTranscriptBytes(limit int) Option {
	return func(s *Sandbox) {
		s.maxTranscript = limit
	}
}

// New creates a Sandbox over registry.
func New(logger *zap.Logger, registry *Registry, options ...Option) *Sandbox {
	s := &Sandbox{
		logger:        logger,
		registry:      registry,
		timeout:       DefaultTimeout,
		loadTimeout:   DefaultLoadTimeout,
		grace:         DefaultTeardownGrace,
		maxTranscript: DefaultMaxTranscriptBytes,
		newRunID:      uuid.NewString,
	}

	for _, opt := range options {
		opt(s)
	}

	s.loader = NewLoader(logger, s.loadTimeout, s.metrics)
	s.router = NewRouter(logger, s.metrics)

	return s
}

// Supported lists the languages that can be run.
func (s *Sandbox) Supported() []language.Language {
	return s.registry.Supported()
}

// Status returns the current state.
func (s *Sandbox) Status() Status {
	s.mu.Lock()
	status := Status{State: s.state}
	if s.active != nil {
		status.RunID = s.active.id
		status.Language = s.active.lang
	}
	s.mu.Unlock()

	status.Loading = s.loader.Loading()
	return status
}

// Run executes req and returns its result. Run never fails: load errors,
// faults, timeouts and cancellation are reported in the result. Cancelling
// ctx cancels the run.
func (s *Sandbox) Run(ctx context.Context, req Request) Result {
	sess, err := s.begin(ctx, req.Language)
	if err != nil {
		events := []OutputEvent{NoticeEvent("Execution cancelled: " + err.Error())}
		return Result{
			Language:   req.Language,
			Outcome:    OutcomeCancelled,
			Events:     events,
			Transcript: RenderTranscript(events),
			StartedAt:  time.Now(),
		}
	}

	outcome, events := s.execute(sess, req)
	return s.finish(sess, outcome, events)
}

// Close cancels the active run and releases loaded backends.
func (s *Sandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cur := s.current
	s.mu.Unlock()

	if cur != nil {
		cur.cancel(ErrSandboxClosed)
		select {
		case <-cur.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return s.loader.Close(ctx)
}

// begin makes a new session current and waits for its predecessor to reach
// Idle.
func (s *Sandbox) begin(ctx context.Context, lang language.Language) (*session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSandboxClosed
	}
	sess := newSession(ctx, s.newRunID(), lang)
	prev := s.current
	s.current = sess
	s.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}

	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()
	s.setState(sess, StatePreparing)

	return sess, nil
}

func (s *Sandbox) execute(sess *session, req Request) (Outcome, []OutputEvent) {
	d := s.registry.Resolve(req.Language)

	if d.Kind == KindUnsupported {
		backend, err := d.Init(sess.ctx)
		if unsupported, ok := backend.(*UnsupportedBackend); ok && err == nil {
			return OutcomeUnsupported, []OutputEvent{NoticeEvent(unsupported.Message())}
		}
		return OutcomeUnsupported, []OutputEvent{NoticeEvent(fmt.Sprintf("%s: %v", req.Language.DisplayName(), ErrNotRunnable))}
	}

	backend, err := s.loader.EnsureLoaded(sess.ctx, d)
	if sess.ctx.Err() != nil {
		return OutcomeCancelled, []OutputEvent{s.cancelNotice(sess)}
	}
	if err != nil {
		return OutcomeLoadFailed, []OutputEvent{s.loadNotice(req.Language, err)}
	}

	if !backend.CanExecute() {
		return OutcomeUnsupported, []OutputEvent{NoticeEvent(fmt.Sprintf("%s: %v", req.Language.DisplayName(), ErrNotRunnable))}
	}

	boundary, err := backend.NewBoundary()
	if err != nil {
		return OutcomeLoadFailed, []OutputEvent{s.loadNotice(req.Language, err)}
	}
	defer boundary.Destroy()

	listener, err := s.router.Register(sess.id, s.maxTranscript)
	if err != nil {
		return OutcomeLoadFailed, []OutputEvent{s.loadNotice(req.Language, err)}
	}

	return s.supervise(sess, boundary, listener, req.Source)
}

// supervise runs the boundary until it returns, the timeout fires or the
// session is cancelled, then tears it down.
func (s *Sandbox) supervise(sess *session, boundary Boundary, listener *Listener, source string) (Outcome, []OutputEvent) {
	s.setState(sess, StateRunning)

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(sess.ctx))
	defer cancelRun()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sandbox fault: %v", r)
			}
		}()
		done <- boundary.Run(runCtx, source, sess.id, s.post)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var (
		outcome  Outcome
		notice   *OutputEvent
		runErr   error
		finished bool
	)

	select {
	case runErr = <-done:
		outcome, finished = OutcomeCompleted, true
	case <-timer.C:
		outcome = OutcomeTimedOut
		n := NoticeEvent(fmt.Sprintf("Execution timed out after %s", s.timeout))
		notice = &n
	case <-sess.ctx.Done():
		outcome = OutcomeCancelled
		n := s.cancelNotice(sess)
		notice = &n
	}

	s.setState(sess, StateFinalizing)

	if !finished {
		cancelRun()
		boundary.Destroy()
		s.awaitTeardown(sess, done)
	}

	events := listener.Close()
	if runErr != nil && !errors.Is(runErr, ErrBoundaryDestroyed) {
		events = append(events, ErrorEvent(runErr.Error()))
	}
	if notice != nil {
		events = append(events, *notice)
	}

	return outcome, events
}

func (s *Sandbox) awaitTeardown(sess *session, done <-chan error) {
	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("isolation boundary did not stop within grace period",
			zap.String("run_id", sess.id),
			zap.String("language", string(sess.lang)),
			zap.Duration("grace", s.grace))
		if s.metrics != nil {
			s.metrics.TeardownLeaks.Inc()
		}
	}
}

func (s *Sandbox) finish(sess *session, outcome Outcome, events []OutputEvent) Result {
	if outcome == OutcomeCompleted && len(events) == 0 {
		events = []OutputEvent{NoticeEvent(NoOutputText)}
	}

	elapsed := time.Since(sess.startedAt)
	result := Result{
		RunID:      sess.id,
		Language:   sess.lang,
		Outcome:    outcome,
		Events:     events,
		Transcript: RenderTranscript(events),
		StartedAt:  sess.startedAt,
		Duration:   elapsed,
	}

	if s.metrics != nil {
		s.metrics.RunsTotal.WithLabelValues(string(sess.lang), string(outcome)).Inc()
		s.metrics.RunDuration.WithLabelValues(string(sess.lang)).Observe(elapsed.Seconds())
		s.metrics.ActiveSessions.Dec()
	}

	s.logger.Info("sandbox run finished",
		zap.String("run_id", sess.id),
		zap.String("language", string(sess.lang)),
		zap.String("outcome", string(outcome)),
		zap.Int("events", len(events)),
		zap.Duration("duration", elapsed))

	s.mu.Lock()
	s.active = nil
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()
	s.setState(sess, StateIdle)

	sess.cancel(nil)
	close(sess.done)

	return result
}

func (s *Sandbox) setState(sess *session, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("sandbox state changed", zap.String("run_id", sess.id), zap.Stringer("state", state))
	if s.observer != nil {
		s.observer.OnStateChange(sess.id, state)
	}
}

func (s *Sandbox) post(raw []byte) {
	s.router.Post(raw)
}

func (s *Sandbox) cancelNotice(sess *session) OutputEvent {
	cause := sess.cause()
	if cause == nil {
		cause = context.Canceled
	}
	return NoticeEvent("Execution cancelled: " + cause.Error())
}

func (s *Sandbox) loadNotice(lang language.Language, err error) OutputEvent {
	return NoticeEvent(fmt.Sprintf("%s runner error: %v", lang.DisplayName(), err))
}
