package sandbox

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxTranscriptBytes bounds the text a single run may accumulate.
const DefaultMaxTranscriptBytes = 1 << 20

// TruncatedText is appended once when a run exceeds its transcript limit.
const TruncatedText = "(output truncated)"

// PostFunc hands a raw wire message to the host.
type PostFunc func(raw []byte)

// Router delivers wire messages to the listener registered for their token.
// Messages for unknown tokens, such as those of a torn down run, are dropped.
type Router struct {
	logger    *zap.Logger
	metrics   *Metrics
	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewRouter creates a Router.
func NewRouter(logger *zap.Logger, metrics *Metrics) *Router {
	return &Router{
		logger:    logger,
		metrics:   metrics,
		listeners: make(map[string]*Listener),
	}
}

// Register creates the listener of a run token.
func (r *Router) Register(token string, maxBytes int) (*Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listeners[token]; exists {
		return nil, fmt.Errorf("listener already registered for run %s", token)
	}

	l := &Listener{router: r, token: token, maxBytes: maxBytes}
	r.listeners[token] = l
	return l, nil
}

// Post validates a raw message and appends it to its listener. It reports
// whether the message was accepted.
func (r *Router) Post(raw []byte) bool {
	msg, err := DecodeMessage(raw)
	if err != nil {
		r.drop("malformed")
		r.logger.Debug("ignoring malformed sandbox message", zap.Error(err))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.listeners[msg.Token]
	if !ok {
		r.drop("unknown_token")
		r.logger.Debug("ignoring sandbox message for inactive run", zap.String("run_id", msg.Token))
		return false
	}

	l.appendLocked(msg.Event())
	return true
}

// Active reports the number of registered listeners.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *Router) drop(reason string) {
	if r.metrics != nil {
		r.metrics.DroppedMessages.WithLabelValues(reason).Inc()
	}
}

// Listener collects the events of one run in arrival order.
type Listener struct {
	router    *Router
	token     string
	maxBytes  int
	size      int
	truncated bool
	closed    bool
	events    []OutputEvent
}

// Token returns the run token the listener filters on.
func (l *Listener) Token() string {
	return l.token
}

// Events returns a snapshot of the collected events.
func (l *Listener) Events() []OutputEvent {
	l.router.mu.Lock()
	defer l.router.mu.Unlock()
	return append([]OutputEvent(nil), l.events...)
}

// Close deregisters the listener and returns the final events. Messages
// arriving afterwards are dropped by the router.
func (l *Listener) Close() []OutputEvent {
	l.router.mu.Lock()
	defer l.router.mu.Unlock()

	if !l.closed {
		l.closed = true
		delete(l.router.listeners, l.token)
	}
	return append([]OutputEvent(nil), l.events...)
}

func (l *Listener) appendLocked(e OutputEvent) {
	if l.truncated {
		return
	}
	if l.maxBytes > 0 && l.size+len(e.Text) > l.maxBytes {
		l.truncated = true
		l.events = append(l.events, NoticeEvent(TruncatedText))
		return
	}
	l.size += len(e.Text)
	l.events = append(l.events, e)
}
