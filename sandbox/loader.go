package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader initializes backends on first use and keeps them for the lifetime
// of the process. Concurrent first requests share one initialization.
type Loader struct {
	logger  *zap.Logger
	metrics *Metrics
	timeout time.Duration

	group   singleflight.Group
	mu      sync.RWMutex
	ready   map[string]Backend
	loading map[string]bool
}

// NewLoader creates a Loader. timeout bounds each initialization.
func NewLoader(logger *zap.Logger, timeout time.Duration, metrics *Metrics) *Loader {
	return &Loader{
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		ready:   make(map[string]Backend),
		loading: make(map[string]bool),
	}
}

// EnsureLoaded returns the ready backend of d, initializing it if needed.
// The initialization is not tied to ctx: a caller giving up does not abort a
// load other callers wait on. Failed loads are retried by the next call.
func (l *Loader) EnsureLoaded(ctx context.Context, d Descriptor) (Backend, error) {
	if b := l.cached(d.ID); b != nil {
		return b, nil
	}

	ch := l.group.DoChan(d.ID, func() (interface{}, error) {
		if b := l.cached(d.ID); b != nil {
			return b, nil
		}
		return l.load(context.WithoutCancel(ctx), d)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Backend), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded reports whether the backend is resident.
func (l *Loader) Loaded(id string) bool {
	return l.cached(id) != nil
}

// Loading reports whether any backend initialization is in flight.
func (l *Loader) Loading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.loading) > 0
}

// Close releases backends that hold resources.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, b := range l.ready {
		if closer, ok := b.(interface{ Close(context.Context) error }); ok {
			if err := closer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
		delete(l.ready, id)
	}

	return errors.Join(errs...)
}

func (l *Loader) cached(id string) Backend {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready[id]
}

func (l *Loader) load(ctx context.Context, d Descriptor) (backend Backend, err error) {
	l.setLoading(d.ID, true)
	defer l.setLoading(d.ID, false)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	l.logger.Info("loading runtime backend", zap.String("backend", d.ID), zap.String("kind", string(d.Kind)))

	defer func() {
		if r := recover(); r != nil {
			backend, err = nil, fmt.Errorf("backend %s panicked during initialization: %v", d.ID, r)
		}
		l.observe(d.ID, time.Since(start), err)
	}()

	backend, err = d.Init(ctx)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("backend %s initialized to nil", d.ID)
	}

	l.mu.Lock()
	l.ready[d.ID] = backend
	l.mu.Unlock()

	return backend, nil
}

func (l *Loader) observe(id string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		l.logger.Warn("runtime backend failed to load",
			zap.String("backend", id),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		l.logger.Info("runtime backend ready", zap.String("backend", id), zap.Duration("elapsed", elapsed))
	}

	if l.metrics != nil {
		l.metrics.LoadsTotal.WithLabelValues(id, result).Inc()
		l.metrics.LoadDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	}
}

func (l *Loader) setLoading(id string, loading bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loading {
		l.loading[id] = true
	} else {
		delete(l.loading, id)
	}
}
