package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/playground/language"
)

type fakeBackend struct {
	id     string
	closed atomic.Bool
}

func (b *fakeBackend) ID() string                   { return b.id }
func (*fakeBackend) Language() language.Language    { return language.Python }
func (*fakeBackend) CanExecute() bool               { return true }
func (*fakeBackend) NewBoundary() (Boundary, error) { return nil, errors.New("not implemented") }

func (b *fakeBackend) Close(context.Context) error {
	b.closed.Store(true)
	return nil
}

func TestLoaderSharesInitialization(t *testing.T) {
	logger := zaptest.NewLogger(t)
	loader := NewLoader(logger, time.Second, nil)

	var inits atomic.Int32
	release := make(chan struct{})
	d := Descriptor{
		ID:       "slow",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(context.Context) (Backend, error) {
			inits.Add(1)
			<-release
			return &fakeBackend{id: "slow"}, nil
		},
	}

	const callers = 8
	backends := make([]Backend, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := loader.EnsureLoaded(context.Background(), d)
			assert.NoError(t, err)
			backends[i] = b
		}(i)
	}

	require.Eventually(t, loader.Loading, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), inits.Load())
	for _, b := range backends {
		assert.Same(t, backends[0], b)
	}
	assert.True(t, loader.Loaded("slow"))
	assert.False(t, loader.Loading())

	// Later calls hit the cache.
	b, err := loader.EnsureLoaded(context.Background(), d)
	require.NoError(t, err)
	assert.Same(t, backends[0], b)
	assert.Equal(t, int32(1), inits.Load())
}

func TestLoaderRetriesFailedLoad(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	loader := NewLoader(logger, time.Second, metrics)

	var attempts atomic.Int32
	d := Descriptor{
		ID:       "flaky",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(context.Context) (Backend, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("network unreachable")
			}
			return &fakeBackend{id: "flaky"}, nil
		},
	}

	_, err := loader.EnsureLoaded(context.Background(), d)
	require.Error(t, err)
	assert.False(t, loader.Loaded("flaky"))

	b, err := loader.EnsureLoaded(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "flaky", b.ID())

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("flaky", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("flaky", "success")), 0)
}

func TestLoaderCallerCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	loader := NewLoader(logger, time.Second, nil)

	release := make(chan struct{})
	initCtxErr := make(chan error, 1)
	d := Descriptor{
		ID:       "detached",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(ctx context.Context) (Backend, error) {
			<-release
			initCtxErr <- ctx.Err()
			return &fakeBackend{id: "detached"}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := loader.EnsureLoaded(ctx, d)
		errCh <- err
	}()

	require.Eventually(t, loader.Loading, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The abandoned load completes and is kept for the next caller.
	close(release)
	require.NoError(t, <-initCtxErr)
	require.Eventually(t, func() bool { return loader.Loaded("detached") }, time.Second, time.Millisecond)
}

func TestLoaderTimeout(t *testing.T) {
	logger := zaptest.NewLogger(t)
	loader := NewLoader(logger, 20*time.Millisecond, nil)

	d := Descriptor{
		ID:       "stuck",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(ctx context.Context) (Backend, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, err := loader.EnsureLoaded(context.Background(), d)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoaderRecoversPanic(t *testing.T) {
	logger := zaptest.NewLogger(t)
	loader := NewLoader(logger, time.Second, nil)

	d := Descriptor{
		ID:       "panicky",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(context.Context) (Backend, error) {
			panic("bad bundle")
		},
	}

	_, err := loader.EnsureLoaded(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad bundle")
}

func TestLoaderClose(t *testing.T) {
	logger := zaptest.NewLogger(t)
	loader := NewLoader(logger, time.Second, nil)

	backend := &fakeBackend{id: "closable"}
	d := Descriptor{
		ID:       "closable",
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(context.Context) (Backend, error) {
			return backend, nil
		},
	}

	_, err := loader.EnsureLoaded(context.Background(), d)
	require.NoError(t, err)

	require.NoError(t, loader.Close(context.Background()))
	assert.True(t, backend.closed.Load())
	assert.False(t, loader.Loaded("closable"))
}
