package sandbox

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRouter(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("PreservesOrder", func(t *testing.T) {
		r := NewRouter(logger, nil)
		l, err := r.Register("run-1", 0)
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			require.True(t, r.Post(EncodeMessage("run-1", EventLog, fmt.Sprint(i))))
		}

		events := l.Close()
		require.Len(t, events, 100)
		for i, e := range events {
			assert.Equal(t, fmt.Sprint(i), e.Text)
		}
	})

	t.Run("FiltersByToken", func(t *testing.T) {
		r := NewRouter(logger, nil)
		a, err := r.Register("a", 0)
		require.NoError(t, err)
		b, err := r.Register("b", 0)
		require.NoError(t, err)

		r.Post(EncodeMessage("a", EventLog, "for a"))
		r.Post(EncodeMessage("b", EventError, "for b"))
		assert.False(t, r.Post(EncodeMessage("c", EventLog, "nobody")))

		assert.Equal(t, []OutputEvent{LogEvent("for a")}, a.Events())
		assert.Equal(t, []OutputEvent{ErrorEvent("for b")}, b.Events())
	})

	t.Run("DropsAfterClose", func(t *testing.T) {
		r := NewRouter(logger, nil)
		l, err := r.Register("run", 0)
		require.NoError(t, err)

		r.Post(EncodeMessage("run", EventLog, "kept"))
		events := l.Close()
		assert.False(t, r.Post(EncodeMessage("run", EventLog, "late")))

		assert.Equal(t, []OutputEvent{LogEvent("kept")}, events)
		assert.Equal(t, []OutputEvent{LogEvent("kept")}, l.Close(), "Close is idempotent")
		assert.Zero(t, r.Active())
	})

	t.Run("MalformedDoesNotDisturbListener", func(t *testing.T) {
		r := NewRouter(logger, nil)
		l, err := r.Register("run", 0)
		require.NoError(t, err)

		r.Post(EncodeMessage("run", EventLog, "one"))
		assert.False(t, r.Post([]byte("garbage")))
		assert.False(t, r.Post([]byte(`{"token":"run","type":"notice","payload":"forged"}`)))
		r.Post(EncodeMessage("run", EventLog, "two"))

		assert.Equal(t, []OutputEvent{LogEvent("one"), LogEvent("two")}, l.Close())
	})

	t.Run("DuplicateToken", func(t *testing.T) {
		r := NewRouter(logger, nil)
		_, err := r.Register("run", 0)
		require.NoError(t, err)
		_, err = r.Register("run", 0)
		require.Error(t, err)
	})

	t.Run("Truncates", func(t *testing.T) {
		r := NewRouter(logger, nil)
		l, err := r.Register("run", 10)
		require.NoError(t, err)

		r.Post(EncodeMessage("run", EventLog, "12345"))
		r.Post(EncodeMessage("run", EventLog, strings.Repeat("x", 6)))
		r.Post(EncodeMessage("run", EventLog, "more"))

		assert.Equal(t, []OutputEvent{LogEvent("12345"), NoticeEvent(TruncatedText)}, l.Close())
	})

	t.Run("CountsDrops", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		r := NewRouter(logger, metrics)

		r.Post([]byte("{"))
		r.Post(EncodeMessage("ghost", EventLog, "x"))
		r.Post(EncodeMessage("ghost", EventLog, "y"))

		assert.InDelta(t, 1, testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues("malformed")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues("unknown_token")), 0)
	})
}
