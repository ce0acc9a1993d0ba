package sandbox

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu sync.Mutex

	// stdout is streamed to the writer before the call returns
	stdout   string
	stderr   string
	exitCode int
	err      error

	// block makes RunCommand wait for context cancellation
	block bool

	calls [][]string
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string, stdout io.Writer) (string, int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	out, stderr, exitCode, err, block := m.stdout, m.stderr, m.exitCode, m.err, m.block
	m.mu.Unlock()

	if args[1] == "rm" {
		return "", 0, nil
	}

	if out != "" {
		_, _ = stdout.Write([]byte(out))
	}

	if block {
		<-ctx.Done()
		return "", -1, ctx.Err()
	}

	return stderr, exitCode, err
}

func (m *MockCommandRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mu              sync.Mutex
	mkdirTempResult string
	mkdirAllErrors  map[string]error
	writeFileErrors map[string]error
	writeFileData   map[string][]byte
	readFileResults map[string][]byte
	removed         []string
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	if m.mkdirTempResult != "" {
		return m.mkdirTempResult, nil
	}
	return "/tmp/test", nil
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, exists := m.writeFileErrors[filename]; exists {
		return err
	}
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result, exists := m.readFileResults[filename]; exists {
		return result, nil
	}
	if data, exists := m.writeFileData[filename]; exists {
		return data, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	return nil
}

func (m *MockFileSystem) FileExists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.readFileResults[path]; exists {
		return true, nil
	}
	_, exists := m.writeFileData[path]
	return exists, nil
}

func TestLimitedBuffer(t *testing.T) {
	buf := &limitedBuffer{limit: 5}

	n, err := buf.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = buf.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "writes report full length even when truncated")

	assert.Equal(t, "abcde", buf.String())
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := &lineWriter{post: func(raw []byte) { lines = append(lines, string(raw)) }}

	_, _ = w.Write([]byte("first\nsec"))
	assert.Equal(t, []string{"first"}, lines)

	_, _ = w.Write([]byte("ond\r\n\nthird"))
	assert.Equal(t, []string{"first", "second"}, lines, "empty lines are skipped")

	w.Flush()
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestLineWriterDropsOversizedLine(t *testing.T) {
	var lines []string
	w := &lineWriter{post: func(raw []byte) { lines = append(lines, string(raw)) }}

	_, _ = w.Write([]byte(strings.Repeat("x", MaxLineBytes+1)))
	_, _ = w.Write([]byte("\nok\n"))

	assert.Equal(t, []string{"ok"}, lines)
}

func TestRealCommandRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	runner := RealCommandRunner{}

	t.Run("StreamsStdout", func(t *testing.T) {
		var out strings.Builder
		stderr, code, err := runner.RunCommand(context.Background(), []string{"/bin/sh", "-c", "echo hi; echo oops >&2; exit 3"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "hi\n", out.String())
		assert.Equal(t, "oops\n", stderr)
		assert.Equal(t, 3, code)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, code, err := runner.RunCommand(ctx, []string{"/bin/sh", "-c", "sleep 5"}, &strings.Builder{})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, -1, code)
	})

	t.Run("NoCommand", func(t *testing.T) {
		_, _, err := runner.RunCommand(context.Background(), nil, &strings.Builder{})
		require.Error(t, err)
	})
}

func TestFilePermissionAndSizeConstants(t *testing.T) {
	assert.Equal(t, 0755, int(DirPermission))
	assert.Equal(t, 0644, int(ScriptPermission))
	assert.Equal(t, 0600, int(CachePermission))
	assert.Equal(t, 1024*1024, MaxStreamBytes)
}
