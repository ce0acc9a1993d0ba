package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// CommandRunner defines an interface for executing system commands. Stdout
// is streamed to the given writer while the command runs.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string, stdout io.Writer) (stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. A command killed
// because ctx ended reports ctx's error.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string, stdout io.Writer) (stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Arguments are built by the sandbox, not the user
	cmd.WaitDelay = time.Second

	stderrBuf := &limitedBuffer{limit: MaxStreamBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderrBuf

	err = cmd.Run()
	if ctx.Err() != nil {
		return stderrBuf.String(), -1, ctx.Err()
	}

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return stderrBuf.String(), exitError.ExitCode(), nil
		}
		return "", 0, err
	}

	return stderrBuf.String(), 0, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename) //nolint:gosec // Paths are derived from configuration
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// File permission and size constants
const (
	DirPermission    = 0755
	ScriptPermission = 0644
	CachePermission  = 0600
	MaxStreamBytes   = 1 << 20
	MaxLineBytes     = 1 << 20
)

// limitedBuffer keeps the first limit bytes written to it and discards the
// rest while reporting full writes, so a chatty process never blocks.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// lineWriter posts every complete line written to it.
type lineWriter struct {
	post    PostFunc
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.pending = append(w.pending, p...)
			if len(w.pending) > MaxLineBytes {
				w.pending = w.pending[:0]
			}
			break
		}
		line := append(w.pending, p[:i]...)
		w.pending = nil
		w.emit(line)
		p = p[i+1:]
	}
	return n, nil
}

// Flush posts a trailing line without newline.
func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.post(append([]byte(nil), line...))
}
