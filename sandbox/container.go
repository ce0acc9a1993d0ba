package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Container engines. EngineLocal runs node on the host without isolation and
// is meant for development only.
const (
	EngineDocker = "docker"
	EnginePodman = "podman"
	EngineLocal  = "local"
)

const (
	FilenameNodeJS     = "index.js"
	containerWorkdir   = "/workdir"
	containerRmTimeout = 10 * time.Second
)

// nodeWrapper mirrors the in-process console shim for node. Each message is
// written to stdout as one JSON line.
const nodeWrapperTemplate = `"use strict";
const __token = %s;
const __write = process.stdout.write.bind(process.stdout);
const __send = (type, payload) => {
  try { __write(JSON.stringify({ token: __token, type, payload }) + "\n"); } catch (e) {}
};
const __show = (a) => {
  try { return typeof a === "object" ? JSON.stringify(a) : String(a); } catch (e) { return String(a); }
};
const __log = (...args) => __send("log", args.map(__show).join(" "));
const __error = (...args) => __send("error", args.map((a) => String(a)).join(" "));
console.log = console.info = console.debug = __log;
console.error = console.warn = __error;
const __fault = (e) => __send("error", e && e.stack ? String(e.stack).replace(/\s+$/, "") : String(e));
process.on("uncaughtException", __fault);
process.on("unhandledRejection", __fault);
(function () {
  try {
%s
  } catch (e) {
    __fault(e);
  }
})();
`

// WrapNodeJavaScript returns the guarded node program for source.
func WrapNodeJavaScript(source, token string) string {
	quoted, _ := json.Marshal(token)
	return fmt.Sprintf(nodeWrapperTemplate, quoted, source)
}

// ContainerOptions configures container boundaries.
type ContainerOptions struct {
	Engine         string
	Image          string
	MemoryMB       int
	NetworkEnabled bool
	Environment    map[string]string
}

// ContainerBoundary runs JavaScript with node inside a short-lived container.
type ContainerBoundary struct {
	logger    *zap.Logger
	opts      ContainerOptions
	cmdRunner CommandRunner
	fs        FileSystem

	life   lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
	name   string
}

// ContainerBoundaryOption defines a functional option for ContainerBoundary
type ContainerBoundaryOption func(*ContainerBoundary)

// WithCommandRunner sets the CommandRunner for ContainerBoundary
func WithCommandRunner(cmdRunner CommandRunner) ContainerBoundaryOption {
	return func(b *ContainerBoundary) {
		b.cmdRunner = cmdRunner
	}
}

// WithFileSystem sets the FileSystem for ContainerBoundary
func WithFileSystem(fs FileSystem) ContainerBoundaryOption {
	return func(b *ContainerBoundary) {
		b.fs = fs
	}
}

// NewContainerBoundary creates an unused container boundary.
func NewContainerBoundary(logger *zap.Logger, opts ContainerOptions, options ...ContainerBoundaryOption) *ContainerBoundary {
	b := &ContainerBoundary{
		logger:    logger,
		opts:      opts,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

// Run writes the wrapped source to a scratch directory and executes it.
// Stdout lines are posted as they arrive; stderr is posted as one error.
func (b *ContainerBoundary) Run(ctx context.Context, source, token string, post PostFunc) error {
	if err := b.life.begin(); err != nil {
		return err
	}
	defer b.life.finish()

	tempDir, err := b.fs.MkdirTemp("", "playground-run-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := b.fs.RemoveAll(tempDir); rmErr != nil {
			b.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	workdirPath := filepath.Join(tempDir, "workdir")
	if mkdirErr := b.fs.MkdirAll(workdirPath, DirPermission); mkdirErr != nil {
		return fmt.Errorf("failed to create workdir: %w", mkdirErr)
	}

	scriptPath := filepath.Join(workdirPath, FilenameNodeJS)
	if writeErr := b.fs.WriteFile(scriptPath, []byte(WrapNodeJavaScript(source, token)), ScriptPermission); writeErr != nil {
		return fmt.Errorf("failed to write user code: %w", writeErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := "playground-run-" + token
	b.mu.Lock()
	if b.life.tornDown() {
		b.mu.Unlock()
		return ErrBoundaryDestroyed
	}
	b.cancel = cancel
	b.name = name
	b.mu.Unlock()

	args := b.commandArgs(name, workdirPath)
	b.logger.Debug("starting container boundary",
		zap.String("run_id", token),
		zap.String("engine", b.opts.Engine),
		zap.String("image", b.opts.Image))

	stdout := &lineWriter{post: plainAsLog(token, post)}
	stderr, exitCode, err := b.cmdRunner.RunCommand(runCtx, args, stdout)
	stdout.Flush()

	if runCtx.Err() != nil || b.life.tornDown() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to execute container: %w", err)
	}

	if text := strings.TrimRight(stderr, "\n"); text != "" {
		post(EncodeMessage(token, EventError, text))
	} else if exitCode != 0 {
		post(EncodeMessage(token, EventError, fmt.Sprintf("process exited with code %d", exitCode)))
	}

	return nil
}

// plainAsLog wraps post so stdout written around the console shim, such as
// process.stdout.write, still reaches the transcript as log output.
func plainAsLog(token string, post PostFunc) PostFunc {
	return func(line []byte) {
		if _, err := DecodeMessage(line); err != nil {
			line = EncodeMessage(token, EventLog, string(line))
		}
		post(line)
	}
}

// Destroy kills the engine process and force-removes the container.
func (b *ContainerBoundary) Destroy() {
	prev := b.life.tearDown()

	b.mu.Lock()
	cancel, name := b.cancel, b.name
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if prev != stateRunning || name == "" || b.opts.Engine == EngineLocal {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), containerRmTimeout)
		defer cancel()

		stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, []string{b.opts.Engine, "rm", "-f", name}, nopWriter{})
		if err != nil || exitCode != 0 {
			b.logger.Warn("failed to remove container after teardown",
				zap.String("container", name),
				zap.Int("exit_code", exitCode),
				zap.String("stderr", stderr),
				zap.Error(err))
		}
	}()
}

// commandArgs builds the engine invocation with the security restrictions
// applied to every run.
func (b *ContainerBoundary) commandArgs(name, workdirPath string) []string {
	if b.opts.Engine == EngineLocal {
		return []string{"node", filepath.Join(workdirPath, FilenameNodeJS)}
	}

	network := "none"
	if b.opts.NetworkEnabled {
		network = "bridge"
	}

	args := []string{
		b.opts.Engine, "run",
		"--name", name,
		"--rm",
		"-i=false",
		"-v", fmt.Sprintf("%s:%s:ro", workdirPath, containerWorkdir),
		"--workdir", containerWorkdir,
		"--memory", fmt.Sprintf("%dm", b.opts.MemoryMB),
		"--pids-limit", "64",
		"--network", network,
		"--read-only",
		"--ulimit", "fsize=10000000",
		"--security-opt", "no-new-privileges:true",
		"--user", "nobody",
		"--cap-drop", "ALL",
	}

	keys := make([]string, 0, len(b.opts.Environment))
	for key := range b.opts.Environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", strings.ToUpper(key), b.opts.Environment[key]))
	}

	return append(args, b.opts.Image, "node", containerWorkdir+"/"+FilenameNodeJS)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
