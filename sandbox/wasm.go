package sandbox

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// MaxBundleBytes bounds the size of a downloaded interpreter bundle.
const MaxBundleBytes = 256 << 20

// Fetcher downloads interpreter bundles.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches bundles over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch downloads url. Non-2xx responses are errors.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build bundle request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download bundle: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBundleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	if len(data) > MaxBundleBytes {
		return nil, fmt.Errorf("bundle exceeds %d bytes", MaxBundleBytes)
	}

	return data, nil
}

// BundleCache keeps downloaded bundles on disk so restarts skip the fetch.
type BundleCache struct {
	logger  *zap.Logger
	dir     string
	fetcher Fetcher
	fs      FileSystem
}

// NewBundleCache creates a cache under dir. An empty dir disables caching.
func NewBundleCache(logger *zap.Logger, dir string, fetcher Fetcher, fs FileSystem) *BundleCache {
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	if fs == nil {
		fs = &RealFileSystem{}
	}
	return &BundleCache{logger: logger, dir: dir, fetcher: fetcher, fs: fs}
}

// Get returns the bundle at url. When checksum is set the cached or fetched
// bytes must match it; a stale cache entry is replaced.
func (c *BundleCache) Get(ctx context.Context, url, checksum string) ([]byte, error) {
	checksum = strings.ToLower(strings.TrimSpace(checksum))
	path := c.path(url)

	if path != "" {
		if data, ok := c.readCached(path, checksum); ok {
			c.logger.Debug("using cached interpreter bundle", zap.String("path", path))
			return data, nil
		}
	}

	c.logger.Info("downloading interpreter bundle", zap.String("url", url))
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if checksum != "" {
		if got := sha256Hex(data); got != checksum {
			return nil, fmt.Errorf("bundle checksum mismatch: expected %s, got %s", checksum, got)
		}
	}

	if path != "" {
		if err := c.store(path, data); err != nil {
			c.logger.Warn("failed to cache interpreter bundle", zap.String("path", path), zap.Error(err))
		}
	}

	return data, nil
}

func (c *BundleCache) path(url string) string {
	if c.dir == "" {
		return ""
	}
	return filepath.Join(c.dir, sha256Hex([]byte(url))[:16]+".wasm")
}

func (c *BundleCache) readCached(path, checksum string) ([]byte, bool) {
	exists, err := c.fs.FileExists(path)
	if err != nil || !exists {
		return nil, false
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		c.logger.Warn("failed to read cached bundle", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	if checksum != "" && sha256Hex(data) != checksum {
		c.logger.Warn("cached bundle checksum mismatch, refetching", zap.String("path", path))
		return nil, false
	}

	return data, true
}

func (c *BundleCache) store(path string, data []byte) error {
	if err := c.fs.MkdirAll(c.dir, DirPermission); err != nil {
		return err
	}
	return c.fs.WriteFile(path, data, CachePermission)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Interpreter runs a WASI program with the given arguments.
type Interpreter interface {
	Exec(ctx context.Context, args []string, stdout, stderr io.Writer) error
	Close(ctx context.Context) error
}

// WasmInterpreter holds one compiled WASI module. Each Exec instantiates it
// afresh, so runs share no interpreter state.
type WasmInterpreter struct {
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	stdlibDir   string
	stdlibMount string
}

// NewWasmInterpreter compiles bundle. stdlibDir, when set, is mounted
// read-only at stdlibMount inside every instance.
func NewWasmInterpreter(ctx context.Context, bundle []byte, stdlibDir, stdlibMount string) (*WasmInterpreter, error) {
	rt := wazero.NewRuntimeWithConfig(ctx,
		wazero.NewRuntimeConfig().WithCloseOnContextDone(true),
	)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bundle)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to compile interpreter: %w", err)
	}

	if stdlibMount == "" {
		stdlibMount = stdlibDir
	}

	return &WasmInterpreter{
		runtime:     rt,
		compiled:    compiled,
		stdlibDir:   stdlibDir,
		stdlibMount: stdlibMount,
	}, nil
}

// Exec runs the module to completion. Cancelling ctx closes the instance
// wherever it is executing.
func (w *WasmInterpreter) Exec(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	config := wazero.NewModuleConfig().
		WithName("").
		WithArgs(args...).
		WithStdout(stdout).
		WithStderr(stderr).
		WithStdin(strings.NewReader("")).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	if w.stdlibDir != "" {
		config = config.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(w.stdlibDir, w.stdlibMount))
	}

	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, config)
	if mod != nil {
		defer mod.Close(context.WithoutCancel(ctx))
	}

	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("interpreter exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run interpreter: %w", err)
	}

	return nil
}

// Close releases the runtime and every module compiled in it.
func (w *WasmInterpreter) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
