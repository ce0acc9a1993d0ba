package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/playground/language"
)

// PythonBackendID identifies the WebAssembly Python backend.
const PythonBackendID = "python-wasm"

// ResultMarker prefixes the line the harness prints with captured output.
const ResultMarker = "__PLAYGROUND_RESULT__"

const pythonHarnessTemplate = `import io, json, sys, traceback
__pg_out, __pg_err = io.StringIO(), io.StringIO()
__pg_stdout, __pg_stderr = sys.stdout, sys.stderr
sys.stdout, sys.stderr = __pg_out, __pg_err
try:
    exec(compile(%s, "<playground>", "exec"), {"__name__": "__main__"})
except SystemExit:
    pass
except BaseException:
    traceback.print_exc(file=__pg_err)
finally:
    sys.stdout, sys.stderr = __pg_stdout, __pg_stderr
__pg_stdout.write(%q + json.dumps({"stdout": __pg_out.getvalue(), "stderr": __pg_err.getvalue()}) + "\n")
__pg_stdout.flush()
`

// BuildHarness wraps source so the interpreter prints one result marker line
// carrying everything the program wrote. The source is embedded as a quoted
// string literal and never spliced into the harness text.
func BuildHarness(source string) string {
	quoted, _ := json.Marshal(source)
	return fmt.Sprintf(pythonHarnessTemplate, quoted, ResultMarker)
}

// ParseResult extracts the captured streams from interpreter output. Output
// without a marker is returned as is.
func ParseResult(stdout, stderr string) (outText, errText string) {
	idx := strings.LastIndex(stdout, ResultMarker)
	if idx < 0 {
		return stdout, stderr
	}

	raw := stdout[idx+len(ResultMarker):]
	if nl := strings.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[:nl]
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw, ""
	}

	return normalizeResult(value, raw)
}

// normalizeResult maps every shape the harness result may take to a
// stdout/stderr pair.
func normalizeResult(value interface{}, raw string) (string, string) {
	switch v := value.(type) {
	case nil:
		return "", ""
	case map[string]interface{}:
		return resultText(v["stdout"]), resultText(v["stderr"])
	case []interface{}:
		var out, errText string
		if len(v) > 0 {
			out = resultText(v[0])
		}
		if len(v) > 1 {
			errText = resultText(v[1])
		}
		return out, errText
	case string:
		return v, ""
	default:
		return raw, ""
	}
}

func resultText(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// PythonOptions configures the Python backend.
type PythonOptions struct {
	BundleURL    string
	BundleSHA256 string
	CacheDir     string
	StdlibDir    string
	StdlibMount  string
	Fetcher      Fetcher
	FileSystem   FileSystem

	// NewInterpreter replaces bundle download and compilation.
	NewInterpreter func(ctx context.Context) (Interpreter, error)
}

// PythonDescriptor registers the interpreted Python backend. Loading
// downloads and compiles the interpreter once per process.
func PythonDescriptor(logger *zap.Logger, opts PythonOptions) Descriptor {
	newInterpreter := opts.NewInterpreter
	if newInterpreter == nil {
		newInterpreter = func(ctx context.Context) (Interpreter, error) {
			if opts.BundleURL == "" {
				return nil, fmt.Errorf("python bundle url is not configured")
			}

			cache := NewBundleCache(logger, opts.CacheDir, opts.Fetcher, opts.FileSystem)
			bundle, err := cache.Get(ctx, opts.BundleURL, opts.BundleSHA256)
			if err != nil {
				return nil, err
			}

			return NewWasmInterpreter(ctx, bundle, opts.StdlibDir, opts.StdlibMount)
		}
	}

	return Descriptor{
		ID:       PythonBackendID,
		Language: language.Python,
		Kind:     KindInterpreted,
		Init: func(ctx context.Context) (Backend, error) {
			interp, err := newInterpreter(ctx)
			if err != nil {
				return nil, err
			}
			return &pythonBackend{interp: interp}, nil
		},
	}
}

type pythonBackend struct {
	interp Interpreter
}

func (*pythonBackend) ID() string                  { return PythonBackendID }
func (*pythonBackend) Language() language.Language { return language.Python }
func (*pythonBackend) CanExecute() bool            { return true }

func (b *pythonBackend) NewBoundary() (Boundary, error) {
	return &pythonBoundary{interp: b.interp}, nil
}

func (b *pythonBackend) Close(ctx context.Context) error {
	return b.interp.Close(ctx)
}

// pythonBoundary is one interpreter instance.
type pythonBoundary struct {
	interp Interpreter
	life   lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (b *pythonBoundary) Run(ctx context.Context, source, token string, post PostFunc) error {
	if err := b.life.begin(); err != nil {
		return err
	}
	defer b.life.finish()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.life.tornDown() {
		b.mu.Unlock()
		return ErrBoundaryDestroyed
	}
	b.cancel = cancel
	b.mu.Unlock()

	stdout := &limitedBuffer{limit: MaxStreamBytes}
	stderr := &limitedBuffer{limit: MaxStreamBytes}

	execErr := b.interp.Exec(runCtx, []string{"python", "-c", BuildHarness(source)}, stdout, stderr)
	if runCtx.Err() != nil || b.life.tornDown() {
		return nil
	}

	outText, errText := ParseResult(stdout.String(), stderr.String())
	outText = strings.TrimSuffix(outText, "\n")
	errText = strings.TrimRight(errText, "\n")

	if execErr != nil && errText == "" {
		errText = execErr.Error()
	}

	if outText != "" {
		post(EncodeMessage(token, EventLog, outText))
	}
	if errText != "" {
		post(EncodeMessage(token, EventError, errText))
	}

	return nil
}

// Destroy closes the running instance.
func (b *pythonBoundary) Destroy() {
	b.life.tearDown()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}
