package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// DefaultMaxCallStack bounds JavaScript recursion depth.
const DefaultMaxCallStack = 10000

// jsWrapper installs the console shim and evaluates the user source inside a
// guard. The program evaluates to a function taking the host post hook and
// the run token, so nothing of the host is reachable through globals.
const jsWrapperPrefix = `(function (__post, __token) {
  var __send = function (type, payload) {
    try { __post(JSON.stringify({ token: __token, type: type, payload: payload })); } catch (e) {}
  };
  var __show = function (a) {
    try { return typeof a === "object" ? JSON.stringify(a) : String(a); } catch (e) { return String(a); }
  };
  var __join = function (args, fmt) {
    var parts = [];
    for (var i = 0; i < args.length; i++) { parts.push(fmt(args[i])); }
    return parts.join(" ");
  };
  var __log = function () { __send("log", __join(arguments, __show)); };
  var __error = function () { __send("error", __join(arguments, String)); };
  var __fault = function (e) {
    __send("error", e && e.stack ? String(e.stack).replace(/\s+$/, "") : String(e));
  };
  var console = { log: __log, info: __log, debug: __log, error: __error, warn: __error };
  try {
`

const jsWrapperSuffix = `
  } catch (e) {
    __fault(e);
  }
})`

// WrapJavaScript returns the guarded program for source.
func WrapJavaScript(source string) string {
	return jsWrapperPrefix + source + jsWrapperSuffix
}

// GojaOptions configures in-process JavaScript boundaries.
type GojaOptions struct {
	MaxCallStack int
}

// GojaBoundary runs JavaScript in a fresh goja runtime. The runtime has no
// host bindings apart from the console shim.
type GojaBoundary struct {
	opts GojaOptions
	life lifecycle
	mu   sync.Mutex
	vm   *goja.Runtime
}

// NewGojaBoundary creates an unused in-process boundary.
func NewGojaBoundary(opts GojaOptions) *GojaBoundary {
	if opts.MaxCallStack <= 0 {
		opts.MaxCallStack = DefaultMaxCallStack
	}
	return &GojaBoundary{opts: opts}
}

// Run evaluates source. Faults of the user code are posted as error
// messages; Run only returns an error when the boundary cannot be used.
func (b *GojaBoundary) Run(ctx context.Context, source, token string, post PostFunc) (err error) {
	if err := b.life.begin(); err != nil {
		return err
	}
	defer b.life.finish()

	vm := goja.New()
	vm.SetMaxCallStackSize(b.opts.MaxCallStack)

	var rejected []*goja.Promise
	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			rejected = append(rejected, p)
		case goja.PromiseRejectionHandle:
			for i, r := range rejected {
				if r == p {
					rejected = append(rejected[:i], rejected[i+1:]...)
					break
				}
			}
		}
	})

	b.mu.Lock()
	if b.life.tornDown() {
		b.mu.Unlock()
		return ErrBoundaryDestroyed
	}
	b.vm = vm
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, b.Destroy)
	defer stop()

	fault := func(text string) {
		post(EncodeMessage(token, EventError, strings.TrimRight(text, "\n")))
	}

	defer func() {
		if r := recover(); r != nil {
			fault(fmt.Sprintf("sandbox fault: %v", r))
		}
	}()

	value, err := vm.RunScript("sandbox.js", WrapJavaScript(source))
	if err != nil {
		b.report(err, fault)
		return nil
	}

	entry, ok := goja.AssertFunction(value)
	if !ok {
		return fmt.Errorf("sandbox wrapper did not evaluate to a function")
	}

	hostPost := func(call goja.FunctionCall) goja.Value {
		post([]byte(call.Argument(0).String()))
		return goja.Undefined()
	}

	if _, err := entry(goja.Undefined(), vm.ToValue(hostPost), vm.ToValue(token)); err != nil {
		b.report(err, fault)
		return nil
	}

	// Microtasks have drained by now, so what is left was never handled.
	for _, p := range rejected {
		if b.life.tornDown() {
			break
		}
		fault(rejectionText(p.Result()))
	}

	return nil
}

func rejectionText(reason goja.Value) string {
	if obj, ok := reason.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) && !goja.IsNull(stack) {
			return stack.String()
		}
	}
	if reason == nil {
		return "Uncaught (in promise) undefined"
	}
	return "Uncaught (in promise) " + reason.String()
}

// Destroy interrupts the runtime. Execution stops at the next instruction
// regardless of what the user code does.
func (b *GojaBoundary) Destroy() {
	b.life.tearDown()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vm != nil {
		b.vm.Interrupt(ErrBoundaryDestroyed)
	}
}

func (b *GojaBoundary) report(err error, fault func(string)) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || b.life.tornDown() {
		return
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		fault(exception.String())
		return
	}

	fault(err.Error())
}
