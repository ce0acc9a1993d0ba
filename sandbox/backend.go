package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/isdmx/playground/language"
)

// Sentinel errors of the execution layer.
var (
	ErrNotRunnable       = errors.New("language cannot be executed in the sandbox")
	ErrBoundaryUsed      = errors.New("isolation boundary has already been used")
	ErrBoundaryDestroyed = errors.New("isolation boundary has been torn down")
	ErrSuperseded        = errors.New("superseded by a new run")
	ErrSandboxClosed     = errors.New("sandbox is shutting down")
)

// Kind classifies runtime backends.
type Kind string

// Backend kinds.
const (
	KindNative      Kind = "native"
	KindInterpreted Kind = "interpreted"
	KindUnsupported Kind = "unsupported"
)

// Backend executes source of one language. A ready backend is shared across
// runs; every run gets its own Boundary.
type Backend interface {
	ID() string
	Language() language.Language
	CanExecute() bool
	NewBoundary() (Boundary, error)
}

// Boundary is a single-use isolated execution context. Run blocks until the
// source finishes or the boundary is destroyed, posting output as wire
// messages tagged with token. Destroy stops the context without its
// cooperation and may be called at any time, more than once.
type Boundary interface {
	Run(ctx context.Context, source, token string, post PostFunc) error
	Destroy()
}

// Descriptor describes how to obtain the backend of a language.
type Descriptor struct {
	ID       string
	Language language.Language
	Kind     Kind
	Init     func(ctx context.Context) (Backend, error)
}

// NeedsLoad reports whether the backend is initialized asynchronously.
func (d Descriptor) NeedsLoad() bool {
	return d.Kind == KindInterpreted
}

// BoundaryFactory creates fresh boundaries.
type BoundaryFactory func() Boundary

type nativeBackend struct {
	lang        language.Language
	newBoundary BoundaryFactory
}

// NativeDescriptor registers a backend whose boundaries need no loading.
func NativeDescriptor(lang language.Language, factory BoundaryFactory) Descriptor {
	backend := &nativeBackend{lang: lang, newBoundary: factory}
	return Descriptor{
		ID:       string(lang) + "-native",
		Language: lang,
		Kind:     KindNative,
		Init: func(context.Context) (Backend, error) {
			return backend, nil
		},
	}
}

func (b *nativeBackend) ID() string                  { return string(b.lang) + "-native" }
func (b *nativeBackend) Language() language.Language { return b.lang }
func (*nativeBackend) CanExecute() bool              { return true }

func (b *nativeBackend) NewBoundary() (Boundary, error) {
	return b.newBoundary(), nil
}

// UnsupportedBackend stands in for languages without a runnable backend.
type UnsupportedBackend struct {
	lang      language.Language
	supported []language.Language
}

func (b *UnsupportedBackend) ID() string                  { return "unsupported" }
func (b *UnsupportedBackend) Language() language.Language { return b.lang }
func (*UnsupportedBackend) CanExecute() bool              { return false }

// NewBoundary always fails: unsupported languages never reach isolation.
func (*UnsupportedBackend) NewBoundary() (Boundary, error) {
	return nil, ErrNotRunnable
}

// Message explains that the language cannot be run and names alternatives.
func (b *UnsupportedBackend) Message() string {
	name := b.lang.DisplayName()

	names := make([]string, 0, len(b.supported))
	for _, l := range b.supported {
		names = append(names, l.DisplayName())
	}

	var alternatives string
	switch len(names) {
	case 0:
		return "Run not supported in the sandbox for " + name + ". Run " + name + " locally."
	case 1:
		alternatives = names[0]
	default:
		alternatives = strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
	}

	return "Run not supported in the sandbox for " + name + ". Switch to " + alternatives + ", or run " + name + " locally."
}

// Boundary lifecycle states.
const (
	stateCreated int32 = iota
	stateRunning
	stateFinished
	stateTornDown
)

// lifecycle tracks created → running → torn down for a boundary.
type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) begin() error {
	if l.state.CompareAndSwap(stateCreated, stateRunning) {
		return nil
	}
	if l.state.Load() == stateTornDown {
		return ErrBoundaryDestroyed
	}
	return ErrBoundaryUsed
}

func (l *lifecycle) finish() {
	l.state.CompareAndSwap(stateRunning, stateFinished)
}

// tearDown marks the boundary destroyed and returns the previous state.
func (l *lifecycle) tearDown() int32 {
	return l.state.Swap(stateTornDown)
}

func (l *lifecycle) tornDown() bool {
	return l.state.Load() == stateTornDown
}
