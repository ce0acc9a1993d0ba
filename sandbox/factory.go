package sandbox

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/language"
)

// NewFromConfig creates a Sandbox with the JavaScript and Python backends
// selected by the configuration. Collectors are registered with reg when it
// is not nil.
func NewFromConfig(logger *zap.Logger, cfg *config.Config, reg prometheus.Registerer) (*Sandbox, error) {
	jsFactory, err := newJavaScriptFactory(logger, cfg)
	if err != nil {
		return nil, err
	}

	python := PythonDescriptor(logger, PythonOptions{
		BundleURL:    cfg.Python.BundleURL,
		BundleSHA256: cfg.Python.BundleSHA256,
		CacheDir:     cfg.Python.CacheDir,
		StdlibDir:    cfg.Python.StdlibDir,
		StdlibMount:  cfg.Python.StdlibMount,
	})

	registry, err := NewRegistry(NativeDescriptor(language.JavaScript, jsFactory), python)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend registry: %w", err)
	}

	return New(logger, registry,
		WithTimeout(cfg.GetTimeout()),
		WithLoadTimeout(cfg.GetLoadTimeout()),
		WithTeardownGrace(cfg.GetTeardownGrace()),
		WithMaxTranscriptBytes(cfg.Sandbox.MaxTranscriptBytes),
		WithMetrics(NewMetrics(reg)),
	), nil
}

func newJavaScriptFactory(logger *zap.Logger, cfg *config.Config) (BoundaryFactory, error) {
	switch cfg.Sandbox.Isolation {
	case config.IsolationInProcess:
		opts := GojaOptions{MaxCallStack: cfg.Sandbox.MaxCallStack}
		return func() Boundary { return NewGojaBoundary(opts) }, nil
	case config.IsolationDocker, config.IsolationPodman, config.IsolationLocal:
		lang := cfg.Languages[string(language.JavaScript)]
		opts := ContainerOptions{
			Engine:         cfg.Sandbox.Isolation,
			Image:          lang.Image,
			MemoryMB:       cfg.Sandbox.MemoryMB,
			NetworkEnabled: cfg.Sandbox.NetworkEnabled,
			Environment:    lang.Environment,
		}
		if opts.Engine != EngineLocal && opts.Image == "" {
			return nil, fmt.Errorf("languages.javascript.image must be set for %s isolation", opts.Engine)
		}
		return func() Boundary { return NewContainerBoundary(logger, opts) }, nil
	default:
		return nil, fmt.Errorf("unsupported isolation: %s", cfg.Sandbox.Isolation)
	}
}
