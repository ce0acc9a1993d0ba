package sandbox

import (
	"context"
	"fmt"

	"github.com/isdmx/playground/language"
)

// Registry maps languages to backend descriptors.
type Registry struct {
	descriptors map[language.Language]Descriptor
	order       []language.Language
}

// NewRegistry builds a registry from runnable descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	reg := &Registry{
		descriptors: make(map[language.Language]Descriptor, len(descriptors)),
	}

	for _, d := range descriptors {
		if d.Language == "" {
			return nil, fmt.Errorf("backend descriptor %q missing language", d.ID)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("backend descriptor for %s missing id", d.Language)
		}
		if d.Init == nil {
			return nil, fmt.Errorf("backend descriptor %q missing initializer", d.ID)
		}
		if d.Kind == KindUnsupported {
			return nil, fmt.Errorf("backend descriptor %q: unsupported languages are implicit", d.ID)
		}
		if _, exists := reg.descriptors[d.Language]; exists {
			return nil, fmt.Errorf("duplicate backend for language %q", d.Language)
		}

		reg.descriptors[d.Language] = d
		reg.order = append(reg.order, d.Language)
	}

	return reg, nil
}

// Resolve returns the descriptor of lang. Languages without a registered
// backend resolve to the unsupported descriptor.
func (r *Registry) Resolve(lang language.Language) Descriptor {
	if d, ok := r.descriptors[lang]; ok {
		return d
	}

	backend := &UnsupportedBackend{lang: lang, supported: r.Supported()}
	return Descriptor{
		ID:       "unsupported",
		Language: lang,
		Kind:     KindUnsupported,
		Init: func(context.Context) (Backend, error) {
			return backend, nil
		},
	}
}

// Supported lists the runnable languages in registration order.
func (r *Registry) Supported() []language.Language {
	return append([]language.Language(nil), r.order...)
}
