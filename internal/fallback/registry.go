// Package fallback holds the ordered backend registry of a stage and the
// confidence-gated selection algorithm run over it.
package fallback

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the fallback package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Entry is one registered backend.
type Entry[B any] struct {
	Name    string
	Backend B
}

// Registry keeps backends in registration order.
type Registry[B any] struct {
	entries []Entry[B]
}

// NewRegistry returns an empty registry.
func NewRegistry[B any]() *Registry[B] {
	return &Registry[B]{}
}

// Register appends a backend. Names must be unique and non-empty.
func (r *Registry[B]) Register(name string, backend B) error {
	if name == "" {
		return fmt.Errorf("backend name is required")
	}
	for _, e := range r.entries {
		if e.Name == name {
			return fmt.Errorf("backend %q already registered", name)
		}
	}
	r.entries = append(r.entries, Entry[B]{Name: name, Backend: backend})
	return nil
}

// Len returns the number of registered backends.
func (r *Registry[B]) Len() int {
	return len(r.entries)
}

// Names returns backend names in registration order.
func (r *Registry[B]) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Has reports whether a backend with name is registered.
func (r *Registry[B]) Has(name string) bool {
	for _, e := range r.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Ordered returns the attempt order: preferred first when registered, then
// the rest in registration order. An unknown preferred name is ignored.
func (r *Registry[B]) Ordered(preferred string) []Entry[B] {
	ordered, found := r.order(preferred)
	if preferred != "" && !found {
		log.WithFields(logrus.Fields{
			"preferred": preferred,
			"available": r.Names(),
		}).Warn("Preferred backend is not registered, using registration order")
	}
	return ordered
}

func (r *Registry[B]) order(preferred string) ([]Entry[B], bool) {
	ordered := make([]Entry[B], 0, len(r.entries))
	found := false
	for _, e := range r.entries {
		if preferred != "" && e.Name == preferred {
			ordered = append(ordered, e)
			found = true
			break
		}
	}
	for _, e := range r.entries {
		if found && e.Name == preferred {
			continue
		}
		ordered = append(ordered, e)
	}
	return ordered, found
}

// ChainID identifies the attempt order for cache keys. Two registries with
// the same backends in the same order share cached results.
func (r *Registry[B]) ChainID(preferred string) string {
	ordered, _ := r.order(preferred)
	names := make([]string, len(ordered))
	for i, e := range ordered {
		names[i] = e.Name
	}
	return strings.Join(names, ">")
}
