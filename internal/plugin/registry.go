// Package plugin keeps the explicit table of port scanner implementations.
// Implementations are registered by id at startup; nothing is discovered by
// reflection. Availability is reported as a value so callers can skip a
// scanner whose prerequisites are missing.
package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/scanning"
)

// PortScanner scans targets and reports reconciled services.
type PortScanner interface {
	PortSpec() scanning.PortSpec
	Scan(ctx context.Context, target scanning.Target) (*scanning.ScanReport, error)
	ScanAll(ctx context.Context, targets []scanning.Target) []scanning.Result
}

// Deps are the constructor arguments handed to every factory.
type Deps struct {
	Config  scanning.Config
	Options scanning.Options
}

// Availability tells whether a scanner can run in this environment.
type Availability struct {
	Available bool
	Reason    string
}

// Available reports a usable scanner.
func Available() Availability {
	return Availability{Available: true}
}

// Unavailable reports a scanner that cannot run, with the reason.
func Unavailable(format string, args ...any) Availability {
	return Availability{Reason: fmt.Sprintf(format, args...)}
}

// Factory builds a scanner and checks its prerequisites.
type Factory struct {
	ID          string
	Description string
	New         func(Deps) (PortScanner, error)
	Check       func(ctx context.Context, deps Deps) Availability
}

// Registry maps stable scanner ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Ids must be unique.
func (r *Registry) Register(f Factory) error {
	if f.ID == "" || f.New == nil {
		return errors.NewConfigError(errors.CodeValidation, "plugin factory requires an id and a constructor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.ID]; exists {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("plugin %s already registered", f.ID), "plugin", f.ID)
	}
	r.factories[f.ID] = f
	return nil
}

// Lookup returns the factory registered under id.
func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Check reports whether the plugin id can run with deps. Unknown ids and
// failed prerequisite checks come back as Unavailable, never as an error.
func (r *Registry) Check(ctx context.Context, id string, deps Deps) Availability {
	f, ok := r.Lookup(id)
	if !ok {
		return Unavailable("plugin %q is not registered", id)
	}
	if f.Check == nil {
		return Available()
	}
	return f.Check(ctx, deps)
}

// Build constructs the scanner registered under id after checking availability.
func (r *Registry) Build(ctx context.Context, id string, deps Deps) (PortScanner, error) {
	f, ok := r.Lookup(id)
	if !ok {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("unknown plugin %q", id), "scanner.plugin", id)
	}
	if a := r.Check(ctx, id, deps); !a.Available {
		return nil, errors.NewScanError(errors.CodeUnavailable, a.Reason).WithOperation("plugin_check")
	}
	return f.New(deps)
}
