// Package upgrade runs version-gated migration steps against a persistent
// store. A step targets one product version and runs its procedures in
// order; every procedure commits its own work and must be safe to re-run.
package upgrade

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Procedure is one idempotent migration unit of a step.
type Procedure struct {
	Name string
	Run  func(ctx context.Context, uc *Context) error
}

// Step upgrades a product to Version.
type Step struct {
	Product    string
	Version    string
	Title      string
	Procedures []Procedure
}

func (s Step) validate() error {
	if s.Product == "" {
		return fmt.Errorf("upgrade step requires a product")
	}
	if !ValidVersion(s.Version) {
		return fmt.Errorf("upgrade step %s: %w: %q", s.Product, ErrInvalidVersion, s.Version)
	}
	if len(s.Procedures) == 0 {
		return fmt.Errorf("upgrade step %s %s has no procedures", s.Product, s.Version)
	}
	seen := make(map[string]struct{}, len(s.Procedures))
	for i, p := range s.Procedures {
		if p.Name == "" || p.Run == nil {
			return fmt.Errorf("upgrade step %s %s: procedure %d needs a name and a function", s.Product, s.Version, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("upgrade step %s %s: duplicate procedure %s", s.Product, s.Version, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Registry holds the known steps per product.
type Registry struct {
	mu    sync.RWMutex
	steps map[string][]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string][]Step)}
}

// Register adds a step. A product may hold only one step per version.
func (r *Registry) Register(step Step) error {
	if err := step.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.steps[step.Product] {
		if cmp, _ := CompareVersions(existing.Version, step.Version); cmp == 0 {
			return fmt.Errorf("upgrade step %s %s already registered", step.Product, step.Version)
		}
	}
	r.steps[step.Product] = append(r.steps[step.Product], step)
	return nil
}

// Steps returns the product's steps from oldest to newest target version.
func (r *Registry) Steps(product string) []Step {
	r.mu.RLock()
	out := append([]Step(nil), r.steps[product]...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		cmp, _ := CompareVersions(out[i].Version, out[j].Version)
		return cmp < 0
	})
	return out
}

// Lookup returns the step registered for (product, version).
func (r *Registry) Lookup(product, version string) (Step, bool) {
	for _, s := range r.Steps(product) {
		if cmp, err := CompareVersions(s.Version, version); err == nil && cmp == 0 {
			return s, true
		}
	}
	return Step{}, false
}

// Products lists the products with registered steps.
func (r *Registry) Products() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.steps))
	for p := range r.steps {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
