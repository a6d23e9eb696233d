package core

import (
	"context"
	"fmt"

	"limscore/internal/catalog"
	"limscore/internal/upgrade"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// Plugin describes a content module that contributes workflows, catalogs,
// post-transition handlers and upgrade steps.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// Runtime is what a post-transition handler may call back into.
type Runtime struct {
	Store   domain.PersistentStore
	Engine  *workflow.Engine
	Invoker *workflow.Invoker
	Catalog *catalog.Tool
}

// HookFunc reacts to an applied transition with access to the runtime.
type HookFunc func(ctx context.Context, rt *Runtime, ev workflow.Event) error

type hookBinding struct {
	portalType string
	transition string
	fn         HookFunc
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules     []domain.Rule
	workflows map[string]domain.Workflow
	chains    map[string][]string
	guards    map[string]workflow.GuardFunc
	hooks     []hookBinding
	catalogs  map[string]domain.CatalogDefinition
	resolvers map[string]catalog.Resolver
	steps     []upgrade.Step
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		workflows: make(map[string]domain.Workflow),
		chains:    make(map[string][]string),
		guards:    make(map[string]workflow.GuardFunc),
		catalogs:  make(map[string]domain.CatalogDefinition),
		resolvers: make(map[string]catalog.Resolver),
	}
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterWorkflow adds a workflow definition.
func (r *PluginRegistry) RegisterWorkflow(wf domain.Workflow) error {
	if err := ValidateWorkflow(wf); err != nil {
		return err
	}
	if _, exists := r.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already registered", wf.ID)
	}
	r.workflows[wf.ID] = wf.Clone()
	return nil
}

// RegisterChain binds the ordered workflows of a portal type.
func (r *PluginRegistry) RegisterChain(portalType string, workflowIDs ...string) error {
	if portalType == "" || len(workflowIDs) == 0 {
		return fmt.Errorf("chain requires a portal type and at least one workflow")
	}
	r.chains[portalType] = append([]string(nil), workflowIDs...)
	return nil
}

// RegisterGuard binds a guard expression name.
func (r *PluginRegistry) RegisterGuard(expression string, fn workflow.GuardFunc) error {
	if expression == "" || fn == nil {
		return fmt.Errorf("guard requires an expression and a function")
	}
	if _, exists := r.guards[expression]; exists {
		return fmt.Errorf("guard %s already registered", expression)
	}
	r.guards[expression] = fn
	return nil
}

// RegisterHook binds fn to run after transition fires on portalType.
func (r *PluginRegistry) RegisterHook(portalType, transition string, fn HookFunc) error {
	if portalType == "" || transition == "" || fn == nil {
		return fmt.Errorf("hook requires portal type, transition and handler")
	}
	r.hooks = append(r.hooks, hookBinding{portalType: portalType, transition: transition, fn: fn})
	return nil
}

// RegisterCatalog adds a catalog definition.
func (r *PluginRegistry) RegisterCatalog(def domain.CatalogDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("catalog id required")
	}
	if _, exists := r.catalogs[def.ID]; exists {
		return fmt.Errorf("catalog %s already registered", def.ID)
	}
	r.catalogs[def.ID] = def.Clone()
	return nil
}

// RegisterResolver adds a computed index or column.
func (r *PluginRegistry) RegisterResolver(name string, fn catalog.Resolver) {
	if name == "" || fn == nil {
		return
	}
	r.resolvers[name] = fn
}

// RegisterUpgradeStep adds a version-gated migration step.
func (r *PluginRegistry) RegisterUpgradeStep(step upgrade.Step) {
	r.steps = append(r.steps, step)
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []domain.Rule {
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Workflows returns the registered workflows ordered by id.
func (r *PluginRegistry) Workflows() []domain.Workflow {
	out := make([]domain.Workflow, 0, len(r.workflows))
	for _, id := range domain.SortedKeys(r.workflows) {
		out = append(out, r.workflows[id].Clone())
	}
	return out
}

// Chains returns a copy of the registered chains.
func (r *PluginRegistry) Chains() map[string][]string {
	out := make(map[string][]string, len(r.chains))
	for k, v := range r.chains {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Catalogs returns the registered catalog definitions ordered by id.
func (r *PluginRegistry) Catalogs() []domain.CatalogDefinition {
	out := make([]domain.CatalogDefinition, 0, len(r.catalogs))
	for _, id := range domain.SortedKeys(r.catalogs) {
		out = append(out, r.catalogs[id].Clone())
	}
	return out
}

// UpgradeSteps returns the registered steps.
func (r *PluginRegistry) UpgradeSteps() []upgrade.Step {
	return append([]upgrade.Step(nil), r.steps...)
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name      string
	Version   string
	Workflows []string
	Catalogs  []string
	Upgrades  []string
}

func metadataFor(p Plugin, reg *PluginRegistry) PluginMetadata {
	meta := PluginMetadata{
		Name:      p.Name(),
		Version:   p.Version(),
		Workflows: domain.SortedKeys(reg.workflows),
		Catalogs:  domain.SortedKeys(reg.catalogs),
	}
	for _, s := range reg.steps {
		meta.Upgrades = append(meta.Upgrades, s.Version)
	}
	return meta
}
