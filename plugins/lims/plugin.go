// Package lims is the laboratory content plugin: the analysis request,
// analysis, cancellation, activation and batch workflows, their guards and
// cascades, the listing catalogs, and the product's upgrade steps.
package lims

import (
	"fmt"

	"limscore/internal/core"
	"limscore/pkg/domain"
	"limscore/plugins/lims/upgrades"
)

// Product is the name the plugin installs under and versions are tracked by.
const Product = upgrades.Product

// Version is the release the plugin definitions correspond to.
const Version = "1.2.9"

// Plugin implements core.Plugin.
type Plugin struct{}

// New returns the plugin.
func New() Plugin { return Plugin{} }

// Name implements core.Plugin.
func (Plugin) Name() string { return Product }

// Version implements core.Plugin.
func (Plugin) Version() string { return Version }

// Chains returns the workflow chain of each portal type.
func Chains() map[string][]string {
	chains := map[string][]string{
		TypeAnalysisRequest: {ARWorkflowID, CancellationWorkflowID},
		TypeAnalysis:        {AnalysisWorkflowID, CancellationWorkflowID},
		TypeBatch:           {BatchWorkflowID},
		TypeClient:          {InactiveWorkflowID},
	}
	for _, t := range SetupTypes {
		chains[t] = []string{InactiveWorkflowID}
	}
	return chains
}

// Register implements core.Plugin.
func (Plugin) Register(r *core.PluginRegistry) error {
	for _, wf := range []func() domain.Workflow{ARWorkflow, AnalysisWorkflow, CancellationWorkflow, InactiveWorkflow, BatchWorkflow} {
		if err := r.RegisterWorkflow(wf()); err != nil {
			return err
		}
	}
	chains := Chains()
	for _, portalType := range domain.SortedKeys(chains) {
		if err := r.RegisterChain(portalType, chains[portalType]...); err != nil {
			return err
		}
	}
	gs := guards()
	for _, expr := range domain.SortedKeys(gs) {
		if err := r.RegisterGuard(expr, gs[expr]); err != nil {
			return err
		}
	}
	for _, h := range hooks() {
		if err := r.RegisterHook(h.portalType, h.transition, h.fn); err != nil {
			return fmt.Errorf("hook %s/%s: %w", h.portalType, h.transition, err)
		}
	}
	for _, def := range catalogs() {
		if err := r.RegisterCatalog(def); err != nil {
			return err
		}
	}
	for name, fn := range resolvers() {
		r.RegisterResolver(name, fn)
	}
	r.RegisterUpgradeStep(upgrades.Step129())
	return nil
}
