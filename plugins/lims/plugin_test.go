package lims

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/internal/catalog"
	"limscore/internal/core"
	"limscore/internal/infra/persistence/memory"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

type env struct {
	t   *testing.T
	ctx context.Context
	svc *core.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := core.NewService(memory.NewStore(nil), core.WithClock(func() time.Time { return clock }))
	_, err := svc.InstallPlugin(context.Background(), New())
	require.NoError(t, err)
	return &env{t: t, ctx: context.Background(), svc: svc}
}

func labManager() *workflow.Request { return workflow.NewRequest("lab", RoleLabManager) }

func (e *env) create(obj domain.Object) domain.Object {
	e.t.Helper()
	created, err := e.svc.CreateObject(e.ctx, workflow.SystemRequest(), obj)
	require.NoError(e.t, err)
	return created
}

func (e *env) get(uid string) domain.Object {
	e.t.Helper()
	obj, err := e.svc.GetObject(e.ctx, uid)
	require.NoError(e.t, err)
	return obj
}

func (e *env) review(uid string) string { return e.get(uid).State(domain.StateFlowReview) }

func (e *env) cancellation(uid string) string { return e.get(uid).State(domain.StateFlowCancellation) }

func (e *env) do(req *workflow.Request, uid, action string) domain.TransitionResult {
	e.t.Helper()
	res, err := e.svc.DoActionFor(e.ctx, req, uid, action)
	require.NoError(e.t, err)
	return res
}

func (e *env) setResult(uid, value string) {
	e.t.Helper()
	_, err := e.svc.UpdateObject(e.ctx, uid, func(o *domain.Object) error {
		o.SetAttr(AttrResult, value)
		return nil
	})
	require.NoError(e.t, err)
}

func (e *env) search(catalogID string, q catalog.Query) []string {
	e.t.Helper()
	var uids []string
	require.NoError(e.t, e.svc.Store().View(e.ctx, func(v domain.TransactionView) error {
		entries, err := e.svc.Catalog().Search(v, catalogID, q)
		require.NoError(e.t, err)
		for _, entry := range entries {
			uids = append(uids, entry.UID)
		}
		return nil
	}))
	return uids
}

// sampleRequest creates client-1 holding request ar-1 with analyses an-1 (Ca)
// and an-2 (Mg).
func (e *env) sampleRequest() {
	e.t.Helper()
	e.create(domain.Object{UID: "client-1", ID: "client-1", PortalType: TypeClient, Title: "Happy Hills"})
	e.create(domain.Object{
		UID: "ar-1", ID: "H2O-0001", PortalType: TypeAnalysisRequest, Title: "H2O-0001", ParentUID: "client-1",
		Attributes: map[string]any{AttrClientUID: "client-1"},
	})
	e.create(domain.Object{UID: "an-1", ID: "Ca", PortalType: TypeAnalysis, Title: "Calcium", ParentUID: "ar-1",
		Attributes: map[string]any{AttrKeyword: "Ca"}})
	e.create(domain.Object{UID: "an-2", ID: "Mg", PortalType: TypeAnalysis, Title: "Magnesium", ParentUID: "ar-1",
		Attributes: map[string]any{AttrKeyword: "Mg"}})
}

func transitionIDs(trs []domain.Transition) []string {
	out := make([]string, 0, len(trs))
	for _, tr := range trs {
		out = append(out, tr.ID)
	}
	return out
}

func TestInstallPlugin(t *testing.T) {
	e := newEnv(t)
	plugins := e.svc.RegisteredPlugins()
	require.Len(t, plugins, 1)
	meta := plugins[0]
	assert.Equal(t, "bika.lims", meta.Name)
	assert.Equal(t, []string{AnalysisWorkflowID, ARWorkflowID, BatchWorkflowID, CancellationWorkflowID, InactiveWorkflowID}, meta.Workflows)
	assert.Equal(t, []string{catalog.AnalysisListing, catalog.AnalysisRequestListing, catalog.SetupCatalog, catalog.PortalCatalog}, meta.Catalogs)
	assert.Equal(t, []string{"1.2.9"}, meta.Upgrades)

	installed, known, err := e.svc.Upgrades().InstalledVersion(e.ctx, Product)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, "1.2.9", installed)
	pending, err := e.svc.Upgrades().Pending(e.ctx, Product)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, e.svc.Store().View(e.ctx, func(v domain.TransactionView) error {
		wf, ok := v.FindWorkflow(ARWorkflowID)
		require.True(t, ok)
		assert.True(t, wf.HasTransition("invalidate"))
		assert.False(t, wf.HasTransition("retract_ar"))
		assert.Equal(t, []string{ARWorkflowID, CancellationWorkflowID}, v.Chain(TypeAnalysisRequest))
		assert.Empty(t, v.Chain(TypeAttachment))
		has, err := catalog.HasIndex(v, catalog.AnalysisListing, "getAncestorsUIDs")
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	}))

	_, err = e.svc.InstallPlugin(e.ctx, New())
	assert.Error(t, err)
}

func TestCreateStartsAtInitialStates(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	ar := e.get("ar-1")
	assert.Equal(t, "sample_due", ar.State(domain.StateFlowReview))
	assert.Equal(t, "active", ar.State(domain.StateFlowCancellation))
	assert.Equal(t, "unassigned", e.review("an-1"))
	assert.Equal(t, "active", e.get("client-1").State(domain.StateFlowInactive))
	assert.ElementsMatch(t, viewers, ar.RoleMappings[PermView])

	assert.Equal(t, []string{"ar-1"}, e.search(catalog.AnalysisRequestListing, catalog.Query{"getClientUID": "client-1"}))
	assert.Equal(t, []string{"an-1", "an-2"}, e.search(catalog.AnalysisListing, catalog.Query{"getClientUID": "client-1"}))
	assert.Equal(t, []string{"an-1", "an-2"}, e.search(catalog.AnalysisListing, catalog.Query{"getAnalysisRequestUID": "ar-1"}))
}

func TestSubmitCascadeClaimsEachObjectOnce(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	assert.Equal(t, domain.OutcomeApplied, e.do(labManager(), "ar-1", "receive").Outcome)
	e.setResult("an-1", "12.5")
	e.setResult("an-2", "3.1")

	req := labManager()
	res := e.do(req, "an-1", "submit")
	assert.True(t, res.Success())
	assert.Equal(t, "to_be_verified", e.review("an-1"))
	assert.Equal(t, "to_be_verified", e.review("an-2"))
	assert.Equal(t, "to_be_verified", e.review("ar-1"))
	assert.Equal(t, []string{"an-1_submit", "an-2_submit", "ar-1_submit"}, req.SkipKeys())

	again := e.do(req, "an-2", "submit")
	assert.Equal(t, domain.OutcomeSkipped, again.Outcome)
}

func TestAnalysisSubmitWaitsForSiblings(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")
	e.setResult("an-1", "12.5")

	req := labManager()
	assert.True(t, e.do(req, "an-1", "submit").Success())
	assert.Equal(t, "sample_received", e.review("ar-1"))
	assert.Equal(t, "unassigned", e.review("an-2"))
	assert.Equal(t, []string{"an-1_submit"}, req.SkipKeys())

	e.setResult("an-2", "3.1")
	assert.True(t, e.do(labManager(), "an-2", "submit").Success())
	assert.Equal(t, "to_be_verified", e.review("ar-1"))
}

func TestSubmitGuards(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")

	res := e.do(labManager(), "an-1", "submit")
	assert.Equal(t, domain.OutcomeGuardRejected, res.Outcome)
	assert.Contains(t, res.Message, "guard_handler:submit")
	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "ar-1", "submit").Outcome)

	e.setResult("an-1", "12.5")
	sampler := workflow.NewRequest("sam", RoleSampler)
	assert.Equal(t, domain.OutcomeGuardRejected, e.do(sampler, "an-1", "submit").Outcome)
	assert.Equal(t, "unassigned", e.review("an-1"))
}

func TestCancelAndReinstateCascade(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()

	assert.True(t, e.do(labManager(), "ar-1", "cancel").Success())
	assert.Equal(t, "cancelled", e.cancellation("ar-1"))
	assert.Equal(t, "cancelled", e.cancellation("an-1"))
	assert.Equal(t, "cancelled", e.cancellation("an-2"))
	assert.Equal(t, []string{"an-1", "an-2"}, e.search(catalog.AnalysisListing, catalog.Query{"cancellation_state": "cancelled"}))

	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "ar-1", "receive").Outcome)

	assert.True(t, e.do(labManager(), "ar-1", "reinstate").Success())
	assert.Equal(t, "active", e.cancellation("an-1"))
	assert.Equal(t, "active", e.cancellation("an-2"))
	assert.True(t, e.do(labManager(), "ar-1", "receive").Success())
}

func TestCancelRejectedAfterSubmission(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")
	e.setResult("an-1", "1")
	e.setResult("an-2", "2")
	e.do(labManager(), "ar-1", "submit")
	assert.Equal(t, "to_be_verified", e.review("an-1"))

	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "ar-1", "cancel").Outcome)
	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "an-1", "cancel").Outcome)
}

func TestRetractAddsRetestAndRollsBack(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")
	e.setResult("an-1", "12.5")
	e.setResult("an-2", "3.1")
	e.do(labManager(), "an-1", "submit")
	require.Equal(t, "to_be_verified", e.review("ar-1"))

	assert.True(t, e.do(labManager(), "an-1", "retract").Success())
	assert.Equal(t, "retracted", e.review("an-1"))
	assert.Equal(t, "sample_received", e.review("ar-1"))

	retests := e.search(catalog.AnalysisListing, catalog.Query{"getParentUID": "ar-1", "getRetested": true})
	require.Len(t, retests, 1)
	retest := e.get(retests[0])
	assert.Equal(t, "Ca-retest", retest.ID)
	assert.Equal(t, "Ca", retest.StringAttr(AttrKeyword))
	assert.Equal(t, "an-1", retest.StringAttr(AttrRetestOf))
	assert.Equal(t, "unassigned", retest.State(domain.StateFlowReview))
}

func TestInvalidateCreatesRetestRequest(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")
	e.setResult("an-1", "12.5")
	e.setResult("an-2", "3.1")
	e.do(labManager(), "ar-1", "submit")
	require.True(t, e.do(labManager(), "ar-1", "verify").Success())

	assert.True(t, e.do(labManager(), "ar-1", "invalidate").Success())
	assert.Equal(t, "invalid", e.review("ar-1"))

	retests := e.search(catalog.AnalysisRequestListing, catalog.Query{"getInvalidatedUID": "ar-1"})
	require.Len(t, retests, 1)
	retest := e.get(retests[0])
	assert.Equal(t, "H2O-0001-R01", retest.ID)
	assert.Equal(t, "client-1", retest.StringAttr(AttrClientUID))
	assert.Equal(t, "sample_due", retest.State(domain.StateFlowReview))

	copies := e.search(catalog.AnalysisListing, catalog.Query{"getParentUID": retest.UID})
	require.Len(t, copies, 2)
	for _, uid := range copies {
		an := e.get(uid)
		assert.Equal(t, "unassigned", an.State(domain.StateFlowReview))
		assert.Empty(t, an.StringAttr(AttrResult))
	}

	allowed, err := e.svc.AllowedTransitions(e.ctx, labManager(), "ar-1")
	require.NoError(t, err)
	assert.Empty(t, allowed)
}

func TestCreatePartitionsOnlyOnPrimaries(t *testing.T) {
	e := newEnv(t)
	e.sampleRequest()
	e.do(labManager(), "ar-1", "receive")

	allowed, err := e.svc.AllowedTransitions(e.ctx, labManager(), "ar-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"create_partitions", "cancel"}, transitionIDs(allowed))

	e.create(domain.Object{
		UID: "ar-1-P01", ID: "H2O-0001-P01", PortalType: TypeAnalysisRequest, ParentUID: "client-1",
		Attributes: map[string]any{AttrParentAnalysisRequest: "ar-1"},
	})
	e.create(domain.Object{UID: "an-p", ID: "Ca", PortalType: TypeAnalysis, ParentUID: "ar-1-P01"})
	e.do(labManager(), "ar-1-P01", "receive")
	allowed, err = e.svc.AllowedTransitions(e.ctx, labManager(), "ar-1-P01")
	require.NoError(t, err)
	assert.NotContains(t, transitionIDs(allowed), "create_partitions")
	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "ar-1-P01", "create_partitions").Outcome)

	assert.Equal(t, []string{"an-1", "an-2", "an-p"}, e.search(catalog.AnalysisListing, catalog.Query{"getAncestorsUIDs": "ar-1"}))
	assert.Equal(t, []string{"an-p"}, e.search(catalog.AnalysisListing, catalog.Query{"getAncestorsUIDs": "ar-1-P01"}))
	assert.Equal(t, []string{"ar-1-P01"}, e.search(catalog.AnalysisRequestListing, catalog.Query{"getParentAnalysisRequestUID": "ar-1"}))
}

func TestSetupItemsResolveEnclosingClient(t *testing.T) {
	e := newEnv(t)
	e.create(domain.Object{UID: "client-1", ID: "client-1", PortalType: TypeClient})
	e.create(domain.Object{UID: "sp-1", ID: "sp-1", PortalType: TypeSamplePoint, ParentUID: "client-1"})
	e.create(domain.Object{UID: "sp-lab", ID: "sp-lab", PortalType: TypeSamplePoint})

	assert.Equal(t, []string{"sp-1"}, e.search(catalog.SetupCatalog, catalog.Query{"getClientUID": "client-1"}))
	assert.Equal(t, []string{"sp-1", "sp-lab"}, e.search(catalog.SetupCatalog, catalog.Query{"inactive_state": "active"}))

	assert.True(t, e.do(labManager(), "sp-lab", "deactivate").Success())
	assert.Equal(t, []string{"sp-lab"}, e.search(catalog.SetupCatalog, catalog.Query{"inactive_state": "inactive"}))
}

func TestBatchLifecycle(t *testing.T) {
	e := newEnv(t)
	e.create(domain.Object{UID: "batch-1", ID: "B-001", PortalType: TypeBatch})
	assert.Equal(t, "open", e.review("batch-1"))
	assert.True(t, e.do(labManager(), "batch-1", "close").Success())
	assert.True(t, e.do(labManager(), "batch-1", "open").Success())
	assert.True(t, e.do(labManager(), "batch-1", "cancel").Success())
	assert.Equal(t, "cancelled", e.review("batch-1"))
	assert.Equal(t, domain.OutcomeGuardRejected, e.do(labManager(), "batch-1", "close").Outcome)
}
