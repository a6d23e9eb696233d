package jsonapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/internal/catalog"
	"limscore/internal/core"
	"limscore/internal/i18n"
	"limscore/internal/infra/persistence/memory"
	"limscore/internal/jsonapi"
	"limscore/internal/metrics"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
	"limscore/plugins/lims"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newClient(t *testing.T) *client {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := metrics.New(false)
	svc := core.NewService(memory.NewStore(nil),
		core.WithClock(func() time.Time { return clock }),
		core.WithOutcomeRecorder(rec),
	)
	_, err := svc.InstallPlugin(ctx, lims.New())
	require.NoError(t, err)
	for _, obj := range []domain.Object{
		{UID: "client-1", ID: "client-1", PortalType: lims.TypeClient, Title: "Happy Hills"},
		{UID: "ar-1", ID: "H2O-0001", PortalType: lims.TypeAnalysisRequest, ParentUID: "client-1",
			Attributes: map[string]any{lims.AttrClientUID: "client-1"}},
		{UID: "an-1", ID: "Ca", PortalType: lims.TypeAnalysis, ParentUID: "ar-1",
			Attributes: map[string]any{lims.AttrKeyword: "Ca"}},
	} {
		_, err := svc.CreateObject(ctx, workflow.SystemRequest(), obj)
		require.NoError(t, err)
	}
	tr, err := i18n.New("en")
	require.NoError(t, err)
	api := jsonapi.NewServer(svc, jsonapi.WithTranslator(tr), jsonapi.WithMetricsHandler(rec.Handler()))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv}
}

func (c *client) call(method, path string, headers map[string]string, out any) int {
	c.t.Helper()
	req, err := http.NewRequest(method, c.srv.URL+path, nil)
	require.NoError(c.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if out != nil && len(body) > 0 {
		require.NoError(c.t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func labManager() map[string]string {
	return map[string]string{jsonapi.HeaderActor: "lab", jsonapi.HeaderRoles: lims.RoleLabManager}
}

func TestHealthz(t *testing.T) {
	c := newClient(t)
	assert.Equal(t, http.StatusNoContent, c.call(http.MethodGet, "/healthz", nil, nil))
}

func TestGetObjectWithTransitions(t *testing.T) {
	c := newClient(t)

	var plain map[string]any
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/v1/objects/ar-1", labManager(), &plain))
	assert.Equal(t, "H2O-0001", plain["id"])
	assert.Equal(t, "sample_due", plain["review_state"])
	assert.Equal(t, "active", plain["cancellation_state"])
	assert.NotContains(t, plain, "transitions")

	headers := labManager()
	headers["Accept-Language"] = "es-ES,es;q=0.9"
	var extended struct {
		UID         string                     `json:"uid"`
		Transitions []jsonapi.TransitionEntry `json:"transitions"`
	}
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/v1/objects/ar-1?include=title,transitions", headers, &extended))
	assert.Equal(t, "ar-1", extended.UID)
	assert.Equal(t, []jsonapi.TransitionEntry{
		{ID: "receive", Title: "Recibir"},
		{ID: "cancel", Title: "Cancelar"},
	}, extended.Transitions)

	var listed []jsonapi.TransitionEntry
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/v1/objects/ar-1/transitions", labManager(), &listed))
	assert.Equal(t, []jsonapi.TransitionEntry{{ID: "receive", Title: "Receive"}, {ID: "cancel", Title: "Cancel"}}, listed)

	sampler := map[string]string{jsonapi.HeaderActor: "s", jsonapi.HeaderRoles: lims.RoleSampler}
	listed = nil
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/v1/objects/ar-1/transitions", sampler, &listed))
	assert.Empty(t, listed)

	assert.Equal(t, http.StatusNotFound, c.call(http.MethodGet, "/api/v1/objects/nope", labManager(), nil))
}

func TestDoAction(t *testing.T) {
	c := newClient(t)

	var res domain.TransitionResult
	require.Equal(t, http.StatusOK, c.call(http.MethodPost, "/api/v1/objects/ar-1/transitions/receive", labManager(), &res))
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	res = domain.TransitionResult{}
	require.Equal(t, http.StatusUnprocessableEntity, c.call(http.MethodPost, "/api/v1/objects/ar-1/transitions/receive", labManager(), &res))
	assert.Equal(t, domain.OutcomeGuardRejected, res.Outcome)
	assert.Equal(t, "No workflow provides the 'receive' action.", res.Message)

	assert.Equal(t, http.StatusNotFound, c.call(http.MethodPost, "/api/v1/objects/nope/transitions/receive", labManager(), nil))

	var records []map[string]any
	require.Equal(t, http.StatusOK, c.call(http.MethodGet,
		"/api/v1/catalogs/"+catalog.AnalysisRequestListing+"?portal_type=AnalysisRequest&review_state=sample_received", nil, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "ar-1", records[0]["UID"])

	body := c.text("/metrics")
	assert.Contains(t, body, `limscore_transitions_total{action="receive",outcome="applied"} 1`)
	assert.Contains(t, body, `limscore_transitions_total{action="receive",outcome="guard_rejected"} 1`)
}

func (c *client) text(path string) string {
	c.t.Helper()
	resp, err := http.Get(c.srv.URL + path)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return string(b)
}

func TestSearchErrors(t *testing.T) {
	c := newClient(t)
	assert.Equal(t, http.StatusNotFound, c.call(http.MethodGet, "/api/v1/catalogs/unknown_catalog", nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.call(http.MethodGet, "/api/v1/catalogs/"+catalog.AnalysisListing+"?colour=red", nil, nil))

	var records []map[string]any
	require.Equal(t, http.StatusOK, c.call(http.MethodGet,
		"/api/v1/catalogs/"+catalog.AnalysisListing+"?getKeyword=Ca&getKeyword=Mg", nil, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "an-1", records[0]["UID"])
}

func TestUpgradeStatus(t *testing.T) {
	c := newClient(t)
	var status struct {
		Product   string   `json:"product"`
		Installed string   `json:"installed"`
		Pending   []string `json:"pending"`
	}
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/v1/upgrades/bika.lims", nil, &status))
	assert.Equal(t, "bika.lims", status.Product)
	assert.Equal(t, "1.2.9", status.Installed)
	assert.Empty(t, status.Pending)
}
