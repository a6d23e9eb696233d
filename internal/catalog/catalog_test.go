package catalog

import (
	"context"
	"testing"
	"time"

	"limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisListingDefinition(t *testing.T) {
	def := AnalysisListingDefinition()
	assert.Equal(t, "bika_analysis_catalog", def.ID)
	assert.Equal(t, []string{"Analysis", "ReferenceAnalysis", "DuplicateAnalysis"}, def.Types)
	assert.Len(t, def.Indexes, 29+len(BaseIndexes()))
	assert.Equal(t, domain.DateIndex, def.Indexes["getDueDate"])
	assert.Equal(t, domain.FieldIndex, def.Indexes["getWorksheetUID"])
	assert.Equal(t, domain.KeywordIndex, def.Indexes["allowedRolesAndUsers"])
	_, ok := def.Indexes["getAncestorsUIDs"]
	assert.False(t, ok)

	assert.Len(t, def.Columns, 53+len(BaseColumns()))
	assert.Equal(t, "worksheetanalysis_review_state", def.Columns[0])
	assert.Equal(t, "getDateReceived", def.Columns[52])
	assert.Equal(t, BaseColumns(), def.Columns[53:])

	def.Indexes["x"] = domain.FieldIndex
	_, leaked := AnalysisListingDefinition().Indexes["x"]
	assert.False(t, leaked)
}

type env struct {
	store *memory.Store
	tool  *Tool
}

func newEnv(t *testing.T) env {
	t.Helper()
	e := env{store: memory.NewStore(nil), tool: NewTool()}
	e.tx(t, func(tx domain.Transaction) error {
		n, err := e.tool.Install(tx, AnalysisListingDefinition(), WithBase(domain.CatalogDefinition{ID: SetupCatalog}))
		require.Equal(t, 2, n)
		return err
	})
	return e
}

func (e env) tx(t *testing.T, fn func(tx domain.Transaction) error) {
	t.Helper()
	_, err := e.store.RunInTransaction(context.Background(), fn)
	require.NoError(t, err)
}

func (e env) search(t *testing.T, catalogID string, q Query) []string {
	t.Helper()
	var uids []string
	require.NoError(t, e.store.View(context.Background(), func(v domain.TransactionView) error {
		entries, err := e.tool.Search(v, catalogID, q)
		require.NoError(t, err)
		for _, entry := range entries {
			uids = append(uids, entry.UID)
		}
		return nil
	}))
	return uids
}

func analysis(uid, keyword, state string, due time.Time) domain.Object {
	return domain.Object{
		UID:        uid,
		ID:         keyword,
		PortalType: "Analysis",
		Title:      "Analysis " + keyword,
		States:     map[domain.StateVariable]string{domain.StateFlowReview: state, domain.StateFlowCancellation: "active"},
		Attributes: map[string]any{"getKeyword": keyword, "getDueDate": due},
		RoleMappings: map[string][]string{
			domain.PermissionView: {"Analyst", "LabManager"},
		},
		LocalRoles: map[string][]string{"jdoe": {"Analyst"}},
	}
}

func TestReindexObjectAndSearch(t *testing.T) {
	e := newEnv(t)
	due := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.tx(t, func(tx domain.Transaction) error {
		for _, obj := range []domain.Object{
			analysis("a1", "Ca", "sample_received", due),
			analysis("a2", "Mg", "to_be_verified", due.Add(48*time.Hour)),
			{UID: "c1", PortalType: "Client"},
		} {
			if _, err := tx.CreateObject(obj); err != nil {
				return err
			}
			if err := e.tool.ReindexObject(tx, obj.UID); err != nil {
				return err
			}
		}
		return nil
	})

	assert.Equal(t, []string{"a1", "a2"}, e.search(t, AnalysisListing, Query{}))
	assert.Equal(t, []string{"a1"}, e.search(t, AnalysisListing, Query{"getKeyword": "Ca"}))
	assert.Equal(t, []string{"a1", "a2"}, e.search(t, AnalysisListing, Query{"review_state": []string{"sample_received", "to_be_verified"}}))
	assert.Equal(t, []string{"a2"}, e.search(t, AnalysisListing, Query{"states": []string{"to_be_verified"}}))
	assert.Equal(t, []string{"a2"}, e.search(t, AnalysisListing, Query{"getDueDate": Range{Min: due.Add(time.Hour)}}))
	assert.Equal(t, []string{"a1"}, e.search(t, AnalysisListing, Query{"getDueDate": due}))
	assert.Equal(t, []string{"a1", "a2"}, e.search(t, AnalysisListing, Query{"allowedRolesAndUsers": []string{"user:jdoe", "Manager"}}))
	assert.Equal(t, []string{"a2", "a1"}, e.search(t, AnalysisListing, Query{"sort_on": "getKeyword", "sort_order": "reverse"}))
	assert.Equal(t, []string{"c1"}, e.search(t, SetupCatalog, Query{"portal_type": "Client"}))

	require.NoError(t, e.store.View(context.Background(), func(v domain.TransactionView) error {
		_, err := e.tool.Search(v, AnalysisListing, Query{"getNothing": "x"})
		assert.Error(t, err)
		_, err = e.tool.Search(v, "missing_catalog", Query{})
		var nf domain.ErrNotFound
		assert.ErrorAs(t, err, &nf)

		entries, err := e.tool.Search(v, AnalysisListing, Query{"UID": "a1"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		md := entries[0].Metadata
		assert.Equal(t, "Ca", md["getKeyword"])
		assert.Equal(t, "sample_received", md["review_state"])
		assert.Contains(t, md, "getResult")
		assert.Nil(t, md["getResult"])
		return nil
	}))

	e.tx(t, func(tx domain.Transaction) error {
		if err := tx.DeleteObject("a1"); err != nil {
			return err
		}
		return e.tool.ReindexObject(tx, "a1")
	})
	assert.Equal(t, []string{"a2"}, e.search(t, AnalysisListing, Query{}))
}

func TestAddIndexChecksBeforeCreating(t *testing.T) {
	e := newEnv(t)
	e.tool.RegisterResolver("getAncestorsUIDs", func(_ domain.TransactionView, o domain.Object) (any, bool) {
		return []string{"ar-" + o.UID}, true
	})
	e.tx(t, func(tx domain.Transaction) error {
		if _, err := tx.CreateObject(analysis("a1", "Ca", "sample_due", time.Time{})); err != nil {
			return err
		}
		return e.tool.ReindexObject(tx, "a1")
	})

	e.tx(t, func(tx domain.Transaction) error {
		added, err := e.tool.AddIndex(tx, AnalysisListing, "getAncestorsUIDs", domain.KeywordIndex)
		require.NoError(t, err)
		assert.True(t, added)
		n, err := e.tool.ReindexIndex(tx, AnalysisListing, "getAncestorsUIDs")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		added, err = e.tool.AddIndex(tx, AnalysisListing, "getAncestorsUIDs", domain.FieldIndex)
		require.NoError(t, err)
		assert.False(t, added)
		return nil
	})
	assert.Equal(t, []string{"a1"}, e.search(t, AnalysisListing, Query{"getAncestorsUIDs": "ar-a1"}))

	require.NoError(t, e.store.View(context.Background(), func(v domain.TransactionView) error {
		has, err := HasIndex(v, AnalysisListing, "getAncestorsUIDs")
		require.NoError(t, err)
		assert.True(t, has)
		def, _ := v.FindCatalog(AnalysisListing)
		assert.Equal(t, domain.KeywordIndex, def.Indexes["getAncestorsUIDs"])
		return nil
	}))

	_, err := e.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := e.tool.AddIndex(tx, "nope", "x", domain.FieldIndex)
		return err
	})
	assert.Error(t, err)
	_, err = e.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := e.tool.AddIndex(tx, AnalysisListing, "x", domain.IndexType("TextIndex"))
		return err
	})
	assert.Error(t, err)
}

func TestReindexObjectSecurityCoversChildren(t *testing.T) {
	e := newEnv(t)
	e.tx(t, func(tx domain.Transaction) error {
		client := domain.Object{UID: "c1", PortalType: "Client", RoleMappings: map[string][]string{domain.PermissionView: {"Manager"}}}
		contact := domain.Object{UID: "cc1", PortalType: "ClientContact", ParentUID: "c1", RoleMappings: map[string][]string{domain.PermissionView: {"Manager"}}}
		for _, o := range []domain.Object{client, contact} {
			if _, err := tx.CreateObject(o); err != nil {
				return err
			}
			if err := e.tool.ReindexObject(tx, o.UID); err != nil {
				return err
			}
		}
		return nil
	})
	assert.Empty(t, e.search(t, SetupCatalog, Query{"allowedRolesAndUsers": "user:owner"}))

	e.tx(t, func(tx domain.Transaction) error {
		for _, uid := range []string{"c1", "cc1"} {
			if _, err := tx.UpdateObject(uid, func(o *domain.Object) error {
				o.LocalRoles = map[string][]string{"owner": {"Manager"}}
				return nil
			}); err != nil {
				return err
			}
		}
		n, err := e.tool.ReindexObjectSecurity(tx, "c1")
		assert.Equal(t, 2, n)
		return err
	})
	assert.Equal(t, []string{"c1", "cc1"}, e.search(t, SetupCatalog, Query{"allowedRolesAndUsers": "user:owner"}))
}

func TestRebuild(t *testing.T) {
	e := newEnv(t)
	e.tx(t, func(tx domain.Transaction) error {
		_, err := tx.CreateObject(analysis("a1", "Ca", "sample_due", time.Time{}))
		return err
	})
	assert.Empty(t, e.search(t, AnalysisListing, Query{}))
	e.tx(t, func(tx domain.Transaction) error {
		n, err := e.tool.Rebuild(tx, AnalysisListing)
		assert.Equal(t, 1, n)
		return err
	})
	assert.Equal(t, []string{"a1"}, e.search(t, AnalysisListing, Query{"getId": "Ca"}))
}
