package lims

import (
	"limscore/internal/catalog"
	"limscore/pkg/domain"
)

// SetupTypes are the setup items indexed by the setup catalog. Items kept
// inside a client folder carry that client's UID.
var SetupTypes = []string{TypeARTemplate, TypeAnalysisProfile, TypeAnalysisSpec, TypeSamplePoint}

// AnalysisRequestListingDefinition returns the request listing catalog.
func AnalysisRequestListingDefinition() domain.CatalogDefinition {
	return catalog.WithBase(domain.CatalogDefinition{
		ID:    catalog.AnalysisRequestListing,
		Title: "Bika Catalog Analysis Request Listing",
		Types: []string{TypeAnalysisRequest},
		Indexes: map[string]domain.IndexType{
			"getClientUID":                domain.FieldIndex,
			"cancellation_state":          domain.FieldIndex,
			"getBatchUID":                 domain.FieldIndex,
			"getDateReceived":             domain.DateIndex,
			"getInvalidatedUID":           domain.FieldIndex,
			"getParentAnalysisRequestUID": domain.FieldIndex,
		},
		Columns: []string{
			"getClientUID",
			"getClientOrderNumber",
			"getDateReceived",
			"getInvalidatedUID",
		},
	})
}

// SetupCatalogDefinition returns the setup catalog.
func SetupCatalogDefinition() domain.CatalogDefinition {
	return catalog.WithBase(domain.CatalogDefinition{
		ID:    catalog.SetupCatalog,
		Title: "Bika Setup Catalog",
		Types: append([]string(nil), SetupTypes...),
		Indexes: map[string]domain.IndexType{
			"getClientUID":   domain.FieldIndex,
			"inactive_state": domain.FieldIndex,
		},
		Columns: []string{"getClientUID"},
	})
}

// PortalCatalogDefinition returns the general purpose catalog.
func PortalCatalogDefinition() domain.CatalogDefinition {
	return catalog.WithBase(domain.CatalogDefinition{
		ID:    catalog.PortalCatalog,
		Title: "Portal Catalog",
		Types: []string{TypeClient, TypeBatch, TypeAttachment},
	})
}

// AnalysisListingDefinition returns the analysis catalog as installed by
// this release, partitioning index included.
func AnalysisListingDefinition() domain.CatalogDefinition {
	def := catalog.AnalysisListingDefinition()
	def.Indexes["getAncestorsUIDs"] = domain.KeywordIndex
	return def
}

func catalogs() []domain.CatalogDefinition {
	return []domain.CatalogDefinition{
		AnalysisListingDefinition(),
		AnalysisRequestListingDefinition(),
		SetupCatalogDefinition(),
		PortalCatalogDefinition(),
	}
}

// resolveClientUID returns the ClientUID attribute, or walks up the
// containment chain to the enclosing client.
func resolveClientUID(view domain.TransactionView, obj domain.Object) (any, bool) {
	if uid := obj.StringAttr(AttrClientUID); uid != "" {
		return uid, true
	}
	seen := map[string]struct{}{obj.UID: {}}
	parent := obj.ParentUID
	for parent != "" {
		if _, loop := seen[parent]; loop {
			return nil, false
		}
		seen[parent] = struct{}{}
		p, ok := view.FindObject(parent)
		if !ok {
			return nil, false
		}
		if p.PortalType == TypeClient {
			return p.UID, true
		}
		parent = p.ParentUID
	}
	return nil, false
}

// resolveAncestorsUIDs lists the request holding an analysis followed by
// every primary request above it.
func resolveAncestorsUIDs(view domain.TransactionView, obj domain.Object) (any, bool) {
	var out []string
	seen := make(map[string]struct{})
	next := obj.ParentUID
	for next != "" {
		if _, loop := seen[next]; loop {
			break
		}
		seen[next] = struct{}{}
		ar, ok := view.FindObject(next)
		if !ok || ar.PortalType != TypeAnalysisRequest {
			break
		}
		out = append(out, ar.UID)
		next = ar.StringAttr(AttrParentAnalysisRequest)
	}
	return out, len(out) > 0
}

func resolveAnalysisRequestUID(view domain.TransactionView, obj domain.Object) (any, bool) {
	if obj.ParentUID == "" {
		return nil, false
	}
	p, ok := view.FindObject(obj.ParentUID)
	if !ok || p.PortalType != TypeAnalysisRequest {
		return nil, false
	}
	return p.UID, true
}

func attrResolver(name string) catalog.Resolver {
	return func(_ domain.TransactionView, obj domain.Object) (any, bool) {
		v := obj.StringAttr(name)
		return v, v != ""
	}
}

func resolvers() map[string]catalog.Resolver {
	return map[string]catalog.Resolver{
		"getClientUID":                resolveClientUID,
		"getAncestorsUIDs":            resolveAncestorsUIDs,
		"getAnalysisRequestUID":       resolveAnalysisRequestUID,
		"getInvalidatedUID":           attrResolver(AttrInvalidated),
		"getParentAnalysisRequestUID": attrResolver(AttrParentAnalysisRequest),
	}
}
