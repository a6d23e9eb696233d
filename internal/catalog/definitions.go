// Package catalog holds the declarative catalog definitions and a small
// in-store catalog tool that indexes content objects, answers queries, and
// maintains indexes during upgrades.
package catalog

import "limscore/pkg/domain"

// Catalog identifiers used across the LIMS.
const (
	AnalysisListing        = "bika_analysis_catalog"
	AnalysisRequestListing = "bika_catalog_analysisrequest_listing"
	SetupCatalog           = "bika_setup_catalog"
	PortalCatalog          = "portal_catalog"
)

// AnalysisTypes are the portal types indexed by the analysis catalog.
var AnalysisTypes = []string{"Analysis", "ReferenceAnalysis", "DuplicateAnalysis"}

// BaseIndexes returns the indexes every LIMS catalog carries.
func BaseIndexes() map[string]domain.IndexType {
	return map[string]domain.IndexType{
		"getId":                domain.FieldIndex,
		"UID":                  domain.FieldIndex,
		"Title":                domain.FieldIndex,
		"sortable_title":       domain.FieldIndex,
		"portal_type":          domain.FieldIndex,
		"review_state":         domain.FieldIndex,
		"allowedRolesAndUsers": domain.KeywordIndex,
		"created":              domain.DateIndex,
	}
}

// BaseColumns returns the metadata columns every LIMS catalog carries, in
// declaration order.
func BaseColumns() []string {
	return []string{
		"UID",
		"getId",
		"meta_type",
		"Title",
		"review_state",
		"state_title",
		"portal_type",
		"allowedRolesAndUsers",
		"created",
		"Creator",
		"Description",
	}
}

func analysisIndexes() map[string]domain.IndexType {
	return map[string]domain.IndexType{
		"worksheetanalysis_review_state": domain.FieldIndex,
		"cancellation_state":             domain.FieldIndex,
		"getParentUID":                   domain.FieldIndex,
		"getAnalysisRequestUID":          domain.FieldIndex,
		"getDepartmentUID":               domain.FieldIndex,
		"getDueDate":                     domain.DateIndex,
		"getDateSampled":                 domain.DateIndex,
		"getDateReceived":                domain.DateIndex,
		"getResultCaptureDate":           domain.DateIndex,
		"getDateAnalysisPublished":       domain.DateIndex,
		"getClientUID":                   domain.FieldIndex,
		"getAnalyst":                     domain.FieldIndex,
		"getRequestID":                   domain.FieldIndex,
		"getClientOrderNumber":           domain.FieldIndex,
		"getKeyword":                     domain.FieldIndex,
		"getServiceUID":                  domain.FieldIndex,
		"getCategoryUID":                 domain.FieldIndex,
		"getPointOfCapture":              domain.FieldIndex,
		"getSampleUID":                   domain.FieldIndex,
		"getSampleTypeUID":               domain.FieldIndex,
		"getSamplePointUID":              domain.FieldIndex,
		"getRetested":                    domain.FieldIndex,
		"getReferenceAnalysesGroupID":    domain.FieldIndex,
		"getMethodUID":                   domain.FieldIndex,
		"getInstrumentUID":               domain.FieldIndex,
		"getBatchUID":                    domain.FieldIndex,
		"getSampleConditionUID":          domain.FieldIndex,
		"getAnalysisRequestPrintStatus":  domain.FieldIndex,
		"getWorksheetUID":                domain.FieldIndex,
	}
}

func analysisColumns() []string {
	return []string{
		"worksheetanalysis_review_state",
		"getRequestID",
		"getReferenceAnalysesGroupID",
		"getResultCaptureDate",
		"getPriority",
		"getParentURL",
		"getAnalysisRequestURL",
		"getParentTitle",
		"getClientTitle",
		"getClientURL",
		"getAnalysisRequestTitle",
		"getAllowedMethodsAsTuples",
		"getResult",
		"getCalculation",
		"getUnit",
		"getKeyword",
		"getCategoryTitle",
		"getInterimFields",
		"getSamplePartitionID",
		"getRemarks",
		"getRetested",
		"getExpiryDate",
		"getDueDate",
		"getReferenceResults",
		"getAnalysisPortalType",
		"isInstrumentValid",
		"getCanMethodBeChanged",
		"getMethodUID",
		"getMethodTitle",
		"getMethodURL",
		"getInstrumentUID",
		"getAnalyst",
		"getAnalystName",
		"hasAttachment",
		"getNumberOfRequiredVerifications",
		"getNumberOfVerifications",
		"isSelfVerificationEnabled",
		"getSubmittedBy",
		"getVerificators",
		"getLastVerificator",
		"getIsReflexAnalysis",
		"getServiceTitle",
		"getResultOptionsFromService",
		"getServiceUID",
		"getDepartmentUID",
		"getInstrumentEntryOfResults",
		"getServiceDefaultInstrumentUID",
		"getServiceDefaultInstrumentTitle",
		"getServiceDefaultInstrumentURL",
		"getResultsRangeNoSpecs",
		"getSampleTypeUID",
		"getClientOrderNumber",
		"getDateReceived",
	}
}

// AnalysisListingDefinition returns the analysis catalog: the analysis
// indexes overlaid with the base indexes, and the analysis columns followed
// by the base columns.
func AnalysisListingDefinition() domain.CatalogDefinition {
	return WithBase(domain.CatalogDefinition{
		ID:      AnalysisListing,
		Title:   "Bika Analysis Catalog",
		Types:   append([]string(nil), AnalysisTypes...),
		Indexes: analysisIndexes(),
		Columns: analysisColumns(),
	})
}

// WithBase merges the base indexes and columns into def. Base indexes win
// on name clashes; base columns are appended after the catalog's own.
func WithBase(def domain.CatalogDefinition) domain.CatalogDefinition {
	out := def.Clone()
	if out.Indexes == nil {
		out.Indexes = make(map[string]domain.IndexType)
	}
	for name, typ := range BaseIndexes() {
		out.Indexes[name] = typ
	}
	out.Columns = append(out.Columns, BaseColumns()...)
	return out
}
