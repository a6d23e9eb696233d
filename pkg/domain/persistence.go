package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules,
// catalog queries, and the workflow engine.
type TransactionView interface {
	ListObjects() []Object
	FindObject(uid string) (Object, bool)
	ListWorkflows() []Workflow
	FindWorkflow(id string) (Workflow, bool)
	Chain(portalType string) []string
	ListRelationships(label string) []Relationship
	ListCatalogs() []CatalogDefinition
	FindCatalog(id string) (CatalogDefinition, bool)
	ListCatalogEntries(catalogID string) []CatalogEntry
	InstalledVersion(product string) (string, bool)
	ListUpgradeRecords(product string) []UpgradeRecord
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads observe the transaction's own
// uncommitted writes.
type Transaction interface {
	TransactionView
	CreateObject(Object) (Object, error)
	UpdateObject(uid string, mutator func(*Object) error) (Object, error)
	DeleteObject(uid string) error
	PutWorkflow(Workflow) error
	UpdateWorkflow(id string, mutator func(*Workflow) error) (Workflow, error)
	SetChain(portalType string, workflowIDs []string) error
	CreateRelationship(Relationship) (Relationship, error)
	DeleteRelationship(containerUID, id string) error
	PutCatalog(CatalogDefinition) error
	UpdateCatalog(id string, mutator func(*CatalogDefinition) error) (CatalogDefinition, error)
	PutCatalogEntry(catalogID string, entry CatalogEntry) error
	DeleteCatalogEntry(catalogID, uid string) error
	SetInstalledVersion(product, version string) error
	RecordUpgrade(UpgradeRecord) error
}

// PersistentStore is a minimal abstraction over durable backends. Each
// successful RunInTransaction is a checkpoint: its writes survive a crash of
// the process that issued it.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ExportState() Snapshot
}

// Snapshot captures a point-in-time copy of the whole store state. It is the
// unit persisted by the snapshotting backends and archived before upgrades.
type Snapshot struct {
	Objects       map[string]Object                  `json:"objects"`
	Workflows     map[string]Workflow                `json:"workflows"`
	Chains        map[string][]string                `json:"chains"`
	Relationships map[string]Relationship            `json:"relationships"`
	Catalogs      map[string]CatalogDefinition       `json:"catalogs"`
	Entries       map[string]map[string]CatalogEntry `json:"catalog_entries"`
	Versions      map[string]string                  `json:"versions"`
	Upgrades      []UpgradeRecord                    `json:"upgrades"`
}

// Buckets lists the snapshot sections in their persisted order.
var Buckets = []string{"objects", "workflows", "chains", "relationships", "catalogs", "catalog_entries", "versions", "upgrades"}

// BucketTargets returns pointers to each snapshot section keyed by bucket
// name, for decoding persisted payloads in place.
func (s *Snapshot) BucketTargets() map[string]any {
	return map[string]any{
		"objects":         &s.Objects,
		"workflows":       &s.Workflows,
		"chains":          &s.Chains,
		"relationships":   &s.Relationships,
		"catalogs":        &s.Catalogs,
		"catalog_entries": &s.Entries,
		"versions":        &s.Versions,
		"upgrades":        &s.Upgrades,
	}
}

// BucketValues returns each snapshot section keyed by bucket name, for encoding.
func (s Snapshot) BucketValues() map[string]any {
	return map[string]any{
		"objects":         s.Objects,
		"workflows":       s.Workflows,
		"chains":          s.Chains,
		"relationships":   s.Relationships,
		"catalogs":        s.Catalogs,
		"catalog_entries": s.Entries,
		"versions":        s.Versions,
		"upgrades":        s.Upgrades,
	}
}
