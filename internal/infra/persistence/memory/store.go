// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments, and as the working set of the
// snapshotting backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"limscore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Object aliases domain.Object for in-memory persistence operations.
	Object = domain.Object
	// Workflow aliases domain.Workflow.
	Workflow = domain.Workflow
	// Relationship aliases domain.Relationship.
	Relationship = domain.Relationship
	// CatalogDefinition aliases domain.CatalogDefinition.
	CatalogDefinition = domain.CatalogDefinition
	// CatalogEntry aliases domain.CatalogEntry.
	CatalogEntry = domain.CatalogEntry
	// UpgradeRecord aliases domain.UpgradeRecord.
	UpgradeRecord = domain.UpgradeRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
)

type memoryState struct {
	objects       map[string]Object
	workflows     map[string]Workflow
	chains        map[string][]string
	relationships map[string]Relationship
	catalogs      map[string]CatalogDefinition
	entries       map[string]map[string]CatalogEntry
	versions      map[string]string
	upgrades      []UpgradeRecord
}

func newMemoryState() memoryState {
	return memoryState{
		objects:       make(map[string]Object),
		workflows:     make(map[string]Workflow),
		chains:        make(map[string][]string),
		relationships: make(map[string]Relationship),
		catalogs:      make(map[string]CatalogDefinition),
		entries:       make(map[string]map[string]CatalogEntry),
		versions:      make(map[string]string),
	}
}

func (s memoryState) clone() memoryState {
	cp := newMemoryState()
	for k, v := range s.objects {
		cp.objects[k] = v.Clone()
	}
	for k, v := range s.workflows {
		cp.workflows[k] = v.Clone()
	}
	for k, v := range s.chains {
		cp.chains[k] = append([]string(nil), v...)
	}
	for k, v := range s.relationships {
		cp.relationships[k] = v
	}
	for k, v := range s.catalogs {
		cp.catalogs[k] = v.Clone()
	}
	for catalogID, entries := range s.entries {
		bucket := make(map[string]CatalogEntry, len(entries))
		for uid, entry := range entries {
			bucket[uid] = entry.Clone()
		}
		cp.entries[catalogID] = bucket
	}
	for k, v := range s.versions {
		cp.versions[k] = v
	}
	cp.upgrades = append([]UpgradeRecord(nil), s.upgrades...)
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Objects:       cp.objects,
		Workflows:     cp.workflows,
		Chains:        cp.chains,
		Relationships: cp.relationships,
		Catalogs:      cp.catalogs,
		Entries:       cp.entries,
		Versions:      cp.versions,
		Upgrades:      cp.upgrades,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		objects:       s.Objects,
		workflows:     s.Workflows,
		chains:        s.Chains,
		relationships: s.Relationships,
		catalogs:      s.Catalogs,
		entries:       s.Entries,
		versions:      s.Versions,
		upgrades:      s.Upgrades,
	}
	if state.objects == nil {
		state.objects = map[string]Object{}
	}
	if state.workflows == nil {
		state.workflows = map[string]Workflow{}
	}
	if state.chains == nil {
		state.chains = map[string][]string{}
	}
	if state.relationships == nil {
		state.relationships = map[string]Relationship{}
	}
	if state.catalogs == nil {
		state.catalogs = map[string]CatalogDefinition{}
	}
	if state.entries == nil {
		state.entries = map[string]map[string]CatalogEntry{}
	}
	if state.versions == nil {
		state.versions = map[string]string{}
	}
	return state.clone()
}

// Store provides an in-memory transactional store. Transactions run against
// a clone of the committed state and replace it on success.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store guarded by the supplied rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// ExportState returns a deep copy of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snapshot Snapshot) {
	state := memoryStateFromSnapshot(snapshot)
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// RulesEngine exposes the engine evaluated on commit.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// RunInTransaction applies fn to a private copy of the state and commits it
// when fn succeeds and no blocking rule violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil && len(tx.changes) > 0 {
		res, err := s.engine.Evaluate(ctx, transactionView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View runs fn against a read-only copy of the committed state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	state := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &state})
}

type transactionView struct {
	state *memoryState
}

func (v transactionView) ListObjects() []Object {
	out := make([]Object, 0, len(v.state.objects))
	for _, uid := range domain.SortedKeys(v.state.objects) {
		out = append(out, v.state.objects[uid].Clone())
	}
	return out
}

func (v transactionView) FindObject(uid string) (Object, bool) {
	o, ok := v.state.objects[uid]
	if !ok {
		return Object{}, false
	}
	return o.Clone(), true
}

func (v transactionView) ListWorkflows() []Workflow {
	out := make([]Workflow, 0, len(v.state.workflows))
	for _, id := range domain.SortedKeys(v.state.workflows) {
		out = append(out, v.state.workflows[id].Clone())
	}
	return out
}

func (v transactionView) FindWorkflow(id string) (Workflow, bool) {
	w, ok := v.state.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	return w.Clone(), true
}

func (v transactionView) Chain(portalType string) []string {
	return append([]string(nil), v.state.chains[portalType]...)
}

func (v transactionView) ListRelationships(label string) []Relationship {
	out := make([]Relationship, 0)
	for _, key := range domain.SortedKeys(v.state.relationships) {
		rel := v.state.relationships[key]
		if label == "" || rel.Relationship == label {
			out = append(out, rel)
		}
	}
	return out
}

func (v transactionView) ListCatalogs() []CatalogDefinition {
	out := make([]CatalogDefinition, 0, len(v.state.catalogs))
	for _, id := range domain.SortedKeys(v.state.catalogs) {
		out = append(out, v.state.catalogs[id].Clone())
	}
	return out
}

func (v transactionView) FindCatalog(id string) (CatalogDefinition, bool) {
	c, ok := v.state.catalogs[id]
	if !ok {
		return CatalogDefinition{}, false
	}
	return c.Clone(), true
}

func (v transactionView) ListCatalogEntries(catalogID string) []CatalogEntry {
	bucket := v.state.entries[catalogID]
	out := make([]CatalogEntry, 0, len(bucket))
	for _, uid := range domain.SortedKeys(bucket) {
		out = append(out, bucket[uid].Clone())
	}
	return out
}

func (v transactionView) InstalledVersion(product string) (string, bool) {
	ver, ok := v.state.versions[product]
	return ver, ok
}

func (v transactionView) ListUpgradeRecords(product string) []UpgradeRecord {
	out := make([]UpgradeRecord, 0)
	for _, rec := range v.state.upgrades {
		if product == "" || rec.Product == product {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

type transaction struct {
	transactionView
	state   memoryState
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) CreateObject(o Object) (Object, error) {
	if o.UID == "" {
		o.UID = uuid.NewString()
	}
	if _, exists := tx.state.objects[o.UID]; exists {
		return Object{}, fmt.Errorf("object %s already exists", o.UID)
	}
	if o.PortalType == "" {
		return Object{}, fmt.Errorf("object %s: portal type required", o.UID)
	}
	if o.ID == "" {
		o.ID = o.UID
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.objects[o.UID] = o.Clone()
	tx.recordChange(Change{Entity: domain.EntityObject, Action: domain.ActionCreate, After: o.Clone()})
	return o.Clone(), nil
}

func (tx *transaction) UpdateObject(uid string, mutator func(*Object) error) (Object, error) {
	current, ok := tx.state.objects[uid]
	if !ok {
		return Object{}, domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
	}
	before := current.Clone()
	updated := current.Clone()
	if err := mutator(&updated); err != nil {
		return Object{}, err
	}
	updated.UID = uid
	updated.UpdatedAt = tx.now
	tx.state.objects[uid] = updated.Clone()
	tx.recordChange(Change{Entity: domain.EntityObject, Action: domain.ActionUpdate, Before: before, After: updated.Clone()})
	return updated, nil
}

func (tx *transaction) DeleteObject(uid string) error {
	current, ok := tx.state.objects[uid]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
	}
	delete(tx.state.objects, uid)
	for _, bucket := range tx.state.entries {
		delete(bucket, uid)
	}
	tx.recordChange(Change{Entity: domain.EntityObject, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) PutWorkflow(w Workflow) error {
	if w.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	before, existed := tx.state.workflows[w.ID]
	tx.state.workflows[w.ID] = w.Clone()
	change := Change{Entity: domain.EntityWorkflow, Action: domain.ActionCreate, After: w.Clone()}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.recordChange(change)
	return nil
}

func (tx *transaction) UpdateWorkflow(id string, mutator func(*Workflow) error) (Workflow, error) {
	current, ok := tx.state.workflows[id]
	if !ok {
		return Workflow{}, domain.ErrNotFound{Entity: domain.EntityWorkflow, ID: id}
	}
	updated := current.Clone()
	if err := mutator(&updated); err != nil {
		return Workflow{}, err
	}
	updated.ID = id
	tx.state.workflows[id] = updated.Clone()
	tx.recordChange(Change{Entity: domain.EntityWorkflow, Action: domain.ActionUpdate, Before: current, After: updated.Clone()})
	return updated, nil
}

func (tx *transaction) SetChain(portalType string, workflowIDs []string) error {
	if portalType == "" {
		return fmt.Errorf("portal type required")
	}
	for _, id := range workflowIDs {
		if _, ok := tx.state.workflows[id]; !ok {
			return domain.ErrNotFound{Entity: domain.EntityWorkflow, ID: id}
		}
	}
	tx.state.chains[portalType] = append([]string(nil), workflowIDs...)
	return nil
}

func (tx *transaction) CreateRelationship(rel Relationship) (Relationship, error) {
	if rel.Relationship == "" {
		return Relationship{}, fmt.Errorf("relationship label required")
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.ContainerUID == "" {
		rel.ContainerUID = rel.SourceUID
	}
	if _, exists := tx.state.relationships[rel.Key()]; exists {
		return Relationship{}, fmt.Errorf("relationship %s already exists", rel.Key())
	}
	rel.CreatedAt = tx.now
	tx.state.relationships[rel.Key()] = rel
	tx.recordChange(Change{Entity: domain.EntityRelationship, Action: domain.ActionCreate, After: rel})
	return rel, nil
}

func (tx *transaction) DeleteRelationship(containerUID, id string) error {
	key := Relationship{ContainerUID: containerUID, ID: id}.Key()
	current, ok := tx.state.relationships[key]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRelationship, ID: key}
	}
	delete(tx.state.relationships, key)
	tx.recordChange(Change{Entity: domain.EntityRelationship, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) PutCatalog(def CatalogDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("catalog id required")
	}
	for name, kind := range def.Indexes {
		if !kind.Valid() {
			return fmt.Errorf("catalog %s: index %s has unsupported type %s", def.ID, name, kind)
		}
	}
	tx.state.catalogs[def.ID] = def.Clone()
	if _, ok := tx.state.entries[def.ID]; !ok {
		tx.state.entries[def.ID] = make(map[string]CatalogEntry)
	}
	return nil
}

func (tx *transaction) UpdateCatalog(id string, mutator func(*CatalogDefinition) error) (CatalogDefinition, error) {
	current, ok := tx.state.catalogs[id]
	if !ok {
		return CatalogDefinition{}, domain.ErrNotFound{Entity: domain.EntityCatalog, ID: id}
	}
	updated := current.Clone()
	if err := mutator(&updated); err != nil {
		return CatalogDefinition{}, err
	}
	updated.ID = id
	for name, kind := range updated.Indexes {
		if !kind.Valid() {
			return CatalogDefinition{}, fmt.Errorf("catalog %s: index %s has unsupported type %s", id, name, kind)
		}
	}
	tx.state.catalogs[id] = updated.Clone()
	return updated, nil
}

func (tx *transaction) PutCatalogEntry(catalogID string, entry CatalogEntry) error {
	if _, ok := tx.state.catalogs[catalogID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityCatalog, ID: catalogID}
	}
	if entry.UID == "" {
		return fmt.Errorf("catalog entry uid required")
	}
	bucket, ok := tx.state.entries[catalogID]
	if !ok {
		bucket = make(map[string]CatalogEntry)
		tx.state.entries[catalogID] = bucket
	}
	bucket[entry.UID] = entry.Clone()
	return nil
}

func (tx *transaction) DeleteCatalogEntry(catalogID, uid string) error {
	if bucket, ok := tx.state.entries[catalogID]; ok {
		delete(bucket, uid)
	}
	return nil
}

func (tx *transaction) SetInstalledVersion(product, version string) error {
	if product == "" {
		return fmt.Errorf("product required")
	}
	tx.state.versions[product] = version
	return nil
}

func (tx *transaction) RecordUpgrade(rec UpgradeRecord) error {
	if rec.Product == "" || rec.Version == "" {
		return fmt.Errorf("upgrade record requires product and version")
	}
	tx.state.upgrades = append(tx.state.upgrades, rec)
	tx.recordChange(Change{Entity: domain.EntityUpgrade, Action: domain.ActionCreate, After: rec})
	return nil
}
