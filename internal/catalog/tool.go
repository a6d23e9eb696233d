package catalog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"limscore/pkg/domain"
)

// Tool indexes objects into the catalogs stored alongside them. It works on
// the transaction it is handed and never commits on its own.
type Tool struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	logger    *slog.Logger
}

// NewTool returns a tool with the built-in resolvers.
func NewTool() *Tool {
	return &Tool{
		resolvers: builtinResolvers(),
		logger:    slog.With("module", "catalog"),
	}
}

// RegisterResolver binds the index or column name to r, replacing any
// existing resolver.
func (t *Tool) RegisterResolver(name string, r Resolver) {
	t.mu.Lock()
	t.resolvers[name] = r
	t.mu.Unlock()
}

// Install stores each definition that is not yet present. Existing catalogs
// are left untouched so indexes added by upgrades survive.
func (t *Tool) Install(tx domain.Transaction, defs ...domain.CatalogDefinition) (int, error) {
	installed := 0
	for _, def := range defs {
		if _, ok := tx.FindCatalog(def.ID); ok {
			continue
		}
		if err := tx.PutCatalog(def); err != nil {
			return installed, fmt.Errorf("install catalog %s: %w", def.ID, err)
		}
		installed++
	}
	return installed, nil
}

// catalogsFor lists the catalogs indexing portalType.
func catalogsFor(view domain.TransactionView, portalType string) []domain.CatalogDefinition {
	var out []domain.CatalogDefinition
	for _, def := range view.ListCatalogs() {
		if def.IndexesType(portalType) {
			out = append(out, def)
		}
	}
	return out
}

func (t *Tool) entryFor(view domain.TransactionView, def domain.CatalogDefinition, obj domain.Object) domain.CatalogEntry {
	entry := domain.CatalogEntry{
		UID:        obj.UID,
		PortalType: obj.PortalType,
		Values:     make(map[string]any, len(def.Indexes)),
		Metadata:   make(map[string]any, len(def.Columns)),
	}
	for name, typ := range def.Indexes {
		raw, ok := t.resolve(view, obj, name)
		if !ok {
			continue
		}
		if v, ok := indexValue(typ, raw); ok {
			entry.Values[name] = v
		}
	}
	for _, col := range def.Columns {
		raw, ok := t.resolve(view, obj, col)
		if !ok {
			entry.Metadata[col] = nil
			continue
		}
		if ts, isTime := raw.(time.Time); isTime {
			raw = ts.UTC().Format(time.RFC3339Nano)
		}
		entry.Metadata[col] = raw
	}
	return entry
}

// ReindexObject refreshes the object's entry in every catalog indexing its
// portal type. A missing object is removed from all catalogs.
func (t *Tool) ReindexObject(tx domain.Transaction, uid string) error {
	obj, ok := tx.FindObject(uid)
	if !ok {
		for _, def := range tx.ListCatalogs() {
			if err := tx.DeleteCatalogEntry(def.ID, uid); err != nil {
				return err
			}
		}
		return nil
	}
	for _, def := range catalogsFor(tx, obj.PortalType) {
		if err := tx.PutCatalogEntry(def.ID, t.entryFor(tx, def, obj)); err != nil {
			return fmt.Errorf("catalog %s: %w", def.ID, err)
		}
	}
	return nil
}

// ReindexObjectSecurity recomputes the security index of the object and of
// every object contained below it. It returns the number of entries updated.
func (t *Tool) ReindexObjectSecurity(tx domain.Transaction, uid string) (int, error) {
	root, ok := tx.FindObject(uid)
	if !ok {
		return 0, domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
	}
	targets := append([]domain.Object{root}, descendants(tx, uid)...)
	updated := 0
	for _, obj := range targets {
		tokens := obj.AllowedRolesAndUsers()
		for _, def := range catalogsFor(tx, obj.PortalType) {
			if _, indexed := def.Indexes["allowedRolesAndUsers"]; !indexed {
				continue
			}
			entry, found := findEntry(tx, def.ID, obj.UID)
			if !found {
				entry = t.entryFor(tx, def, obj)
			}
			entry.Values["allowedRolesAndUsers"] = tokens
			if _, col := entry.Metadata["allowedRolesAndUsers"]; col {
				entry.Metadata["allowedRolesAndUsers"] = tokens
			}
			if err := tx.PutCatalogEntry(def.ID, entry); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}

func descendants(view domain.TransactionView, uid string) []domain.Object {
	children := make(map[string][]domain.Object)
	for _, obj := range view.ListObjects() {
		if obj.ParentUID != "" {
			children[obj.ParentUID] = append(children[obj.ParentUID], obj)
		}
	}
	var out []domain.Object
	queue := []string{uid}
	seen := map[string]struct{}{uid: {}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next] {
			if _, dup := seen[child.UID]; dup {
				continue
			}
			seen[child.UID] = struct{}{}
			out = append(out, child)
			queue = append(queue, child.UID)
		}
	}
	return out
}

func findEntry(view domain.TransactionView, catalogID, uid string) (domain.CatalogEntry, bool) {
	for _, e := range view.ListCatalogEntries(catalogID) {
		if e.UID == uid {
			return e, true
		}
	}
	return domain.CatalogEntry{}, false
}

// HasIndex reports whether the catalog declares the index.
func HasIndex(view domain.TransactionView, catalogID, name string) (bool, error) {
	def, ok := view.FindCatalog(catalogID)
	if !ok {
		return false, domain.ErrNotFound{Entity: domain.EntityCatalog, ID: catalogID}
	}
	_, exists := def.Indexes[name]
	return exists, nil
}

// AddIndex declares a new index on the catalog. It reports false without
// touching the catalog when an index of that name already exists.
func (t *Tool) AddIndex(tx domain.Transaction, catalogID, name string, typ domain.IndexType) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("index %s: unsupported type %q", name, typ)
	}
	exists, err := HasIndex(tx, catalogID, name)
	if err != nil {
		return false, err
	}
	if exists {
		t.logger.Info("index already in catalog", "index", name, "catalog", catalogID)
		return false, nil
	}
	if _, err := tx.UpdateCatalog(catalogID, func(def *domain.CatalogDefinition) error {
		if def.Indexes == nil {
			def.Indexes = make(map[string]domain.IndexType)
		}
		def.Indexes[name] = typ
		return nil
	}); err != nil {
		return false, err
	}
	t.logger.Info("index added", "index", name, "type", typ, "catalog", catalogID)
	return true, nil
}

// ReindexIndex recomputes a single index for every object of the catalog's
// types and returns the number of objects visited.
func (t *Tool) ReindexIndex(tx domain.Transaction, catalogID, name string) (int, error) {
	def, ok := tx.FindCatalog(catalogID)
	if !ok {
		return 0, domain.ErrNotFound{Entity: domain.EntityCatalog, ID: catalogID}
	}
	typ, ok := def.Indexes[name]
	if !ok {
		return 0, fmt.Errorf("catalog %s has no index %q", catalogID, name)
	}
	count := 0
	for _, obj := range tx.ListObjects() {
		if !def.IndexesType(obj.PortalType) {
			continue
		}
		entry, found := findEntry(tx, catalogID, obj.UID)
		if !found {
			entry = t.entryFor(tx, def, obj)
		}
		delete(entry.Values, name)
		if raw, ok := t.resolve(tx, obj, name); ok {
			if v, ok := indexValue(typ, raw); ok {
				entry.Values[name] = v
			}
		}
		if err := tx.PutCatalogEntry(catalogID, entry); err != nil {
			return count, err
		}
		count++
	}
	t.logger.Info("index rebuilt", "index", name, "catalog", catalogID, "objects", count)
	return count, nil
}

// Rebuild drops every entry of the catalog and reindexes all objects of its
// types.
func (t *Tool) Rebuild(tx domain.Transaction, catalogID string) (int, error) {
	def, ok := tx.FindCatalog(catalogID)
	if !ok {
		return 0, domain.ErrNotFound{Entity: domain.EntityCatalog, ID: catalogID}
	}
	for _, e := range tx.ListCatalogEntries(catalogID) {
		if err := tx.DeleteCatalogEntry(catalogID, e.UID); err != nil {
			return 0, err
		}
	}
	count := 0
	for _, obj := range tx.ListObjects() {
		if !def.IndexesType(obj.PortalType) {
			continue
		}
		if err := tx.PutCatalogEntry(catalogID, t.entryFor(tx, def, obj)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
