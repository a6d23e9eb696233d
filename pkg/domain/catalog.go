package domain

// IndexType names a catalog index implementation.
type IndexType string

// Supported index types.
const (
	FieldIndex   IndexType = "FieldIndex"
	DateIndex    IndexType = "DateIndex"
	KeywordIndex IndexType = "KeywordIndex"
)

// Valid reports whether t is a supported index type.
func (t IndexType) Valid() bool {
	switch t {
	case FieldIndex, DateIndex, KeywordIndex:
		return true
	default:
		return false
	}
}

// CatalogDefinition declares the portal types a catalog indexes, its typed
// indexes, and the metadata columns cached on each entry.
type CatalogDefinition struct {
	ID      string               `json:"id" validate:"required"`
	Title   string               `json:"title,omitempty"`
	Types   []string             `json:"types"`
	Indexes map[string]IndexType `json:"indexes"`
	Columns []string             `json:"columns"`
}

// IndexesType reports whether the catalog indexes objects of portalType.
// A catalog without declared types indexes everything.
func (d CatalogDefinition) IndexesType(portalType string) bool {
	if len(d.Types) == 0 {
		return true
	}
	for _, t := range d.Types {
		if t == portalType {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the definition.
func (d CatalogDefinition) Clone() CatalogDefinition {
	cp := d
	cp.Types = append([]string(nil), d.Types...)
	cp.Columns = append([]string(nil), d.Columns...)
	if d.Indexes != nil {
		cp.Indexes = make(map[string]IndexType, len(d.Indexes))
		for k, v := range d.Indexes {
			cp.Indexes[k] = v
		}
	}
	return cp
}

// CatalogEntry is the indexed record ("brain") of one object in one catalog.
// Values holds index values; Metadata holds the denormalized columns.
type CatalogEntry struct {
	UID        string         `json:"uid"`
	PortalType string         `json:"portal_type"`
	Values     map[string]any `json:"values"`
	Metadata   map[string]any `json:"metadata"`
}

// Clone returns a copy with independent maps.
func (e CatalogEntry) Clone() CatalogEntry {
	cp := e
	cp.Values = make(map[string]any, len(e.Values))
	for k, v := range e.Values {
		cp.Values[k] = v
	}
	cp.Metadata = make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
