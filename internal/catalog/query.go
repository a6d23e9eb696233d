package catalog

import (
	"fmt"
	"sort"
	"time"

	"limscore/pkg/domain"
)

// Query maps index names to the value searched for. A slice value matches
// any of its members; a Range value bounds a DateIndex. The reserved keys
// "sort_on" and "sort_order" ("ascending" or "reverse") order the results.
// "states" is accepted as an alias of "review_state".
type Query map[string]any

// Range is an inclusive date range. Zero bounds are open.
type Range struct {
	Min time.Time
	Max time.Time
}

const (
	sortOnKey    = "sort_on"
	sortOrderKey = "sort_order"
	statesKey    = "states"
)

func (q Query) normalize() Query {
	v, ok := q[statesKey]
	if !ok {
		return q
	}
	out := make(Query, len(q))
	for k, val := range q {
		out[k] = val
	}
	delete(out, statesKey)
	if _, set := out["review_state"]; !set {
		out["review_state"] = v
	}
	return out
}

// Search returns the entries of the catalog matching every term of q,
// ordered by UID unless the query asks for another index.
func (t *Tool) Search(view domain.TransactionView, catalogID string, q Query) ([]domain.CatalogEntry, error) {
	def, ok := view.FindCatalog(catalogID)
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityCatalog, ID: catalogID}
	}
	q = q.normalize()
	for name := range q {
		if name == sortOnKey || name == sortOrderKey {
			continue
		}
		if _, ok := def.Indexes[name]; !ok {
			return nil, fmt.Errorf("catalog %s has no index %q", catalogID, name)
		}
	}
	var out []domain.CatalogEntry
	for _, entry := range view.ListCatalogEntries(catalogID) {
		if matchesAll(def, entry, q) {
			out = append(out, entry)
		}
	}
	if sortOn, _ := q[sortOnKey].(string); sortOn != "" {
		if _, ok := def.Indexes[sortOn]; !ok {
			return nil, fmt.Errorf("catalog %s cannot sort on %q", catalogID, sortOn)
		}
		reverse := q[sortOrderKey] == "reverse"
		sort.SliceStable(out, func(i, j int) bool {
			a := fmt.Sprint(out[i].Values[sortOn])
			b := fmt.Sprint(out[j].Values[sortOn])
			if reverse {
				return a > b
			}
			return a < b
		})
	}
	return out, nil
}

// SearchObjects resolves the matching entries to their objects, skipping
// entries whose object has disappeared.
func (t *Tool) SearchObjects(view domain.TransactionView, catalogID string, q Query) ([]domain.Object, error) {
	entries, err := t.Search(view, catalogID, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Object, 0, len(entries))
	for _, e := range entries {
		if obj, ok := view.FindObject(e.UID); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func matchesAll(def domain.CatalogDefinition, entry domain.CatalogEntry, q Query) bool {
	for name, want := range q {
		if name == sortOnKey || name == sortOrderKey {
			continue
		}
		got, indexed := entry.Values[name]
		if !indexed {
			return false
		}
		if !matches(def.Indexes[name], got, want) {
			return false
		}
	}
	return true
}

func matches(typ domain.IndexType, got, want any) bool {
	if r, ok := want.(Range); ok {
		ts, ok := asTime(got)
		if !ok {
			return false
		}
		if !r.Min.IsZero() && ts.Before(r.Min) {
			return false
		}
		if !r.Max.IsZero() && ts.After(r.Max) {
			return false
		}
		return true
	}
	if typ == domain.DateIndex {
		ts, ok := asTime(got)
		if !ok {
			return false
		}
		if wt, ok := want.(time.Time); ok {
			return wt.Equal(ts)
		}
		for _, w := range toStrings(want) {
			if wt, ok := asTime(w); ok && wt.Equal(ts) {
				return true
			}
		}
		return false
	}
	wanted := toStrings(want)
	var have []string
	if typ == domain.KeywordIndex {
		have = toStrings(got)
	} else {
		have = []string{fmt.Sprint(got)}
	}
	for _, h := range have {
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}
