package catalog

import (
	"fmt"
	"strings"
	"time"

	"limscore/pkg/domain"
)

// Resolver computes the value of an index or column for obj. It reports
// false when the object has no value, in which case the object is left out
// of the index.
type Resolver func(view domain.TransactionView, obj domain.Object) (any, bool)

func builtinResolvers() map[string]Resolver {
	id := func(_ domain.TransactionView, o domain.Object) (any, bool) { return o.ID, o.ID != "" }
	portalType := func(_ domain.TransactionView, o domain.Object) (any, bool) { return o.PortalType, true }
	reviewState := func(_ domain.TransactionView, o domain.Object) (any, bool) {
		s := o.State(domain.StateFlowReview)
		return s, s != ""
	}
	return map[string]Resolver{
		"getId":                 id,
		"id":                    id,
		"UID":                   func(_ domain.TransactionView, o domain.Object) (any, bool) { return o.UID, true },
		"Title":                 func(_ domain.TransactionView, o domain.Object) (any, bool) { return o.Title, true },
		"sortable_title":        func(_ domain.TransactionView, o domain.Object) (any, bool) { return strings.ToLower(o.Title), true },
		"portal_type":           portalType,
		"meta_type":             portalType,
		"getAnalysisPortalType": portalType,
		"state_title":           reviewState,
		"review_state":          reviewState,
		"getParentUID": func(_ domain.TransactionView, o domain.Object) (any, bool) {
			return o.ParentUID, o.ParentUID != ""
		},
		"allowedRolesAndUsers": func(_ domain.TransactionView, o domain.Object) (any, bool) {
			return o.AllowedRolesAndUsers(), true
		},
		"created": func(_ domain.TransactionView, o domain.Object) (any, bool) {
			return o.CreatedAt, !o.CreatedAt.IsZero()
		},
	}
}

// resolve looks up name through the registered resolvers, the object's
// state variables, and finally its attributes.
func (t *Tool) resolve(view domain.TransactionView, obj domain.Object, name string) (any, bool) {
	t.mu.RLock()
	r, ok := t.resolvers[name]
	t.mu.RUnlock()
	if ok {
		return r(view, obj)
	}
	if sv := domain.StateVariable(name); sv.Valid() {
		s := obj.State(sv)
		return s, s != ""
	}
	v, ok := obj.Attr(name)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// indexValue normalizes a resolved value for storage in an index of type typ.
func indexValue(typ domain.IndexType, v any) (any, bool) {
	switch typ {
	case domain.KeywordIndex:
		keywords := toStrings(v)
		return keywords, len(keywords) > 0
	case domain.DateIndex:
		ts, ok := asTime(v)
		if !ok {
			return nil, false
		}
		return ts.UTC().Format(time.RFC3339Nano), true
	default:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano), true
		}
		return v, true
	}
}

func toStrings(v any) []string {
	switch typed := v.(type) {
	case nil:
		return nil
	case string:
		if typed == "" {
			return nil
		}
		return []string{typed}
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(typed)}
	}
}

func asTime(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed, !typed.IsZero()
	case *time.Time:
		if typed == nil {
			return time.Time{}, false
		}
		return *typed, !typed.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
			if ts, err := time.Parse(layout, typed); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
