package workflow

import (
	"context"
	"sort"
	"sync"
)

// Request is the per-request scope threaded through transition calls. It
// carries the caller identity used by guards and the skip ledger that keeps
// transition cascades from re-triggering the same action on the same object.
type Request struct {
	Actor string
	Roles []string
	// System requests bypass permission and role guards. Guard expressions
	// are still evaluated.
	System bool

	mu       sync.Mutex
	skiplist map[string]struct{}
}

// NewRequest returns a request scope for actor holding roles.
func NewRequest(actor string, roles ...string) *Request {
	return &Request{Actor: actor, Roles: append([]string(nil), roles...)}
}

// SystemRequest returns a request scope for administrative operations.
func SystemRequest() *Request {
	return &Request{Actor: "system", Roles: []string{"Manager"}, System: true}
}

type skipOptions struct {
	peek   bool
	unskip bool
}

// SkipOption adjusts a ShouldSkip call.
type SkipOption func(*skipOptions)

// Peek only reads the ledger; it never records the key.
func Peek() SkipOption { return func(o *skipOptions) { o.peek = true } }

// Unskip removes the key so the next cascade may transition the object again.
func Unskip() SkipOption { return func(o *skipOptions) { o.unskip = true } }

// SkipKey builds the ledger key for an object action.
func SkipKey(uid, action string) string {
	return uid + "_" + action
}

// ShouldSkip reports whether action on uid was already claimed in this
// request. A plain call claims the key and returns false the first time; the
// next call for the same key returns true. The ledger is created lazily by
// the first plain call; peek and unskip calls never create it.
func (r *Request) ShouldSkip(uid, action string, opts ...SkipOption) bool {
	if r == nil {
		return false
	}
	var o skipOptions
	for _, opt := range opts {
		opt(&o)
	}
	key := SkipKey(uid, action)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skiplist == nil {
		if !o.peek && !o.unskip {
			r.skiplist = map[string]struct{}{key: {}}
		}
		return false
	}
	if _, ok := r.skiplist[key]; ok {
		if o.unskip {
			delete(r.skiplist, key)
			return false
		}
		return true
	}
	if !o.peek && !o.unskip {
		r.skiplist[key] = struct{}{}
	}
	return false
}

// HasLedger reports whether the skip ledger has been created.
func (r *Request) HasLedger() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skiplist != nil
}

// SkipKeys returns the recorded ledger keys in lexical order.
func (r *Request) SkipKeys() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.skiplist))
	for k := range r.skiplist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasRole reports whether the caller holds any of roles.
func (r *Request) HasRole(roles ...string) bool {
	if r == nil {
		return false
	}
	for _, want := range roles {
		for _, have := range r.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

type requestKey struct{}

// WithRequest attaches req to ctx.
func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFrom returns the request attached to ctx, if any.
func RequestFrom(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	return req, ok && req != nil
}

func requestOrContext(ctx context.Context, req *Request) *Request {
	if req != nil {
		return req
	}
	if attached, ok := RequestFrom(ctx); ok {
		return attached
	}
	return nil
}
