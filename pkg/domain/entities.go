// Package domain defines the persisted content objects, workflow
// definitions, shared vocabularies, and rule evaluation primitives used by
// limscore.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityObject identifies a content object (Analysis, AnalysisRequest, ...).
	EntityObject EntityType = "object"
	// EntityWorkflow identifies a workflow definition.
	EntityWorkflow EntityType = "workflow"
	// EntityRelationship identifies a reference-index relationship record.
	EntityRelationship EntityType = "relationship"
	// EntityCatalog identifies a catalog definition.
	EntityCatalog EntityType = "catalog"
	// EntityUpgrade identifies an upgrade step record.
	EntityUpgrade EntityType = "upgrade"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// HistoryEntry records one applied workflow transition on an object.
type HistoryEntry struct {
	Action        string        `json:"action"`
	Actor         string        `json:"actor,omitempty"`
	Workflow      string        `json:"workflow"`
	StateVariable StateVariable `json:"state_variable"`
	State         string        `json:"state"`
	Time          time.Time     `json:"time"`
}

// Object is a persisted content object. The persistence store owns it; the
// workflow layer only mutates its workflow-relevant attributes.
type Object struct {
	UID        string                   `json:"uid"`
	ID         string                   `json:"id"`
	PortalType string                   `json:"portal_type"`
	Title      string                   `json:"title"`
	ParentUID  string                   `json:"parent_uid,omitempty"`
	States     map[StateVariable]string `json:"states,omitempty"`
	Attributes map[string]any           `json:"attributes,omitempty"`
	// RoleMappings maps a permission to the roles granted it on this object.
	RoleMappings map[string][]string `json:"role_mappings,omitempty"`
	// LocalRoles maps a principal to the roles granted locally.
	LocalRoles map[string][]string `json:"local_roles,omitempty"`
	History    []HistoryEntry      `json:"history,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// State returns the object's current state for the given state variable.
func (o Object) State(variable StateVariable) string {
	if o.States == nil {
		return ""
	}
	return o.States[variable]
}

// SetState assigns the state for a state variable, allocating the map on demand.
func (o *Object) SetState(variable StateVariable, state string) {
	if o.States == nil {
		o.States = make(map[StateVariable]string)
	}
	o.States[variable] = state
}

// Attr returns the raw attribute value.
func (o Object) Attr(name string) (any, bool) {
	if o.Attributes == nil {
		return nil, false
	}
	v, ok := o.Attributes[name]
	return v, ok
}

// StringAttr returns the attribute as a string, or "" when unset or not a string.
func (o Object) StringAttr(name string) string {
	v, ok := o.Attr(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// StringsAttr returns the attribute as a string slice. Values decoded from
// JSON arrive as []any and are converted.
func (o Object) StringsAttr(name string) []string {
	v, ok := o.Attr(name)
	if !ok || v == nil {
		return nil
	}
	switch typed := v.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{typed}
	default:
		return nil
	}
}

// SetAttr assigns an attribute. A nil value removes it.
func (o *Object) SetAttr(name string, value any) {
	if value == nil {
		delete(o.Attributes, name)
		return
	}
	if o.Attributes == nil {
		o.Attributes = make(map[string]any)
	}
	o.Attributes[name] = value
}

// Clone returns a deep copy of the object safe to mutate independently.
func (o Object) Clone() Object {
	cp := o
	if o.States != nil {
		cp.States = make(map[StateVariable]string, len(o.States))
		for k, v := range o.States {
			cp.States[k] = v
		}
	}
	if o.Attributes != nil {
		cp.Attributes = make(map[string]any, len(o.Attributes))
		for k, v := range o.Attributes {
			switch typed := v.(type) {
			case []string:
				cp.Attributes[k] = append([]string(nil), typed...)
			case []any:
				cp.Attributes[k] = append([]any(nil), typed...)
			default:
				cp.Attributes[k] = v
			}
		}
	}
	cp.RoleMappings = cloneRoleMap(o.RoleMappings)
	cp.LocalRoles = cloneRoleMap(o.LocalRoles)
	if o.History != nil {
		cp.History = append([]HistoryEntry(nil), o.History...)
	}
	return cp
}

// PermissionView is the permission gating read access to an object.
const PermissionView = "View"

// AllowedRolesAndUsers returns the security tokens indexed for the object:
// every role holding View, plus "user:<principal>" for each principal
// granted one of those roles locally.
func (o Object) AllowedRolesAndUsers() []string {
	viewRoles := o.RoleMappings[PermissionView]
	seen := make(map[string]struct{})
	out := make([]string, 0, len(viewRoles))
	for _, role := range viewRoles {
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	for _, principal := range SortedKeys(o.LocalRoles) {
		for _, local := range o.LocalRoles[principal] {
			if _, ok := seen[local]; !ok {
				continue
			}
			token := "user:" + principal
			if _, dup := seen[token]; !dup {
				seen[token] = struct{}{}
				out = append(out, token)
			}
			break
		}
	}
	sort.Strings(out)
	return out
}

func cloneRoleMap(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Relationship is a directed, labelled edge between two content objects kept
// in the reference index. Records are addressed by (ContainerUID, ID).
type Relationship struct {
	ID           string    `json:"id"`
	ContainerUID string    `json:"container_uid"`
	SourceUID    string    `json:"source_uid"`
	TargetUID    string    `json:"target_uid"`
	Relationship string    `json:"relationship"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the (container, id) address of the record.
func (r Relationship) Key() string {
	return r.ContainerUID + "/" + r.ID
}

// UpgradeStatus enumerates the lifecycle of an upgrade step execution.
type UpgradeStatus string

// Upgrade step states. Skipped is terminal and reached when the installed
// version is already at or beyond the step's target.
const (
	UpgradeNotRun  UpgradeStatus = "not_run"
	UpgradeRunning UpgradeStatus = "running"
	UpgradeDone    UpgradeStatus = "done"
	UpgradeSkipped UpgradeStatus = "skipped"
	UpgradeFailed  UpgradeStatus = "failed"
)

// UpgradeRecord captures one attempted upgrade step.
type UpgradeRecord struct {
	Product    string        `json:"product"`
	Version    string        `json:"version"`
	From       string        `json:"from"`
	Status     UpgradeStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
}

// Change describes a mutation recorded inside a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// SortedKeys returns the keys of a string-keyed map in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
