package jsonapi

import (
	"context"

	"golang.org/x/text/language"

	"limscore/internal/i18n"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// FieldTransitions is the include name that requests the transitions list.
const FieldTransitions = "transitions"

// TransitionLister reports the transitions a caller may fire on an object.
type TransitionLister interface {
	AllowedTransitions(ctx context.Context, req *workflow.Request, uid string) ([]domain.Transition, error)
}

// TransitionEntry is one element of the transitions list.
type TransitionEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TransitionsExtender adds the currently legal transitions to an object
// record when the caller asked for them. It never changes workflow state or
// the request's skip ledger.
type TransitionsExtender struct {
	lister     TransitionLister
	translator *i18n.Translator
}

// NewTransitionsExtender builds an extender. A nil translator keeps the
// titles stored on the transitions.
func NewTransitionsExtender(lister TransitionLister, translator *i18n.Translator) *TransitionsExtender {
	return &TransitionsExtender{lister: lister, translator: translator}
}

type languageKey struct{}

// WithLanguage stores the language titles are rendered in.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, languageKey{}, tag)
}

func languageFrom(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(languageKey{}).(language.Tag)
	return tag, ok
}

func wants(include []string, field string) bool {
	for _, f := range include {
		if f == field {
			return true
		}
	}
	return false
}

// Transitions lists the transitions req may fire on uid, with localized
// titles. The list is computed on every call.
func (x *TransitionsExtender) Transitions(ctx context.Context, req *workflow.Request, uid string) ([]TransitionEntry, error) {
	allowed, err := x.lister.AllowedTransitions(ctx, req, uid)
	if err != nil {
		return nil, err
	}
	tag, ok := languageFrom(ctx)
	if !ok && x.translator != nil {
		tag = x.translator.Match("")
	}
	out := make([]TransitionEntry, 0, len(allowed))
	for _, tr := range allowed {
		title := tr.Title
		if x.translator != nil {
			title = x.translator.TransitionTitle(tag, tr.ID, tr.Title)
		}
		if title == "" {
			title = tr.ID
		}
		out = append(out, TransitionEntry{ID: tr.ID, Title: title})
	}
	return out, nil
}

// Extend sets out["transitions"] when include names it and leaves out
// untouched otherwise.
func (x *TransitionsExtender) Extend(ctx context.Context, req *workflow.Request, uid string, include []string, out map[string]any) error {
	if !wants(include, FieldTransitions) {
		return nil
	}
	entries, err := x.Transitions(ctx, req, uid)
	if err != nil {
		return err
	}
	out[FieldTransitions] = entries
	return nil
}
