// Package i18n resolves localized transition titles. Messages are keyed by
// "<transition id>_transition_title".
package i18n

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// TitleKey returns the message key of a transition title.
func TitleKey(transitionID string) string {
	return transitionID + "_transition_title"
}

// defaultTitles are the bundled transition titles per language.
var defaultTitles = map[language.Tag]map[string]string{
	language.English: {
		"activate":            "Activate",
		"cancel":              "Cancel",
		"close":               "Close",
		"create_partitions":   "Create partitions",
		"deactivate":          "Deactivate",
		"invalidate":          "Invalidate",
		"open":                "Open",
		"preserve":            "Preserve",
		"publish":             "Publish",
		"receive":             "Receive",
		"reinstate":           "Reinstate",
		"retract":             "Retract",
		"rollback_to_receive": "Rollback to received",
		"sample":              "Sample",
		"schedule_sampling":   "Schedule sampling",
		"submit":              "Submit",
		"verify":              "Verify",
	},
	language.Spanish: {
		"activate":            "Activar",
		"cancel":              "Cancelar",
		"close":               "Cerrar",
		"create_partitions":   "Crear particiones",
		"deactivate":          "Desactivar",
		"invalidate":          "Invalidar",
		"open":                "Abrir",
		"preserve":            "Conservar",
		"publish":             "Publicar",
		"receive":             "Recibir",
		"reinstate":           "Restablecer",
		"retract":             "Retractar",
		"rollback_to_receive": "Volver a recibida",
		"sample":              "Muestrear",
		"schedule_sampling":   "Programar muestreo",
		"submit":              "Enviar",
		"verify":              "Verificar",
	},
	language.BrazilianPortuguese: {
		"cancel":            "Cancelar",
		"create_partitions": "Criar partições",
		"invalidate":        "Invalidar",
		"publish":           "Publicar",
		"receive":           "Receber",
		"reinstate":         "Restabelecer",
		"retract":           "Retratar",
		"submit":            "Submeter",
		"verify":            "Verificar",
	},
}

// Translator looks transition titles up in a message catalog.
type Translator struct {
	builder   *catalog.Builder
	fallback  language.Tag
	supported []language.Tag
	matcher   language.Matcher
}

// New returns a translator loaded with the bundled titles. lang selects the
// language used when a request does not state a preference; it must be one
// of the bundled languages.
func New(lang string) (*Translator, error) {
	fallback := language.English
	if lang != "" {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("i18n language %q: %w", lang, err)
		}
		fallback = tag
	}
	t := &Translator{builder: catalog.NewBuilder(catalog.Fallback(language.English)), fallback: fallback}
	for tag, titles := range defaultTitles {
		if err := t.Load(tag, titles); err != nil {
			return nil, err
		}
	}
	if _, _, conf := t.matcher.Match(fallback); conf == language.No {
		return nil, fmt.Errorf("i18n language %q is not bundled", lang)
	}
	return t, nil
}

// Load adds or overrides the titles of tag. Keys are transition ids.
func (t *Translator) Load(tag language.Tag, titles map[string]string) error {
	for id, title := range titles {
		if err := t.builder.SetString(tag, TitleKey(id), title); err != nil {
			return err
		}
	}
	t.supported = t.builder.Languages()
	// the matcher prefers its first tag when nothing matches
	sort.SliceStable(t.supported, func(i, j int) bool { return t.supported[i] == language.English })
	t.matcher = language.NewMatcher(t.supported)
	return nil
}

// Languages lists the languages with at least one title.
func (t *Translator) Languages() []language.Tag {
	return append([]language.Tag(nil), t.supported...)
}

// Match picks the best supported language for an Accept-Language header
// value. An empty or unusable header selects the configured language.
func (t *Translator) Match(acceptLanguage string) language.Tag {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		prefs = []language.Tag{t.fallback}
	}
	_, idx, conf := t.matcher.Match(prefs...)
	if conf == language.No {
		_, idx, _ = t.matcher.Match(t.fallback)
	}
	return t.supported[idx]
}

// TransitionTitle returns the title of transitionID in tag. When no
// catalog holds the key it returns fallback, or the id when fallback is
// empty.
func (t *Translator) TransitionTitle(tag language.Tag, transitionID, fallback string) string {
	key := TitleKey(transitionID)
	p := message.NewPrinter(tag, message.Catalog(t.builder))
	if title := p.Sprintf(key); title != key {
		return title
	}
	if fallback != "" {
		return fallback
	}
	return transitionID
}
