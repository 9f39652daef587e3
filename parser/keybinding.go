package parser

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// reservedProperties are the directives a model importer understands inside a
// [Key...] section. Any other "name = a, b, c" line whose name carries a $
// variable is treated as a cycle assignment.
var reservedProperties = map[string]struct{}{
	"key":                     {},
	"back":                    {},
	"type":                    {},
	"condition":               {},
	"run":                     {},
	"wrap":                    {},
	"smart":                   {},
	"delay":                   {},
	"transition":              {},
	"transition_type":         {},
	"release_delay":           {},
	"release_transition":      {},
	"release_transition_type": {},
}

var varPattern = regexp.MustCompile(`\$(\w+)`)

// creditInfoVar is injected by mod packaging tools and is not a real cycle
// variable, bindings never expose it.
const creditInfoVar = "creditinfo"

const constantsSection = "Constants"

// Assignment is one cycle variable controlled by a key binding: the options
// the variable cycles through and, when known, its current value.
type Assignment struct {
	Variable string   `json:"variable"`
	Options  []string `json:"options"`
	Current  string   `json:"current"`
}

// KeyBinding is an editable view over a single [Key...] section. Mutations
// are applied back onto the owning document through ApplyBinding so that
// every other byte of the file stays untouched.
type KeyBinding struct {
	ID          string       `json:"id"`
	File        string       `json:"file"`
	Section     string       `json:"section"`
	Title       string       `json:"title"`
	Keys        []string     `json:"keys"`
	Back        []string     `json:"back,omitempty"`
	Type        string       `json:"type,omitempty"`
	Condition   string       `json:"condition,omitempty"`
	Run         string       `json:"run,omitempty"`
	Wrap        bool         `json:"wrap"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// ExtractBindings pulls every [Key...] section out of a parsed document. A
// section without a "key" property is not an actionable binding and is
// skipped. Current values for cycle variables are resolved from the
// document's [Constants] section, with values persisted by the importer in
// d3dx_user.ini taking priority when provided.
func ExtractBindings(doc *Document, user *UserConstants) []KeyBinding {
	constants := extractConstants(doc)

	var out []KeyBinding
	var current *KeyBinding

	flush := func() {
		if current != nil && len(current.Keys) > 0 {
			out = append(out, *current)
		}
		current = nil
	}

	for i := range doc.tokens {
		t := &doc.tokens[i]
		switch t.typ {
		case TokenSection:
			flush()
			if strings.HasPrefix(strings.ToLower(t.section), "key") {
				current = &KeyBinding{
					ID:      uuid.New().String(),
					File:    doc.path,
					Section: t.section,
					Title:   bindingTitle(t.section),
					Wrap:    true,
				}
			}
		case TokenKeyValue:
			if current == nil {
				continue
			}
			name := strings.ToLower(t.key)
			if _, ok := reservedProperties[name]; ok {
				applyProperty(current, name, t.value())
				continue
			}
			m := varPattern.FindStringSubmatch(t.key)
			if m == nil {
				continue
			}
			variable := m[1]
			if strings.EqualFold(variable, creditInfoVar) {
				continue
			}
			a := Assignment{Variable: variable, Options: splitValues(t.value())}
			if v, ok := lookupCurrent(user, doc.path, variable, constants); ok {
				a.Current = v
			}
			current.Assignments = append(current.Assignments, a)
		}
	}
	flush()

	return out
}

func applyProperty(b *KeyBinding, name, value string) {
	switch name {
	case "key":
		b.Keys = splitValues(value)
	case "back":
		b.Back = splitValues(value)
	case "type":
		b.Type = value
	case "condition":
		b.Condition = value
	case "run":
		b.Run = value
	case "wrap":
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "0", "false", "no":
			b.Wrap = false
		default:
			b.Wrap = true
		}
	}
}

// ApplyBinding writes the binding's editable fields back onto the document.
// Only properties the binding actually carries are touched, properties that
// were never present in the section are not invented.
func ApplyBinding(doc *Document, b KeyBinding) {
	if len(b.Keys) > 0 {
		doc.Set(b.Section, "key", strings.Join(b.Keys, ", "))
	}
	if len(b.Back) > 0 {
		doc.Set(b.Section, "back", strings.Join(b.Back, ", "))
	}
	for _, a := range b.Assignments {
		if len(a.Options) > 0 {
			doc.Set(b.Section, "$"+a.Variable, strings.Join(a.Options, ","))
		}
	}
}

// ApplyConstant updates the current value of a cycle variable in the
// document's [Constants] section. The importer is the one that writes these
// lines in the first place, so a variable that has no line there is left
// alone and false is returned.
func ApplyConstant(doc *Document, variable, value string) bool {
	start, end := doc.sectionRange(constantsSection)
	if start < 0 {
		return false
	}
	for i := start + 1; i < end; i++ {
		t := &doc.tokens[i]
		if t.typ != TokenKeyValue {
			continue
		}
		m := varPattern.FindStringSubmatch(t.key)
		if m == nil || !strings.EqualFold(m[1], variable) {
			continue
		}
		doc.Set(constantsSection, t.key, value)
		return true
	}
	return false
}

// extractConstants reads the [Constants] section into a variable to value
// map. Keys there may carry "global persist" style prefixes ahead of the
// variable name.
func extractConstants(doc *Document) map[string]string {
	out := make(map[string]string)
	start, end := doc.sectionRange(constantsSection)
	if start < 0 {
		return out
	}
	for i := start + 1; i < end; i++ {
		t := &doc.tokens[i]
		if t.typ != TokenKeyValue {
			continue
		}
		if m := varPattern.FindStringSubmatch(t.key); m != nil {
			out[strings.ToLower(m[1])] = t.value()
		}
	}
	return out
}

func lookupCurrent(user *UserConstants, path, variable string, constants map[string]string) (string, bool) {
	if user != nil {
		if v, ok := user.Lookup(path, variable); ok {
			return v, true
		}
	}
	v, ok := constants[strings.ToLower(variable)]
	return v, ok
}

// splitValues splits a comma separated value list the way the importer does:
// entries are trimmed and duplicates are dropped while preserving order.
func splitValues(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// bindingTitle derives a display label from a section name, "KeySwap_Outfit"
// reads as "Swap Outfit".
func bindingTitle(section string) string {
	title := section
	if len(title) >= 3 && strings.EqualFold(title[:3], "key") {
		title = title[3:]
	}
	title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	if title == "" {
		return section
	}
	return title
}
