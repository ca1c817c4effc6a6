package prompt

import (
	"regexp"
	"sort"
	"strings"
)

// Syntax selects which placeholder forms are recognised in message text.
type Syntax int

const (
	// SyntaxHandlebars matches {{name}}.
	SyntaxHandlebars Syntax = 1 << iota
	// SyntaxHelicone matches <helicone-prompt-input key="name" /> and the
	// long form whose inner text is the default value.
	SyntaxHelicone

	SyntaxAll = SyntaxHandlebars | SyntaxHelicone
)

type Variable struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	IsValid   bool   `json:"isValid"`
	IsMessage bool   `json:"isMessage"`
}

var (
	handlebarsPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	heliconePattern   = regexp.MustCompile(`<helicone-prompt-input\s+key="([^"]*)"\s*(?:/>|>([\s\S]*?)</helicone-prompt-input>)`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func IsValidVariableName(name string) bool {
	return identifierPattern.MatchString(name)
}

type placeholder struct {
	start, end int
	name       string
	value      string
}

func findPlaceholders(text string, syntax Syntax) []placeholder {
	var found []placeholder
	if syntax&SyntaxHandlebars != 0 {
		for _, m := range handlebarsPattern.FindAllStringSubmatchIndex(text, -1) {
			found = append(found, placeholder{
				start: m[0],
				end:   m[1],
				name:  text[m[2]:m[3]],
			})
		}
	}
	if syntax&SyntaxHelicone != 0 {
		for _, m := range heliconePattern.FindAllStringSubmatchIndex(text, -1) {
			p := placeholder{start: m[0], end: m[1], name: strings.TrimSpace(text[m[2]:m[3]])}
			if m[4] >= 0 {
				p.value = text[m[4]:m[5]]
			}
			found = append(found, p)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })
	return found
}

// ExtractVariables returns the placeholders found in text, in order of first
// appearance and without duplicates.
func ExtractVariables(text string, syntax Syntax) []Variable {
	var vars []Variable
	for _, p := range findPlaceholders(text, syntax) {
		vars = append(vars, Variable{
			Name:    p.name,
			Value:   p.value,
			IsValid: IsValidVariableName(p.name),
		})
	}
	return DeduplicateVariables(vars)
}

// DeduplicateVariables collapses variables sharing a name. The first
// occurrence wins unless an entry with the same name is present in existing.
func DeduplicateVariables(vars []Variable, existing ...Variable) []Variable {
	known := make(map[string]Variable, len(existing))
	for _, v := range existing {
		if _, ok := known[v.Name]; !ok {
			known[v.Name] = v
		}
	}

	seen := make(map[string]bool, len(vars))
	out := make([]Variable, 0, len(vars))
	for _, v := range vars {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		if e, ok := known[v.Name]; ok {
			v = e
		}
		out = append(out, v)
	}
	return out
}

// FillVariables substitutes placeholder values. Placeholders without a value
// are left in place.
func FillVariables(text string, syntax Syntax, values map[string]string) string {
	found := findPlaceholders(text, syntax)
	if len(found) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, p := range found {
		if p.start < last {
			continue
		}
		val, ok := values[p.name]
		if !ok {
			continue
		}
		b.WriteString(text[last:p.start])
		b.WriteString(val)
		last = p.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// VariableValues flattens valid variables into a name to value map.
// Invalid names are left out so their placeholder text stays as written.
func VariableValues(vars []Variable) map[string]string {
	m := make(map[string]string, len(vars))
	for _, v := range vars {
		if !v.IsValid {
			continue
		}
		m[v.Name] = v.Value
	}
	return m
}
