package engine

import "strings"

// RenderPrompt substitutes each configured argument name with its value and
// then, when escape is set, doubles every remaining brace. Names without a
// non-empty value are left in place.
//
// Substitution always happens before escaping so braces inside argument
// values are escaped along with the template's own.
func RenderPrompt(template string, names []string, args map[string]string, escape bool) string {
	out := template
	for _, name := range names {
		if name == "" {
			continue
		}
		value, ok := args[name]
		if !ok || value == "" {
			continue
		}
		out = strings.ReplaceAll(out, name, value)
	}
	if escape {
		out = escapeBraces(out)
	}
	return out
}

var braceEscaper = strings.NewReplacer("{", "{{", "}", "}}")

func escapeBraces(s string) string {
	return braceEscaper.Replace(s)
}
