// Package template extracts {{variable}} placeholders from prompt content
// and renders them against supplied values.
package template

import (
	"regexp"
	"strings"
)

// variablePattern matches {{name}} placeholders, allowing whitespace around
// the name. Braces inside the name do not match, so an unterminated or
// nested brace sequence stays literal text.
var variablePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ExtractVariables returns the unique variable names referenced in content,
// in order of first appearance.
func ExtractVariables(content string) []string {
	matches := variablePattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

// Render replaces every placeholder that has an entry in values. Placeholders
// with no supplied value are kept as {{name}} rather than erased, so rendering
// never loses template text.
func Render(content string, values map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if val, ok := values[name]; ok {
			return val
		}
		return "{{" + name + "}}"
	})
}

// MissingVariables returns the referenced variables that have no entry in
// values, in first-appearance order.
func MissingVariables(content string, values map[string]string) []string {
	var missing []string
	for _, name := range ExtractVariables(content) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
