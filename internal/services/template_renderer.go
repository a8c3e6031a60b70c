package services

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate replaces {{key}} placeholders with values from variables.
// Unknown placeholders and placeholders bound to nil are left untouched.
func RenderTemplate(text string, variables map[string]interface{}) string {
	if text == "" || len(variables) == 0 {
		return text
	}
	// Each match holds the full placeholder span followed by the key span.
	matches := placeholderRegex.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if len(m) < 4 {
			continue
		}
		b.WriteString(text[last:m[0]])
		if value, ok := variables[text[m[2]:m[3]]]; ok && value != nil {
			b.WriteString(fmt.Sprint(value))
		} else {
			b.WriteString(text[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
