package response

import (
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render substitutes {{name}} placeholders. Unknown placeholders are kept.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// MergeVariables merges variable maps, later maps taking priority
func MergeVariables(layers ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			result[k] = v
		}
	}
	return result
}

// ReplySubject prefixes subject with "Re: " unless it already has one
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return ""
	}
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}
