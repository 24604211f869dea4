package config

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// RenderTemplate substitutes {{ identifier }} tokens against mapping. This is
// the "small token substitutor" the redesign notes call for (spec §9) in
// place of a full template engine — only identifier substitution is
// supported, matching what the original templates actually use.
//
// When keepUndefined is true, a token with no entry in mapping is left
// verbatim (so a later rendering pass — e.g. the extraction task's
// {{ part_number }} — can still see it). When false, unknown tokens are
// replaced with the empty string.
func RenderTemplate(content string, mapping map[string]string, keepUndefined bool) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := mapping[name]; ok {
			return v
		}
		if keepUndefined {
			return match
		}
		return ""
	})
}
