// Package template personalizes flow step content for a cart.
package template

import "strings"

// Render replaces every {key} placeholder in tmpl with vars[key], or with the
// empty string when the key is missing. Substituted values are not re-scanned.
func Render(tmpl string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		if tmpl[i] != '{' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}

		end := placeholderEnd(tmpl, i+1)
		if end < 0 {
			b.WriteByte(tmpl[i])
			i++
			continue
		}

		b.WriteString(vars[tmpl[i+1:end]])
		i = end + 1
	}

	return b.String()
}

// placeholderEnd returns the index of the closing brace of a placeholder whose
// key starts at start, or -1 if the text there is not a placeholder.
func placeholderEnd(s string, start int) int {
	for j := start; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '}':
			if j == start {
				return -1
			}
			return j
		case c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		default:
			return -1
		}
	}
	return -1
}
