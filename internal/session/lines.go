package session

import "strings"

// SplitLines splits submitted text into command lines. Newlines inside
// single or double quotes do not split, a backslash keeps the next character
// verbatim, carriage returns are dropped, and lines are trimmed with empty
// ones removed.
func SplitLines(text string) []string {
	var (
		lines   []string
		cur     strings.Builder
		quote   rune
		escaped bool
	)

	flush := func() {
		if l := strings.TrimSpace(cur.String()); l != "" {
			lines = append(lines, l)
		}
		cur.Reset()
	}

	for _, r := range text {
		switch {
		case r == '\r':
			continue
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			cur.WriteRune(r)
			quote = r
		case r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return lines
}
