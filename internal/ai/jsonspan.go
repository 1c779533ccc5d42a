package ai

// maxObjectSpans bounds how many embedded objects are tried per response
const maxObjectSpans = 8

// jsonObjectSpans returns the top-level balanced {...} spans of s in order
// of appearance. Braces inside string literals, including escaped quotes,
// do not affect nesting. Unterminated spans are dropped.
func jsonObjectSpans(s string, limit int) []string {
	var (
		spans    []string
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if depth == 0 {
			if ch == '{' {
				depth = 1
				start = i
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				spans = append(spans, s[start:i+1])
				if limit > 0 && len(spans) >= limit {
					return spans
				}
			}
		}
	}
	return spans
}
