package memory

import "strings"

// queryTokens takes the first few whitespace-separated words of a task
// description as a crude keyword query.
func queryTokens(taskDescription string) []string {
	fields := strings.Fields(strings.ToLower(taskDescription))
	if len(fields) > ContextQueryTokens {
		fields = fields[:ContextQueryTokens]
	}
	return fields
}

// matchesTokens reports whether any token is a substring of the entry's
// key or value, case-insensitively.
func matchesTokens(e Entry, tokens []string) bool {
	key := strings.ToLower(e.Key)
	value := strings.ToLower(e.Value)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(key, tok) || strings.Contains(value, tok) {
			return true
		}
	}
	return false
}
