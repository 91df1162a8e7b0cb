// Package sanitize cleans user-controlled strings before they leave the
// core for the narrative collaborator. Nothing that looks like a prompt
// instruction survives.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Field length ceilings applied after cleaning.
const (
	MaxNameLength     = 100
	MaxIndustryLength = 50
	MaxGenericLength  = 200
)

// strippedChars are removed outright: structural characters that could
// escape a prompt template.
var strippedChars = strings.NewReplacer(
	"{", "", "}", "", `"`, "", "'", "", `\`, "",
)

// injectionPatterns are removed case-insensitively, in order, until the
// string is stable.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|all|above)[^.\n]*`),
	regexp.MustCompile(`(?i)forget\s+(everything|all|previous|the above)[^.\n]*`),
	regexp.MustCompile(`(?i)you\s+are\s+now[^.\n]*`),
	regexp.MustCompile(`(?i)act\s+as\s+if[^.\n]*`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|that)[^.\n]*`),
	regexp.MustCompile(`(?i)\b(system|assistant|human|user)\s*:`),
	regexp.MustCompile(`<\|[^|>]*\|>`),
}

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
var multiSpace = regexp.MustCompile(`\s+`)

// suspiciousTokens reject a name outright rather than being stripped;
// a "client" called admin is not a cleaning problem.
var suspiciousTokens = []string{"system", "admin", "root"}

// Clean strips structural characters, removes injection patterns, collapses
// whitespace and truncates to maxLen.
func Clean(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxGenericLength
	}
	s = strippedChars.Replace(s)
	s = controlChars.ReplaceAllString(s, " ")

	// Patterns can uncover each other as they are removed; iterate until
	// stable, bounded to avoid pathological input.
	for i := 0; i < 5; i++ {
		before := s
		for _, p := range injectionPatterns {
			s = p.ReplaceAllString(s, " ")
		}
		if s == before {
			break
		}
	}

	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
	if len(s) > maxLen {
		s = strings.TrimSpace(s[:maxLen])
	}
	return s
}

// Name cleans a person or organization name and rejects suspicious tokens.
func Name(s string) (string, error) {
	cleaned := Clean(s, MaxNameLength)
	lower := strings.ToLower(cleaned)
	for _, token := range suspiciousTokens {
		if containsToken(lower, token) {
			return "", fmt.Errorf("name contains disallowed token %q", token)
		}
	}
	return cleaned, nil
}

// Industry cleans an industry label.
func Industry(s string) string {
	return Clean(s, MaxIndustryLength)
}

func containsToken(s, token string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], token)
		if i < 0 {
			return false
		}
		i += idx
		beforeOK := i == 0 || !isWordChar(s[i-1])
		afterIdx := i + len(token)
		afterOK := afterIdx >= len(s) || !isWordChar(s[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		idx = i + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Context recursively cleans every string in a narrator context object.
// Maps and slices are walked; other values pass through untouched.
func Context(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return Clean(val, MaxGenericLength)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Context(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Context(item)
		}
		return out
	default:
		return v
	}
}
