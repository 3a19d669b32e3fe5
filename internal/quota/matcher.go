package quota

import (
	"regexp"
	"strings"
)

// MatchDomain reports whether an email domain matches a pattern. The domain
// is expected lower-cased (Principal.EmailDomain lower-cases already).
// Patterns, tried in order:
//
//  1. Exact equality.
//  2. "*.base" matches base itself or any subdomain of base.
//  3. "regex:..." compiles the remainder and matches from the start of the
//     domain; a bad or non-matching regex yields no match.
//  4. A comma-separated list matches if any trimmed sub-pattern matches.
//
// The function is pure and total: empty patterns return false, nothing
// panics.
func MatchDomain(domain, pattern string) bool {
	if domain == "" || pattern == "" {
		return false
	}

	if domain == pattern {
		return true
	}

	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return domain == base || strings.HasSuffix(domain, "."+base)
	}

	if expr, ok := strings.CutPrefix(pattern, "regex:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		loc := re.FindStringIndex(domain)
		return loc != nil && loc[0] == 0
	}

	if strings.Contains(pattern, ",") {
		for _, sub := range strings.Split(pattern, ",") {
			if MatchDomain(domain, strings.TrimSpace(sub)) {
				return true
			}
		}
	}

	return false
}
