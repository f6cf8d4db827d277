package util

import (
	"regexp"
	"strings"
)

var (
	reSpaces    = regexp.MustCompile(`\s+`)
	reSeparator = regexp.MustCompile(`[\s\-_/.,:;]+`)

	// Identifier-shaped tokens as they appear in subject/body text.
	// Containers follow the ISO 6346 shape (4 letters + 7 digits); booking
	// and B/L references are looser alphanumeric runs with at least a few
	// digits in them.
	reContainerToken = regexp.MustCompile(`\b[A-Z]{4}\s?\d{7}\b`)
	reRefToken       = regexp.MustCompile(`\b[A-Z]{0,4}\d{6,12}[A-Z]{0,3}\b`)
)

// NormalizeIdentifier upcases and strips separators so that values like
// "maeu-1234567" and "MAEU 1234567" index and look up identically. Returns ""
// for values with no alphanumeric payload, which callers treat as malformed.
func NormalizeIdentifier(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = reSeparator.ReplaceAllString(s, "")
	out := strings.Builder{}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// ExtractReferenceTokens pulls identifier-shaped tokens out of free text and
// returns them normalized. Used by the cross-link validator, which must apply
// the exact same normalization as the resolver's index lookups.
func ExtractReferenceTokens(text string) []string {
	upper := strings.ToUpper(text)
	seen := map[string]struct{}{}
	out := []string{}

	add := func(tok string) {
		norm := NormalizeIdentifier(tok)
		if len(norm) < 6 {
			return
		}
		if _, ok := seen[norm]; ok {
			return
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}

	for _, tok := range reContainerToken.FindAllString(upper, -1) {
		add(tok)
	}
	for _, tok := range reRefToken.FindAllString(upper, -1) {
		add(tok)
	}
	return out
}

// LooksLikeContainer reports whether a normalized value has the ISO 6346
// owner-code + serial shape.
func LooksLikeContainer(normalized string) bool {
	if len(normalized) != 11 {
		return false
	}
	for i, r := range normalized {
		if i < 4 {
			if r < 'A' || r > 'Z' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ReplyDepth counts leading RE:/FW:/FWD: markers on a subject line. The depth
// only seeds thread-position ordering; it never decides duplication.
func ReplyDepth(subject string) int {
	s := strings.TrimSpace(subject)
	depth := 0
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		default:
			return depth
		}
		depth++
	}
}
