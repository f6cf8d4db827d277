package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"shiplink/internal"
	"shiplink/internal/util"
)

// Lines dropped before fingerprinting: signatures, legal footers and mail
// client noise churn between copies of the same document and must not break
// fingerprint equality.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^--+$`),
	regexp.MustCompile(`^_{5,}$`),
	regexp.MustCompile(`(?i)^(best |kind )?regards`),
	regexp.MustCompile(`(?i)^sent from my`),
	regexp.MustCompile(`(?i)^tel[:\s]`),
	regexp.MustCompile(`(?i)^e-?mail[:\s]`),
	regexp.MustCompile(`(?i)^this (e-?mail|message) (and any attachments )?(is|are) confidential`),
	regexp.MustCompile(`(?i)^disclaimer`),
	regexp.MustCompile(`(?i)^unsubscribe`),
	regexp.MustCompile(`^>`),
	regexp.MustCompile(`(?i)^on .* wrote:$`),
	regexp.MustCompile(`(?i)^from:.*@`),
	regexp.MustCompile(`(?i)^http`),
}

// NormalizeBody flattens a document body for fingerprinting: HTML is reduced
// to text, volatile boilerplate and quoted replies are dropped, whitespace is
// collapsed and the result lowercased.
func NormalizeBody(body string) string {
	text := body
	if looksLikeHTML(body) {
		if flat, ok := htmlToText(body); ok {
			text = flat
		}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = util.NormalizeSpaces(line)
		if line == "" || isBoilerplate(line) {
			continue
		}
		kept = append(kept, strings.ToLower(line))
	}
	return strings.Join(kept, "\n")
}

// Fingerprint hashes the normalized body. Body-less documents fall back to
// type plus subject so they can still group within a thread.
func Fingerprint(doc internal.ClassifiedDocument) string {
	content := NormalizeBody(doc.BodyText)
	if content == "" {
		content = doc.DocumentType + "\x00" + strings.ToLower(util.NormalizeSpaces(doc.Subject))
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NormalizeIdentifiers fills in the Normalized field on every candidate and
// reports how many values were malformed (empty after normalization).
func NormalizeIdentifiers(candidates []internal.IdentifierCandidate) ([]internal.IdentifierCandidate, int) {
	out := make([]internal.IdentifierCandidate, 0, len(candidates))
	skipped := 0
	for _, cand := range candidates {
		cand.Normalized = util.NormalizeIdentifier(cand.RawValue)
		if cand.Normalized == "" {
			skipped++
			continue
		}
		out = append(out, cand)
	}
	return out, skipped
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<table") ||
		strings.Contains(lower, "<p>") || strings.Contains(lower, "<br")
}

var reBlockEnd = regexp.MustCompile(`(?i)<(br|hr)\s*/?>|</(p|div|tr|li|h[1-6]|table)>`)

func htmlToText(html string) (string, bool) {
	// goquery's Text() joins nodes without separators, so block boundaries
	// are turned into newlines up front.
	withBreaks := reBlockEnd.ReplaceAllString(html, "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withBreaks))
	if err != nil {
		return "", false
	}
	doc.Find("style,script,head").Remove()
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func isBoilerplate(line string) bool {
	for _, re := range boilerplatePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
