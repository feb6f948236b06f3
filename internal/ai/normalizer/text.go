package normalizer

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	bulletPattern     = regexp.MustCompile(`^\s*(?:[-*•·▪◦]|\d{1,2}[.)])\s+(.+)$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

var abbreviations = []string{"e.g.", "i.e.", "etc.", "vs.", "dr.", "mr.", "mrs.", "ms.", "approx."}

// splitItems turns a block of text into list items, using bullet or number
// markers when present and sentence boundaries otherwise.
func splitItems(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	bulleted := false
	for _, line := range lines {
		if bulletPattern.MatchString(line) {
			bulleted = true
			break
		}
	}
	if !bulleted {
		return splitSentences(text)
	}

	var items []string
	for _, line := range lines {
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			if item := cleanItem(m[1]); item != "" {
				items = append(items, item)
			}
			continue
		}
		trimmed := cleanItem(line)
		if trimmed == "" {
			continue
		}
		if len(items) > 0 {
			items[len(items)-1] += " " + trimmed
		} else {
			items = append(items, trimmed)
		}
	}
	return items
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := cleanItem(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if endsWithAbbreviation(cur.String()) {
			continue
		}
		flush()
	}
	flush()
	return out
}

func endsWithAbbreviation(s string) bool {
	lower := strings.ToLower(s)
	for _, a := range abbreviations {
		if strings.HasSuffix(lower, a) {
			return true
		}
	}
	return false
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`\"")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
