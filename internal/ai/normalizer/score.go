package normalizer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fractionPattern     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:/|out of)\s*(\d+(?:\.\d+)?)`)
	outOf100Pattern     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:/|out of)\s*100\b`)
	outOf10Pattern      = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:/|out of)\s*10\b`)
	percentPattern      = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:%|percent\b)`)
	scoreLinePattern    = regexp.MustCompile(`(?i)\b(?:overall |final |total )?(?:score|grade|rating|mark)\b[ \t*]*(?:is|of|:|=|-|–)?[ \t*]*(\d+(?:\.\d+)?)(?:[ \t]*(?:/|out of)[ \t]*(\d+(?:\.\d+)?)|[ \t]*(%))?`)
	letterLinePattern   = regexp.MustCompile(`(?i:\b(?:overall |final )?(?:grade|score)\b)[ \t*]*(?:(?i:is)|:|=|-|–)?[ \t*]*([A-F][+-]?)(?:[^A-Za-z0-9+-]|$)`)
	letterPhrasePattern = regexp.MustCompile(`\b(?:[Aa]n?|[Tt]he)\s+([A-F][+-]?)\s+(?i:grade|paper|essay|submission|work|level)\b`)
)

var letterGrades = map[string]float64{
	"A+": 98, "A": 95, "A-": 91,
	"B+": 88, "B": 85, "B-": 81,
	"C+": 78, "C": 75, "C-": 71,
	"D+": 68, "D": 65, "D-": 61,
	"F": 50,
}

func letterGradeScore(s string) (float64, bool) {
	v, ok := letterGrades[strings.ToUpper(strings.TrimSpace(s))]
	return v, ok
}

// fractionValue converts num/den to a 0-100 score. A numerator above the
// denominator is not a score.
func fractionValue(numStr, denStr string) (float64, bool) {
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	den, err := strconv.ParseFloat(denStr, 64)
	if err != nil || den <= 0 || num > den {
		return 0, false
	}
	return clampScore(num / den * 100), true
}

// sentimentScore is a smoothed positive ratio; no signal at all gives 50.
func sentimentScore(pos, neg int) float64 {
	return clampScore(float64(pos+1) / float64(pos+neg+2) * 100)
}

// deriveScore looks for an explicit score in free text. The boolean result is
// false when nothing explicit was found.
func deriveScore(text string, opts Options) (float64, bool) {
	for _, m := range scoreLinePattern.FindAllStringSubmatch(text, -1) {
		if v, ok := scoreLineValue(m); ok {
			return v, true
		}
	}
	if m := letterLinePattern.FindStringSubmatch(text); m != nil {
		if v, ok := letterGradeScore(m[1]); ok {
			return v, true
		}
	}

	body := withoutCriteriaLines(text, opts.Criteria)
	for _, m := range outOf100Pattern.FindAllStringSubmatch(body, -1) {
		if v, ok := fractionValue(m[1], "100"); ok {
			return v, true
		}
	}
	for _, m := range outOf10Pattern.FindAllStringSubmatch(body, -1) {
		if v, ok := fractionValue(m[1], "10"); ok {
			return v, true
		}
	}
	for _, m := range percentPattern.FindAllStringSubmatch(body, -1) {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f <= 100 {
			return clampScore(f), true
		}
	}
	if m := letterPhrasePattern.FindStringSubmatch(text); m != nil {
		if v, ok := letterGradeScore(m[1]); ok {
			return v, true
		}
	}
	return 0, false
}

func scoreLineValue(m []string) (float64, bool) {
	switch {
	case m[2] != "":
		return fractionValue(m[1], m[2])
	case m[3] != "":
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil || f > 100 {
			return 0, false
		}
		return clampScore(f), true
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil || f > 100 {
		return 0, false
	}
	// A bare "Score: 8" is read on a ten point scale.
	if f <= 10 {
		f *= 10
	}
	return clampScore(f), true
}

func withoutCriteriaLines(text string, criteria []string) string {
	if len(criteria) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(line)
		skip := false
		for _, c := range criteria {
			if c != "" && strings.Contains(lower, strings.ToLower(c)) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
