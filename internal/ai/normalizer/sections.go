package normalizer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	sectionHeaderPattern = regexp.MustCompile(`(?im)^[ \t>#]*(?:\*\*|__)?[ \t]*(strengths?|what (?:went|was done) well|positives?|areas? (?:for|of|to) improvement|improvements?|weakness(?:es)?|suggestions?|recommendations?|next steps|summary|overall(?: feedback| comments?| assessment)?|(?:overall |final )?(?:score|grade))[ \t]*(?:\*\*|__)?[ \t]*(?:[:\-–](?:[ \t]*(?:\*\*|__))?|$)`)

	positivePattern   = regexp.MustCompile(`(?i)\b(excellent|good|great|strong|strengths?|well|clear|clearly|effective|effectively|impressive|thorough|insightful|solid|creative|accurate|organized|compelling|concise|detailed|commendable|coherent|persuasive)\b`)
	negativePattern   = regexp.MustCompile(`(?i)\b(weak|weakness(?:es)?|lacks?|lacking|missing|unclear|poor|poorly|errors?|incorrect|confusing|insufficient|vague|incomplete|inconsistent|mistakes?|problems?|issues?|fails?|needs? (?:work|improvement|more)|could be (?:improved|better|stronger))\b`)
	suggestionPattern = regexp.MustCompile(`(?i)\b(should|consider|try|recommend(?:ed)?|suggest(?:ed)?|might want to|next time|in the future)\b`)

	errNoStructure     = errors.New("no recognizable feedback structure in text")
	errJSONNotFeedback = errors.New("text is json without feedback keys")
)

type section struct {
	field   string
	content string
}

// parseSections is the last resort for prose responses: it reads
// "Strengths:"-style headers, classifies loose sentences by keyword and
// estimates a score. It fails rather than return an empty result.
func parseSections(text string, opts Options) (*Result, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyResponse
	}

	if looksLikeJSON(text) {
		return nil, errJSONNotFeedback
	}

	res := &Result{Feedback: emptyFeedback()}
	present := map[string]bool{}

	preamble, sections := splitSections(text)
	for _, sec := range sections {
		var items []string
		switch sec.field {
		case KeyStrengths:
			items = splitItems(sec.content)
			res.Feedback.Strengths = append(res.Feedback.Strengths, items...)
		case KeyImprovements:
			items = splitItems(sec.content)
			res.Feedback.Improvements = append(res.Feedback.Improvements, items...)
		case KeySuggestions:
			items = splitItems(sec.content)
			res.Feedback.Suggestions = append(res.Feedback.Suggestions, items...)
		case KeySummary:
			if s := cleanItem(sec.content); s != "" {
				res.Feedback.Summary = joinNonEmpty(res.Feedback.Summary, s)
				items = []string{s}
			}
		case KeyScore:
			// deriveScore reads the whole text.
			continue
		}
		// Пустой заголовок не считается полем
		if len(items) > 0 {
			present[sec.field] = true
		}
	}

	classified := 0
	if len(sections) == 0 {
		for _, sentence := range splitSentences(text) {
			if scoreLinePattern.MatchString(sentence) {
				continue
			}
			switch classifySentence(sentence) {
			case KeySuggestions:
				res.Feedback.Suggestions = append(res.Feedback.Suggestions, sentence)
				present[KeySuggestions] = true
			case KeyStrengths:
				res.Feedback.Strengths = append(res.Feedback.Strengths, sentence)
				present[KeyStrengths] = true
			case KeyImprovements:
				res.Feedback.Improvements = append(res.Feedback.Improvements, sentence)
				present[KeyImprovements] = true
			default:
				continue
			}
			classified++
		}
	}

	if res.Feedback.Summary == "" {
		source := preamble
		if len(sections) == 0 {
			source = text
		}
		if summary := leadingSentences(source, 2); summary != "" {
			res.Feedback.Summary = summary
			present[KeySummary] = true
		}
	}

	res.Feedback.CriteriaScores = criteriaFromText(text, opts.Criteria)
	if len(res.Feedback.CriteriaScores) > 0 {
		present[KeyCriteriaScores] = true
	}

	score, explicit := deriveScore(text, opts)
	if !explicit && (len(sections) == 0 && classified == 0 || !hasContent(res.Feedback)) {
		return nil, errNoStructure
	}
	if explicit {
		present[KeyScore] = true
	} else {
		pos := len(positivePattern.FindAllString(text, -1))
		neg := len(negativePattern.FindAllString(text, -1))
		score = sentimentScore(pos, neg)
	}
	res.Feedback.Score = clampScore(score)
	res.ScoreFound = explicit
	res.ScoreEstimated = !explicit

	for _, k := range []string{KeyCriteriaScores, KeyImprovements, KeyScore, KeyStrengths, KeySuggestions, KeySummary} {
		if present[k] {
			res.Fields = append(res.Fields, k)
		}
	}
	return res, nil
}

func splitSections(text string) (string, []section) {
	locs := sectionHeaderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}
	sections := make([]section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{
			field:   headerField(text[loc[2]:loc[3]]),
			content: text[loc[1]:end],
		})
	}
	return text[:locs[0][0]], sections
}

func headerField(header string) string {
	h := strings.ToLower(header)
	switch {
	case strings.HasPrefix(h, "strength"), strings.HasPrefix(h, "what "), strings.HasPrefix(h, "positive"):
		return KeyStrengths
	case strings.Contains(h, "improvement"), strings.HasPrefix(h, "weakness"):
		return KeyImprovements
	case strings.HasPrefix(h, "suggestion"), strings.HasPrefix(h, "recommendation"), strings.HasPrefix(h, "next steps"):
		return KeySuggestions
	case strings.HasSuffix(h, "score"), strings.HasSuffix(h, "grade"):
		return KeyScore
	default:
		return KeySummary
	}
}

// classifySentence is keyword based and only best effort.
func classifySentence(s string) string {
	if suggestionPattern.MatchString(s) {
		return KeySuggestions
	}
	pos := len(positivePattern.FindAllString(s, -1))
	neg := len(negativePattern.FindAllString(s, -1))
	switch {
	case neg > pos:
		return KeyImprovements
	case pos > neg:
		return KeyStrengths
	default:
		return ""
	}
}

func leadingSentences(text string, n int) string {
	sentences := splitSentences(text)
	var kept []string
	for _, s := range sentences {
		if bulletPattern.MatchString(s) || scoreLinePattern.MatchString(s) {
			continue
		}
		kept = append(kept, s)
		if len(kept) == n {
			break
		}
	}
	return strings.Join(kept, " ")
}

// criteriaFromText only reports criteria that are named in the text, each
// followed by a number such as "Thesis: 8/10".
func criteriaFromText(text string, criteria []string) []CriterionScore {
	var out []CriterionScore
	for _, name := range criteria {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		re, err := regexp.Compile(`(?im)^[^\n]*?\b` + regexp.QuoteMeta(name) + `\b[^\n\d]*?[:\-–][ \t*]*(\d+(?:\.\d+)?)(?:[ \t]*(?:/|out of)[ \t]*(\d+(?:\.\d+)?))?`)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		c := CriterionScore{Criterion: name, Score: score}
		if m[2] != "" {
			if maxScore, err := strconv.ParseFloat(m[2], 64); err == nil {
				c.MaxScore = maxScore
			}
		}
		out = append(out, c)
	}
	return out
}

// looksLikeJSON is true for JSON the earlier strategies already rejected;
// its keys and values are not prose to classify.
func looksLikeJSON(text string) bool {
	t := strings.TrimSpace(stripFences(text))
	return strings.HasPrefix(t, "{") || json.Valid([]byte(t))
}

func hasContent(f Feedback) bool {
	return len(f.Strengths) > 0 || len(f.Improvements) > 0 || len(f.Suggestions) > 0 || f.Summary != ""
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
