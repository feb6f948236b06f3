package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonical feedback keys.
const (
	KeyStrengths      = "strengths"
	KeyImprovements   = "improvements"
	KeySuggestions    = "suggestions"
	KeySummary        = "summary"
	KeyScore          = "score"
	KeyCriteriaScores = "criteria_scores"
)

type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score,omitempty"`
	Comment   string  `json:"comment,omitempty"`
}

// Feedback is the fixed shape every strategy has to produce.
type Feedback struct {
	Strengths      []string         `json:"strengths"`
	Improvements   []string         `json:"improvements"`
	Suggestions    []string         `json:"suggestions"`
	Summary        string           `json:"summary"`
	Score          float64          `json:"score"`
	CriteriaScores []CriterionScore `json:"criteria_scores,omitempty"`
}

type Result struct {
	Feedback Feedback
	Strategy string
	// Fields lists the canonical keys that were actually present in the source.
	Fields []string
	// ScoreFound is true only when the source stated a usable overall score.
	ScoreFound bool
	// ScoreEstimated marks a Score taken from the sentiment estimate of prose.
	ScoreEstimated bool
}

// HasField reports whether key was present in the parsed source.
func (r *Result) HasField(key string) bool {
	for _, f := range r.Fields {
		if f == key {
			return true
		}
	}
	return false
}

var (
	errNoFeedbackKeys = errors.New("object has no feedback keys")
	errNotObject      = errors.New("json value is not an object")
)

var keyAliases = map[string]string{
	"strengths":           KeyStrengths,
	"strength":            KeyStrengths,
	"positives":           KeyStrengths,
	"whatwentwell":        KeyStrengths,
	"improvements":        KeyImprovements,
	"improvement":         KeyImprovements,
	"areasforimprovement": KeyImprovements,
	"areasofimprovement":  KeyImprovements,
	"weaknesses":          KeyImprovements,
	"suggestions":         KeySuggestions,
	"suggestion":          KeySuggestions,
	"recommendations":     KeySuggestions,
	"nextsteps":           KeySuggestions,
	"summary":             KeySummary,
	"overallfeedback":     KeySummary,
	"overallcomment":      KeySummary,
	"overallcomments":     KeySummary,
	"feedbacksummary":     KeySummary,
	"score":               KeyScore,
	"overallscore":        KeyScore,
	"totalscore":          KeyScore,
	"finalscore":          KeyScore,
	"grade":               KeyScore,
	"criteriascores":      KeyCriteriaScores,
	"criterionscores":     KeyCriteriaScores,
	"rubricscores":        KeyCriteriaScores,
	"criteria":            KeyCriteriaScores,
}

// wrapperKeys hold the feedback object one level down in some responses.
var wrapperKeys = []string{"feedback", "result", "evaluation", "data", "response", "output", "grading"}

func foldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func canonicalKey(k string) string {
	return keyAliases[foldKey(k)]
}

// aliasRank orders keys that map to the same field: the exact canonical
// spelling first, then its case and separator variants, then other aliases.
func aliasRank(k string) int {
	canonical := canonicalKey(k)
	switch {
	case k == canonical:
		return 0
	case foldKey(k) == foldKey(canonical):
		return 1
	default:
		return 2
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := aliasRank(keys[i]), aliasRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// decodeFeedback parses s as a JSON document and coerces it into Feedback.
func decodeFeedback(s string) (*Result, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return feedbackFromValue(v, 0)
}

func feedbackFromValue(v any, depth int) (*Result, error) {
	switch t := v.(type) {
	case map[string]any:
		return feedbackFromMap(t, depth)
	case []any:
		// Some models wrap the object in a single-element array.
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return feedbackFromMap(m, depth)
			}
		}
		return nil, errNotObject
	default:
		return nil, errNotObject
	}
}

func feedbackFromMap(m map[string]any, depth int) (*Result, error) {
	fields := make(map[string]any)
	for _, k := range sortedKeys(m) {
		if key := canonicalKey(k); key != "" {
			if _, dup := fields[key]; !dup {
				fields[key] = m[k]
			}
		}
	}

	if !hasFeedbackKeys(fields) {
		if depth < 3 {
			for _, wk := range wrapperKeys {
				inner, ok := lookupFold(m, wk)
				if !ok {
					continue
				}
				if s, isString := inner.(string); isString {
					var decoded any
					if err := json.Unmarshal([]byte(s), &decoded); err != nil {
						continue
					}
					inner = decoded
				}
				if res, err := feedbackFromValue(inner, depth+1); err == nil {
					return res, nil
				}
			}
		}
		return nil, errNoFeedbackKeys
	}

	res := &Result{Feedback: emptyFeedback()}
	for key, raw := range fields {
		switch key {
		case KeyStrengths:
			res.Feedback.Strengths = toStringList(raw)
		case KeyImprovements:
			res.Feedback.Improvements = toStringList(raw)
		case KeySuggestions:
			res.Feedback.Suggestions = toStringList(raw)
		case KeySummary:
			res.Feedback.Summary = toText(raw)
		case KeyScore:
			// null, "N/A" и прочее считаем отсутствующей оценкой
			score, ok := toScore(raw)
			if !ok {
				continue
			}
			res.Feedback.Score = score
			res.ScoreFound = true
		case KeyCriteriaScores:
			res.Feedback.CriteriaScores = toCriteria(raw)
		}
		res.Fields = append(res.Fields, key)
	}
	sort.Strings(res.Fields)
	return res, nil
}

// hasFeedbackKeys rejects objects that only carry a score, such as a single
// criterion entry cut out of a larger response.
func hasFeedbackKeys(fields map[string]any) bool {
	for _, k := range []string{KeyStrengths, KeyImprovements, KeySuggestions, KeySummary, KeyCriteriaScores} {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.EqualFold(k, key) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, false
	}
	sort.Strings(keys)
	return m[keys[0]], true
}

func emptyFeedback() Feedback {
	return Feedback{
		Strengths:    []string{},
		Improvements: []string{},
		Suggestions:  []string{},
	}
}

func toStringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
	case string:
		out = append(out, splitItems(t)...)
	case []any:
		for _, item := range t {
			if s := toText(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := toText(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var itemTextKeys = []string{"text", "point", "description", "item", "detail", "comment", "feedback", "suggestion", "strength", "improvement"}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, k := range itemTextKeys {
			if inner, ok := lookupFold(t, k); ok {
				if s := toText(inner); s != "" {
					return s
				}
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := toText(t[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// toScore accepts numbers and strings like "85", "8/10", "85%" or "B+".
func toScore(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return clampScore(t), true
	case string:
		return parseScoreString(t)
	case map[string]any:
		for _, k := range []string{"value", "score", "overall", "total"} {
			if inner, ok := lookupFold(t, k); ok {
				return toScore(inner)
			}
		}
	}
	return 0, false
}

func parseScoreString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if m := fractionPattern.FindStringSubmatch(s); m != nil {
		if v, ok := fractionValue(m[1], m[2]); ok {
			return v, true
		}
	}
	if strings.HasSuffix(s, "%") {
		if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64); err == nil {
			return clampScore(f), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return clampScore(f), true
	}
	if v, ok := letterGradeScore(s); ok {
		return v, true
	}
	return 0, false
}

func toCriteria(v any) []CriterionScore {
	var out []CriterionScore
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if c, ok := criterionFromMap("", m); ok {
				out = append(out, c)
			}
		}
	case map[string]any:
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			switch val := t[name].(type) {
			case map[string]any:
				if c, ok := criterionFromMap(name, val); ok {
					out = append(out, c)
				}
			default:
				if score, ok := toCriterionScore(val); ok {
					out = append(out, CriterionScore{Criterion: strings.TrimSpace(name), Score: score})
				}
			}
		}
	}
	return out
}

func criterionFromMap(name string, m map[string]any) (CriterionScore, bool) {
	c := CriterionScore{Criterion: strings.TrimSpace(name)}
	if c.Criterion == "" {
		for _, k := range []string{"criterion", "name", "criteria", "title", "id"} {
			if v, ok := lookupFold(m, k); ok {
				if s := toText(v); s != "" {
					c.Criterion = s
					break
				}
			}
		}
	}
	if c.Criterion == "" {
		return c, false
	}

	found := false
	for _, k := range []string{"score", "points", "value", "earned"} {
		if v, ok := lookupFold(m, k); ok {
			if score, ok := toCriterionScore(v); ok {
				c.Score = score
				found = true
				break
			}
		}
	}
	if !found {
		return c, false
	}
	for _, k := range []string{"max_score", "maxScore", "max", "out_of", "max_points", "possible"} {
		if v, ok := lookupFold(m, k); ok {
			if maxScore, ok := toCriterionScore(v); ok {
				c.MaxScore = maxScore
				break
			}
		}
	}
	for _, k := range []string{"comment", "feedback", "justification", "rationale", "reason"} {
		if v, ok := lookupFold(m, k); ok {
			if s := toText(v); s != "" {
				c.Comment = s
				break
			}
		}
	}
	return c, true
}

// toCriterionScore keeps raw points; only the overall score lives on the 0-100 scale.
func toCriterionScore(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return math.Max(0, t), true
	case string:
		s := strings.TrimSpace(t)
		if m := fractionPattern.FindStringSubmatch(s); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				return math.Max(0, f), true
			}
		}
		if f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return math.Max(0, f), true
		}
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
