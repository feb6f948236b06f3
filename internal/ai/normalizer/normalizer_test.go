package normalizer

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeedback() Feedback {
	return Feedback{
		Strengths:    []string{"Clear thesis", "Strong evidence"},
		Improvements: []string{"Transitions are abrupt"},
		Suggestions:  []string{"Add a counterargument"},
		Summary:      "Solid essay overall.",
		Score:        86,
		CriteriaScores: []CriterionScore{
			{Criterion: "Thesis", Score: 9, MaxScore: 10, Comment: "Precise"},
			{Criterion: "Evidence", Score: 8, MaxScore: 10},
		},
	}
}

func TestNormalize_DirectParseIsIdempotent(t *testing.T) {
	n := New()
	want := sampleFeedback()

	data, err := json.Marshal(want)
	require.NoError(t, err)

	res, err := n.Normalize(string(data))
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Equal(t, want, res.Feedback)
	assert.True(t, res.ScoreFound)

	again, err := json.Marshal(res.Feedback)
	require.NoError(t, err)
	res2, err := n.Normalize(string(again))
	require.NoError(t, err)
	assert.Equal(t, res.Feedback, res2.Feedback)
}

func TestNormalize_FencedMatchesUnfenced(t *testing.T) {
	n := New()
	data, err := json.Marshal(sampleFeedback())
	require.NoError(t, err)

	plain, err := n.Normalize(string(data))
	require.NoError(t, err)

	for _, wrapped := range []string{
		"```json\n" + string(data) + "\n```",
		"Here is the evaluation:\n```json\n" + string(data) + "\n```\nLet me know if you need more.",
		"```\n" + string(data) + "```",
	} {
		res, err := n.Normalize(wrapped)
		require.NoError(t, err)
		assert.Equal(t, StrategyFenced, res.Strategy)
		assert.Equal(t, plain.Feedback, res.Feedback)
	}
}

func TestNormalize_CandidatesPicksLargestWithFeedbackKeys(t *testing.T) {
	text := `Sure! Config used: {"note": "ignore me"}. The result is {"strengths": ["Vivid imagery"], "summary": "Engaging story", "score": 70} hope it helps`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategyCandidates, res.Strategy)
	assert.Equal(t, []string{"Vivid imagery"}, res.Feedback.Strengths)
	assert.Equal(t, "Engaging story", res.Feedback.Summary)
	assert.Equal(t, 70.0, res.Feedback.Score)
}

func TestNormalize_RepairDoesNotFabricateFields(t *testing.T) {
	text := `{"strengths": ["Clear thesis", "Good evidence"], "improvements": ["Weak conclusion"], "summary": "A solid draft that`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategyRepair, res.Strategy)
	assert.Equal(t, []string{KeyImprovements, KeyStrengths, KeySummary}, res.Fields)
	for _, f := range res.Fields {
		assert.Contains(t, text, `"`+f+`"`)
	}
	assert.Equal(t, []string{"Clear thesis", "Good evidence"}, res.Feedback.Strengths)
	assert.Equal(t, "A solid draft that", res.Feedback.Summary)
	assert.Empty(t, res.Feedback.Suggestions)
	assert.Nil(t, res.Feedback.CriteriaScores)
	assert.False(t, res.ScoreFound)
	assert.Zero(t, res.Feedback.Score)
}

func TestNormalize_RepairDropsIncompleteCriterion(t *testing.T) {
	text := `{"summary": "Good", "score": 72, "criteria_scores": [{"criterion": "Thesis", "score": 8}, {"criterion": "Evid`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategyRepair, res.Strategy)
	assert.Equal(t, 72.0, res.Feedback.Score)
	assert.Equal(t, []CriterionScore{{Criterion: "Thesis", Score: 8}}, res.Feedback.CriteriaScores)
}

func TestNormalize_RepairQuotesBareKeysAndStripsTrailingCommas(t *testing.T) {
	text := `{strengths: ["Organized",], summary: "Nice work", score: 80,}`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategyRepair, res.Strategy)
	assert.Equal(t, []string{"Organized"}, res.Feedback.Strengths)
	assert.Equal(t, "Nice work", res.Feedback.Summary)
	assert.Equal(t, 80.0, res.Feedback.Score)
}

func TestNormalize_SectionsWithHeaders(t *testing.T) {
	text := `Overall this is a thoughtful essay with a clear argument.

Strengths:
- Clear thesis statement
- Strong use of evidence

Areas for Improvement:
1. The conclusion is weak
2. Some citations are missing

Suggestions:
* Add a counterargument paragraph

Score: 8/10`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategySections, res.Strategy)
	assert.Equal(t, []string{"Clear thesis statement", "Strong use of evidence"}, res.Feedback.Strengths)
	assert.Equal(t, []string{"The conclusion is weak", "Some citations are missing"}, res.Feedback.Improvements)
	assert.Equal(t, []string{"Add a counterargument paragraph"}, res.Feedback.Suggestions)
	assert.Equal(t, "Overall this is a thoughtful essay with a clear argument.", res.Feedback.Summary)
	assert.Equal(t, 80.0, res.Feedback.Score)
	assert.True(t, res.ScoreFound)
}

func TestNormalize_SectionsClassifiesLooseSentences(t *testing.T) {
	text := "The essay is well organized and the argument is clear. However, the conclusion is weak and some evidence is missing. You should consider adding more sources."

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategySections, res.Strategy)
	assert.Equal(t, []string{"The essay is well organized and the argument is clear."}, res.Feedback.Strengths)
	assert.Equal(t, []string{"However, the conclusion is weak and some evidence is missing."}, res.Feedback.Improvements)
	assert.Equal(t, []string{"You should consider adding more sources."}, res.Feedback.Suggestions)
	assert.False(t, res.ScoreFound)
	assert.InDelta(t, 57.14, res.Feedback.Score, 0.01)
}

func TestNormalize_SectionsScoreSources(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "letter grade", text: "Strengths:\n- Engaging hook\n\nGrade: B+", want: 88},
		{name: "out of hundred in prose", text: "Strengths:\n- Good structure\nI would rate this 72/100 overall.", want: 72},
		{name: "percent", text: "Improvements:\n- Needs more detail\nRoughly 64% of the rubric is met.", want: 64},
		{name: "bare ten point score", text: "Summary: fine work\nScore: 7", want: 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New().Normalize(tt.text)
			require.NoError(t, err)
			assert.Equal(t, StrategySections, res.Strategy)
			assert.InDelta(t, tt.want, res.Feedback.Score, 0.001)
		})
	}
}

func TestNormalize_FallbackScoreAlwaysInRange(t *testing.T) {
	texts := []string{
		"Score: 250/100\nStrengths:\n- ok",
		"Score: 150\nSummary: Decent effort",
		"Excellent excellent excellent great strong work.",
		"Weak, unclear, incomplete and confusing. Poor errors everywhere.",
		"Strengths:\n- Nothing stands out",
		"Grade: F",
		"Summary: 99.5% complete",
	}
	for _, text := range texts {
		res, err := New().Normalize(text)
		require.NoError(t, err, text)
		assert.GreaterOrEqual(t, res.Feedback.Score, 0.0, text)
		assert.LessOrEqual(t, res.Feedback.Score, 100.0, text)
	}
}

func TestNormalize_UnparseableReturnsParseError(t *testing.T) {
	for _, text := range []string{"", "   ", "lorem ipsum dolor sit amet", "{{{{", "```\n```"} {
		res, err := New().Normalize(text)
		require.Error(t, err, text)
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrUnparseable))

		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, text, pe.Raw)
		assert.Len(t, pe.Attempts, len(Strategies()))
	}
}

func TestNormalize_WrapperObjectsAndAliases(t *testing.T) {
	text := `{"feedback": {"Strengths": "Clear structure. Good examples.", "areas_for_improvement": ["Citations"], "next_steps": [], "overall_feedback": "Good", "overall_score": "85%"}}`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Equal(t, []string{"Clear structure.", "Good examples."}, res.Feedback.Strengths)
	assert.Equal(t, []string{"Citations"}, res.Feedback.Improvements)
	assert.Equal(t, []string{}, res.Feedback.Suggestions)
	assert.Equal(t, "Good", res.Feedback.Summary)
	assert.Equal(t, 85.0, res.Feedback.Score)
}

func TestNormalize_CriteriaMapVariant(t *testing.T) {
	text := `{"summary": "ok", "score": "8/10", "criteria_scores": {"Thesis": 4, "Evidence": {"score": "3/5", "comment": "thin"}}}`

	res, err := New().Normalize(text)
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.Feedback.Score)
	assert.Equal(t, []CriterionScore{
		{Criterion: "Evidence", Score: 3, Comment: "thin"},
		{Criterion: "Thesis", Score: 4},
	}, res.Feedback.CriteriaScores)
}

func TestNormalize_CriteriaFromProse(t *testing.T) {
	text := "Summary: Decent work.\nThesis: 7/10\nEvidence - 6 out of 10\nScore: 65/100"

	res, err := New().NormalizeWithOptions(text, Options{Criteria: []string{"Thesis", "Evidence", "Style"}})
	require.NoError(t, err)
	assert.Equal(t, StrategySections, res.Strategy)
	assert.Equal(t, 65.0, res.Feedback.Score)
	assert.Equal(t, []CriterionScore{
		{Criterion: "Thesis", Score: 7, MaxScore: 10},
		{Criterion: "Evidence", Score: 6, MaxScore: 10},
	}, res.Feedback.CriteriaScores)
}

func TestNormalize_CustomChain(t *testing.T) {
	n := NewWithStrategies([]Strategy{{Name: StrategyDirect, Parse: parseDirect}})
	_, err := n.Normalize("Strengths:\n- fine")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Attempts, 1)
	assert.True(t, strings.Contains(pe.Error(), "direct:"))
}

func TestCloseStructure(t *testing.T) {
	tests := map[string]string{
		`{"a": [1, 2}`:      `{"a": [1, 2]}`,
		`{"a": "tex`:        `{"a": "tex"}`,
		`{"a": 1,`:          `{"a": 1}`,
		`{"a": {"b": [true`: `{"a": {"b": [true]}}`,
		`{"a": 1}}`:         `{"a": 1}`,
		`{"a": "say \"hi\"`: `{"a": "say \"hi\""}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, closeStructure(in), in)
	}
}

func TestBraceCandidatesLargestFirst(t *testing.T) {
	got := braceCandidates(`x {"a": {"b": 1}} y {"c": "}"}`, 10)
	require.Len(t, got, 3)
	assert.Equal(t, `{"a": {"b": 1}}`, got[0])
	assert.Equal(t, `{"c": "}"}`, got[1])
	assert.Equal(t, `{"b": 1}`, got[2])
}

func TestNormalize_RepairDropsCutOffScalar(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantScore float64
		found     bool
	}{
		{name: "number cut mid digits", text: `{"strengths":["Vivid"],"summary":"Longer answer","score": 8`},
		{name: "literal cut short", text: `{"summary":"Longer answer","flagged": tru`},
		{name: "number closed by comma", text: `{"summary":"Longer answer","score": 85, "criteria_scores": [{"crit`, wantScore: 85, found: true},
		{name: "number closed by whitespace", text: "{\"summary\":\"Longer answer\",\"score\": 85\n", wantScore: 85, found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New().Normalize(tt.text)
			require.NoError(t, err)
			assert.Equal(t, StrategyRepair, res.Strategy)
			assert.Equal(t, "Longer answer", res.Feedback.Summary)
			assert.Equal(t, tt.found, res.ScoreFound)
			assert.Equal(t, tt.wantScore, res.Feedback.Score)
		})
	}
}

func TestEndsInBareScalar(t *testing.T) {
	tests := map[string]bool{
		`{"score": 8`:        true,
		`{"score": -`:        true,
		`{"ok": fals`:        true,
		`{"score": 8}`:       false,
		`{"summary": "8`:     false,
		`{"summary": "a\"b`:  false,
		`{"summary": "done"`: false,
		`{"score": 8 `:       false,
	}
	for in, want := range tests {
		assert.Equal(t, want, endsInBareScalar(in), in)
	}
}

func TestNormalize_MissingOrNullScoreIsNotFound(t *testing.T) {
	for _, text := range []string{
		`{"strengths":["Clear"],"summary":"Good","score":null}`,
		`{"strengths":["Clear"],"summary":"Good","score":"N/A"}`,
	} {
		res, err := New().Normalize(text)
		require.NoError(t, err, text)
		assert.Equal(t, StrategyDirect, res.Strategy, text)
		assert.False(t, res.ScoreFound, text)
		assert.False(t, res.ScoreEstimated, text)
		assert.Zero(t, res.Feedback.Score, text)
		assert.False(t, res.HasField(KeyScore), text)
		assert.Equal(t, "Good", res.Feedback.Summary, text)
	}
}

func TestNormalize_AliasResolutionIsDeterministic(t *testing.T) {
	text := `{"grade":"B","overall_feedback":"Alias summary","score":80,"summary":"Canonical summary","Strengths":["Upper"],"strengths":["Lower"]}`

	for i := 0; i < 100; i++ {
		res, err := New().Normalize(text)
		require.NoError(t, err)
		require.Equal(t, 80.0, res.Feedback.Score)
		require.Equal(t, "Canonical summary", res.Feedback.Summary)
		require.Equal(t, []string{"Lower"}, res.Feedback.Strengths)
	}
}

func TestNormalize_SectionsRejectsEmptyHeaders(t *testing.T) {
	for _, text := range []string{
		"Strengths:\nImprovements:\nSuggestions:",
		"**Strengths**\n\n**Areas for improvement**\n",
		"Score: 150",
	} {
		res, err := New().Normalize(text)
		require.Error(t, err, text)
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrUnparseable))
	}
}

func TestNormalize_SectionsOnlyMarksFilledHeaders(t *testing.T) {
	res, err := New().Normalize("Strengths:\n- Clear argument\nImprovements:\nScore: 7/10")
	require.NoError(t, err)
	assert.Equal(t, StrategySections, res.Strategy)
	assert.Equal(t, []string{KeyScore, KeyStrengths}, res.Fields)
	assert.Empty(t, res.Feedback.Improvements)
}

func TestNormalize_SectionsSkipsNonFeedbackJSON(t *testing.T) {
	for _, text := range []string{
		`{"error":{"message":"The request has errors and is missing a field","code":400}}`,
		`["not", "feedback"]`,
		"```json\n{\"status\": \"incomplete\", \"detail\": \"weak network\"}\n```",
	} {
		_, err := New().Normalize(text)
		require.Error(t, err, text)

		var pe *ParseError
		require.True(t, errors.As(err, &pe), text)
		last := pe.Attempts[len(pe.Attempts)-1]
		assert.Equal(t, StrategySections, last.Strategy, text)
		assert.ErrorIs(t, last.Err, errJSONNotFeedback, text)
	}
}

func TestNormalize_SectionsMarksEstimatedScore(t *testing.T) {
	res, err := New().Normalize("Strengths:\n- Clear argument\n- Good sources")
	require.NoError(t, err)
	assert.False(t, res.ScoreFound)
	assert.True(t, res.ScoreEstimated)
}
