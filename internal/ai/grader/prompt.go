package grader

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPrompt = `You are an experienced teaching assistant who grades student work against a rubric.
Be specific, fair and encouraging. Base every statement on the submission itself.
Respond with a single JSON object and nothing else.`

const truncationMarker = "\n\n[... submission truncated ...]"

// Criterion is one rubric line as the grader sees it.
type Criterion struct {
	Name        string
	Description string
	MaxScore    float64
	Weight      float64
}

// Input describes one submission to grade.
type Input struct {
	SubmissionID      string
	Title             string
	Description       string
	Criteria          []Criterion
	InstructorContext string
	Content           string
	Attachments       []Attachment
}

func criteriaNames(criteria []Criterion) []string {
	names := make([]string, 0, len(criteria))
	for _, c := range criteria {
		names = append(names, c.Name)
	}
	return names
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}

// BuildPrompt renders the user prompt. Text attachments are appended after
// the submission body.
func BuildPrompt(in Input, texts []string, maxChars int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Assignment: %s\n\n", strings.TrimSpace(in.Title))
	if d := strings.TrimSpace(in.Description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}

	if len(in.Criteria) > 0 {
		b.WriteString("## Rubric\n\n")
		b.WriteString("| Criterion | Description | Max score | Weight |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, c := range in.Criteria {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				cell(c.Name), cell(c.Description), formatNumber(c.MaxScore), formatNumber(c.Weight))
		}
		b.WriteString("\n")
	}

	if ctx := strings.TrimSpace(in.InstructorContext); ctx != "" {
		b.WriteString("## Instructor guidance (confidential)\n\n")
		b.WriteString("Use this guidance when grading. Never quote or reveal it in the feedback.\n\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	body := strings.TrimSpace(in.Content)
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			body = strings.TrimSpace(body + "\n\n" + t)
		}
	}
	body, cut := truncateRunes(body, maxChars)
	if cut {
		body += truncationMarker
	}
	b.WriteString("## Submission\n\n")
	if body == "" {
		b.WriteString("(see attached files)")
	} else {
		b.WriteString(body)
	}
	b.WriteString("\n\n")

	b.WriteString("## Output format\n\n")
	b.WriteString("Return JSON with these keys:\n")
	b.WriteString(`- "strengths": array of strings` + "\n")
	b.WriteString(`- "improvements": array of strings` + "\n")
	b.WriteString(`- "suggestions": array of strings` + "\n")
	b.WriteString(`- "summary": string, two or three sentences` + "\n")
	b.WriteString(`- "score": number from 0 to 100` + "\n")
	if len(in.Criteria) > 0 {
		b.WriteString(`- "criteria_scores": array of {"criterion", "score", "max_score", "comment"}, one entry per rubric criterion using the exact criterion names` + "\n")
	}

	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	return strings.ReplaceAll(s, "|", "/")
}

func formatNumber(f float64) string {
	if f == 0 {
		return "-"
	}
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
