package models

import (
	"database/sql/driver"
	"time"
)

type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score,omitempty"`
	Comment   string  `json:"comment,omitempty"`
}

type CriteriaScores []CriterionScore

func (c CriteriaScores) Value() (driver.Value, error) {
	if c == nil {
		c = CriteriaScores{}
	}
	return jsonValue(c)
}

func (c *CriteriaScores) Scan(src any) error {
	return jsonScan(src, c)
}

type Feedback struct {
	ID                string         `json:"id" db:"id"`
	SubmissionID      string         `json:"submission_id" db:"submission_id"`
	Strengths         []string       `json:"strengths" db:"strengths"`
	Improvements      []string       `json:"improvements" db:"improvements"`
	Suggestions       []string       `json:"suggestions" db:"suggestions"`
	Summary           string         `json:"summary" db:"summary"`
	Score             float64        `json:"score" db:"score"`
	CriteriaScores    CriteriaScores `json:"criteria_scores" db:"criteria_scores"`
	RawResponse       string         `json:"raw_response,omitempty" db:"raw_response"`
	PromptTokens      int            `json:"prompt_tokens" db:"prompt_tokens"`
	OutputTokens      int            `json:"output_tokens" db:"output_tokens"`
	TokenCount        int            `json:"token_count" db:"token_count"`
	Provider          string         `json:"provider" db:"provider"`
	Model             string         `json:"model" db:"model"`
	ParseStrategy     string         `json:"parse_strategy" db:"parse_strategy"`
	Retried           bool           `json:"retried" db:"retried"`
	ScoreDerived      bool           `json:"score_derived" db:"score_derived"`
	InstructorScore   *float64       `json:"instructor_score,omitempty" db:"instructor_score"`
	InstructorComment string         `json:"instructor_comment,omitempty" db:"instructor_comment"`
	OverriddenBy      *string        `json:"overridden_by,omitempty" db:"overridden_by"`
	OverriddenAt      *time.Time     `json:"overridden_at,omitempty" db:"overridden_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// FinalScore prefers the instructor override.
func (f *Feedback) FinalScore() float64 {
	if f.InstructorScore != nil {
		return *f.InstructorScore
	}
	return f.Score
}

// StudentFeedback is what a student sees: no raw model output, no usage data.
type StudentFeedback struct {
	SubmissionID      string         `json:"submission_id"`
	Strengths         []string       `json:"strengths"`
	Improvements      []string       `json:"improvements"`
	Suggestions       []string       `json:"suggestions"`
	Summary           string         `json:"summary"`
	Score             float64        `json:"score"`
	CriteriaScores    CriteriaScores `json:"criteria_scores"`
	InstructorComment string         `json:"instructor_comment,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (f *Feedback) StudentView() StudentFeedback {
	return StudentFeedback{
		SubmissionID:      f.SubmissionID,
		Strengths:         f.Strengths,
		Improvements:      f.Improvements,
		Suggestions:       f.Suggestions,
		Summary:           f.Summary,
		Score:             f.FinalScore(),
		CriteriaScores:    f.CriteriaScores,
		InstructorComment: f.InstructorComment,
		UpdatedAt:         f.UpdatedAt,
	}
}

type GradebookRow struct {
	SubmissionID    string           `json:"submission_id" db:"submission_id"`
	StudentID       string           `json:"student_id" db:"student_id"`
	StudentName     string           `json:"student_name" db:"student_name"`
	StudentEmail    string           `json:"student_email" db:"student_email"`
	Status          SubmissionStatus `json:"status" db:"status"`
	IsLate          bool             `json:"is_late" db:"is_late"`
	AIScore         *float64         `json:"ai_score,omitempty" db:"score"`
	InstructorScore *float64         `json:"instructor_score,omitempty" db:"instructor_score"`
	SubmittedAt     time.Time        `json:"submitted_at" db:"submitted_at"`
}

func (r GradebookRow) FinalScore() *float64 {
	if r.InstructorScore != nil {
		return r.InstructorScore
	}
	return r.AIScore
}
