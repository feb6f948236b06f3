package models

import "time"

const ScoreBuckets = 10

type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func (c *StatusCounts) Add(status SubmissionStatus, n int) {
	switch status {
	case SubmissionPending:
		c.Pending += n
	case SubmissionProcessing:
		c.Processing += n
	case SubmissionCompleted:
		c.Completed += n
	case SubmissionFailed:
		c.Failed += n
	}
	c.Total += n
}

type ScoreStats struct {
	Count   int      `json:"count"`
	Average *float64 `json:"average,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
}

// ScoreBucket returns the histogram bucket for a score; 100 lands in the last one.
func ScoreBucket(score float64) int {
	b := int(score / (100 / ScoreBuckets))
	if b < 0 {
		return 0
	}
	if b >= ScoreBuckets {
		return ScoreBuckets - 1
	}
	return b
}

type AssignmentStats struct {
	AssignmentID string       `json:"assignment_id"`
	Title        string       `json:"title"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Status       StatusCounts `json:"status"`
	Scores       ScoreStats   `json:"scores"`
	LateCount    int          `json:"late_count"`
	Distribution []int        `json:"distribution"`
}

type InstructorDashboard struct {
	CourseID     string            `json:"course_id"`
	CourseTitle  string            `json:"course_title"`
	StudentCount int               `json:"student_count"`
	Assignments  []AssignmentStats `json:"assignments"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

type StudentAssignmentProgress struct {
	AssignmentID string            `json:"assignment_id"`
	Title        string            `json:"title"`
	DueDate      *time.Time        `json:"due_date,omitempty"`
	SubmissionID *string           `json:"submission_id,omitempty"`
	Status       *SubmissionStatus `json:"status,omitempty"`
	IsLate       bool              `json:"is_late"`
	Score        *float64          `json:"score,omitempty"`
}

type StudentProgress struct {
	CourseID     string                      `json:"course_id"`
	StudentID    string                      `json:"student_id"`
	Assignments  []StudentAssignmentProgress `json:"assignments"`
	Submitted    int                         `json:"submitted"`
	Graded       int                         `json:"graded"`
	AverageScore *float64                    `json:"average_score,omitempty"`
}

type SystemOverview struct {
	UsersByRole         map[string]int `json:"users_by_role"`
	ActiveUsers         int            `json:"active_users"`
	Courses             int            `json:"courses"`
	Assignments         int            `json:"assignments"`
	Submissions         StatusCounts   `json:"submissions"`
	PromptTokens        int64          `json:"prompt_tokens"`
	OutputTokens        int64          `json:"output_tokens"`
	TokensUsed          int64          `json:"tokens_used"`
	RetriedGradings     int            `json:"retried_gradings"`
	PendingDataRequests int            `json:"pending_data_requests"`
}

type AdminOverview struct {
	SystemOverview
	FailureRate     float64        `json:"failure_rate"`
	ParseStrategies map[string]int `json:"parse_strategies"`
	QueueDepth      *int           `json:"queue_depth,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
}
