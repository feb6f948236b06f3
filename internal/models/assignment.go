package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MaxRubricCriteria  = 50
	MaxCriterionScore  = 1000
	maxCriterionLength = 200
)

var ErrInvalidRubric = errors.New("invalid rubric")

type RubricCriterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MaxScore    float64 `json:"max_score"`
	Weight      float64 `json:"weight"`
}

// Rubric is stored as JSONB on the assignment row.
type Rubric struct {
	Criteria []RubricCriterion `json:"criteria"`
}

func (r Rubric) Value() (driver.Value, error) {
	if r.Criteria == nil {
		r.Criteria = []RubricCriterion{}
	}
	return jsonValue(r)
}

func (r *Rubric) Scan(src any) error {
	return jsonScan(src, r)
}

// Normalize trims names and gives weightless criteria a weight of 1.
func (r *Rubric) Normalize() {
	for i := range r.Criteria {
		c := &r.Criteria[i]
		c.Name = strings.TrimSpace(c.Name)
		c.Description = strings.TrimSpace(c.Description)
		if c.Weight == 0 {
			c.Weight = 1
		}
	}
}

func (r Rubric) Validate() error {
	if len(r.Criteria) > MaxRubricCriteria {
		return fmt.Errorf("%w: at most %d criteria allowed", ErrInvalidRubric, MaxRubricCriteria)
	}
	seen := make(map[string]struct{}, len(r.Criteria))
	for i, c := range r.Criteria {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return fmt.Errorf("%w: criterion %d has no name", ErrInvalidRubric, i+1)
		case len(name) > maxCriterionLength:
			return fmt.Errorf("%w: criterion %q name is too long", ErrInvalidRubric, name)
		case c.MaxScore <= 0 || c.MaxScore > MaxCriterionScore:
			return fmt.Errorf("%w: criterion %q max_score must be in (0, %d]", ErrInvalidRubric, name, MaxCriterionScore)
		case c.Weight < 0:
			return fmt.Errorf("%w: criterion %q weight must not be negative", ErrInvalidRubric, name)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate criterion %q", ErrInvalidRubric, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (r Rubric) Names() []string {
	names := make([]string, len(r.Criteria))
	for i, c := range r.Criteria {
		names[i] = c.Name
	}
	return names
}

type Assignment struct {
	ID                string     `json:"id" db:"id"`
	CourseID          string     `json:"course_id" db:"course_id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	Rubric            Rubric     `json:"rubric" db:"rubric"`
	InstructorContext string     `json:"instructor_context,omitempty" db:"instructor_context"`
	DueDate           *time.Time `json:"due_date,omitempty" db:"due_date"`
	AllowLate         bool       `json:"allow_late" db:"allow_late"`
	AllowResubmission bool       `json:"allow_resubmission" db:"allow_resubmission"`
	CreatedBy         *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

func (a *Assignment) IsPastDue(now time.Time) bool {
	return a.DueDate != nil && now.After(*a.DueDate)
}

// StudentView is the assignment without grading-only material.
func (a Assignment) StudentView() Assignment {
	a.InstructorContext = ""
	return a
}

type AssignmentWithStats struct {
	Assignment
	TotalSubmissions     int      `json:"total_submissions" db:"total_submissions"`
	CompletedSubmissions int      `json:"completed_submissions" db:"completed_submissions"`
	PendingSubmissions   int      `json:"pending_submissions" db:"pending_submissions"`
	FailedSubmissions    int      `json:"failed_submissions" db:"failed_submissions"`
	AverageScore         *float64 `json:"average_score,omitempty" db:"average_score"`
}
