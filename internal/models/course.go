package models

import (
	"time"
)

type Course struct {
	ID           string    `json:"id" db:"id"`
	Code         string    `json:"code" db:"code"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	Term         string    `json:"term" db:"term"`
	InstructorID string    `json:"instructor_id" db:"instructor_id"`
	IsArchived   bool      `json:"is_archived" db:"is_archived"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type CourseWithStats struct {
	Course
	InstructorName  string `json:"instructor_name" db:"instructor_name"`
	StudentCount    int    `json:"student_count" db:"student_count"`
	AssignmentCount int    `json:"assignment_count" db:"assignment_count"`
}

type Enrollment struct {
	CourseID   string    `json:"course_id" db:"course_id"`
	StudentID  string    `json:"student_id" db:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at" db:"enrolled_at"`
}

type EnrollmentWithStudent struct {
	Enrollment
	StudentName  string `json:"student_name" db:"student_name"`
	StudentEmail string `json:"student_email" db:"student_email"`
}
