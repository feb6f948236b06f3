package models

import (
	"time"
)

const (
	EventSubmissionCreated = "submission.created"
	EventSubmissionRegrade = "submission.regrade"
)

type SubmissionJobEvent struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	StudentID    string `json:"student_id"`
	Attempt      int    `json:"attempt"`
	Timestamp    int64  `json:"timestamp"`
}

func NewSubmissionJobEvent(eventType string, s *Submission) SubmissionJobEvent {
	return SubmissionJobEvent{
		Type:         eventType,
		SubmissionID: s.ID,
		AssignmentID: s.AssignmentID,
		StudentID:    s.StudentID,
		Attempt:      1,
		Timestamp:    time.Now().Unix(),
	}
}

// Next is the same job scheduled for another attempt.
func (e SubmissionJobEvent) Next() SubmissionJobEvent {
	e.Attempt++
	e.Timestamp = time.Now().Unix()
	return e
}
