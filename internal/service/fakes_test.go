package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/grader"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/storage"
)

// In-memory stand-ins for the repositories and adapters.

type fakeUsers struct {
	byID map[string]*models.User
	err  error
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]*models.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrConflict
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByEmails(_ context.Context, emails []string) ([]models.User, error) {
	var out []models.User
	for _, e := range emails {
		for _, u := range f.byID {
			if strings.EqualFold(u.Email, e) {
				out = append(out, *u)
			}
		}
	}
	return out, nil
}

func (f *fakeUsers) List(_ context.Context, role string, limit, offset int) ([]models.User, int, error) {
	var all []models.User
	for _, u := range f.byID {
		if role == "" || string(u.Role) == role {
			all = append(all, *u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), len(all), nil
}

func (f *fakeUsers) Update(_ context.Context, u *models.User) error {
	if _, ok := f.byID[u.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) UpdateRole(_ context.Context, id string, role models.Role) error {
	u, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	u, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	if u, ok := f.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (f *fakeUsers) Anonymize(_ context.Context, id, email string) error {
	u, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	u.Email = email
	u.Name = "Anonymized user"
	u.PasswordHash = ""
	u.IsActive = false
	u.AnonymizedAt = &now
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.byID, id)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type fakeCourses struct {
	byID     map[string]*models.Course
	enrolled map[string]map[string]time.Time
}

func newFakeCourses(courses ...*models.Course) *fakeCourses {
	f := &fakeCourses{byID: map[string]*models.Course{}, enrolled: map[string]map[string]time.Time{}}
	for _, c := range courses {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCourses) enroll(courseID string, studentIDs ...string) {
	if f.enrolled[courseID] == nil {
		f.enrolled[courseID] = map[string]time.Time{}
	}
	for _, id := range studentIDs {
		f.enrolled[courseID][id] = time.Now()
	}
}

func (f *fakeCourses) Create(_ context.Context, c *models.Course) error {
	for _, existing := range f.byID {
		if existing.Code == c.Code && existing.Term == c.Term {
			return repository.ErrConflict
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeCourses) GetByID(_ context.Context, id string) (*models.Course, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCourses) list(keep func(*models.Course) bool, limit, offset int) ([]models.CourseWithStats, int, error) {
	var all []models.CourseWithStats
	for _, c := range f.byID {
		if keep(c) {
			all = append(all, models.CourseWithStats{Course: *c, StudentCount: len(f.enrolled[c.ID])})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCourses) ListByInstructor(_ context.Context, instructorID string, limit, offset int) ([]models.CourseWithStats, int, error) {
	return f.list(func(c *models.Course) bool { return c.InstructorID == instructorID }, limit, offset)
}

func (f *fakeCourses) ListByStudent(_ context.Context, studentID string, limit, offset int) ([]models.CourseWithStats, int, error) {
	return f.list(func(c *models.Course) bool {
		_, ok := f.enrolled[c.ID][studentID]
		return ok
	}, limit, offset)
}

func (f *fakeCourses) ListAll(_ context.Context, limit, offset int) ([]models.CourseWithStats, int, error) {
	return f.list(func(*models.Course) bool { return true }, limit, offset)
}

func (f *fakeCourses) Update(_ context.Context, c *models.Course) error {
	if _, ok := f.byID[c.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeCourses) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.byID, id)
	delete(f.enrolled, id)
	return nil
}

func (f *fakeCourses) Enroll(_ context.Context, courseID, studentID string) error {
	if _, ok := f.enrolled[courseID][studentID]; ok {
		return repository.ErrConflict
	}
	f.enroll(courseID, studentID)
	return nil
}

func (f *fakeCourses) EnrollMany(_ context.Context, courseID string, ids []string) ([]string, error) {
	var inserted []string
	for _, id := range ids {
		if _, ok := f.enrolled[courseID][id]; ok {
			continue
		}
		f.enroll(courseID, id)
		inserted = append(inserted, id)
	}
	return inserted, nil
}

func (f *fakeCourses) Unenroll(_ context.Context, courseID, studentID string) error {
	if _, ok := f.enrolled[courseID][studentID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.enrolled[courseID], studentID)
	return nil
}

func (f *fakeCourses) IsEnrolled(_ context.Context, courseID, studentID string) (bool, error) {
	_, ok := f.enrolled[courseID][studentID]
	return ok, nil
}

func (f *fakeCourses) EnrolledAmong(_ context.Context, courseID string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if _, ok := f.enrolled[courseID][id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeCourses) ListEnrollments(_ context.Context, courseID string, limit, offset int) ([]models.EnrollmentWithStudent, int, error) {
	var all []models.EnrollmentWithStudent
	for id, at := range f.enrolled[courseID] {
		all = append(all, models.EnrollmentWithStudent{Enrollment: models.Enrollment{CourseID: courseID, StudentID: id, EnrolledAt: at}})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StudentID < all[j].StudentID })
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCourses) ListStudentEnrollments(_ context.Context, studentID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for courseID, students := range f.enrolled {
		if at, ok := students[studentID]; ok {
			out = append(out, models.Enrollment{CourseID: courseID, StudentID: studentID, EnrolledAt: at})
		}
	}
	return out, nil
}

type fakeAssignments struct {
	byID map[string]*models.Assignment
}

func newFakeAssignments(items ...*models.Assignment) *fakeAssignments {
	f := &fakeAssignments{byID: map[string]*models.Assignment{}}
	for _, a := range items {
		f.byID[a.ID] = a
	}
	return f
}

func (f *fakeAssignments) Create(_ context.Context, a *models.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAssignments) GetByID(_ context.Context, id string) (*models.Assignment, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAssignments) ListByCourse(_ context.Context, courseID string, limit, offset int) ([]models.AssignmentWithStats, int, error) {
	var all []models.AssignmentWithStats
	for _, a := range f.byID {
		if a.CourseID == courseID {
			all = append(all, models.AssignmentWithStats{Assignment: *a, TotalSubmissions: 3})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), len(all), nil
}

func (f *fakeAssignments) Update(_ context.Context, a *models.Assignment) error {
	if _, ok := f.byID[a.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAssignments) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.byID, id)
	return nil
}

type fakeSubmissions struct {
	byID        map[string]*models.Submission
	failedMarks map[string]string
}

func newFakeSubmissions(items ...*models.Submission) *fakeSubmissions {
	f := &fakeSubmissions{byID: map[string]*models.Submission{}, failedMarks: map[string]string{}}
	for _, s := range items {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSubmissions) Create(_ context.Context, s *models.Submission) error {
	for _, existing := range f.byID {
		if existing.StudentID == s.StudentID && existing.AssignmentID == s.AssignmentID {
			return repository.ErrConflict
		}
	}
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSubmissions) GetByID(_ context.Context, id string) (*models.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissions) GetByStudentAndAssignment(_ context.Context, studentID, assignmentID string) (*models.Submission, error) {
	for _, s := range f.byID {
		if s.StudentID == studentID && s.AssignmentID == assignmentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSubmissions) sorted(keep func(*models.Submission) bool) []models.Submission {
	var all []models.Submission
	for _, s := range f.byID {
		if keep(s) {
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func withDetails(subs []models.Submission) []models.SubmissionWithDetails {
	out := make([]models.SubmissionWithDetails, len(subs))
	for i, s := range subs {
		out[i] = models.SubmissionWithDetails{Submission: s}
	}
	return out
}

func (f *fakeSubmissions) ListByAssignment(_ context.Context, assignmentID, status string, limit, offset int) ([]models.SubmissionWithDetails, int, error) {
	all := f.sorted(func(s *models.Submission) bool {
		return s.AssignmentID == assignmentID && (status == "" || string(s.Status) == status)
	})
	return withDetails(page(all, limit, offset)), len(all), nil
}

func (f *fakeSubmissions) ListByStudent(_ context.Context, studentID string, limit, offset int) ([]models.SubmissionWithDetails, int, error) {
	all := f.sorted(func(s *models.Submission) bool { return s.StudentID == studentID })
	return withDetails(page(all, limit, offset)), len(all), nil
}

func (f *fakeSubmissions) ListAllByStudent(_ context.Context, studentID string) ([]models.Submission, error) {
	return f.sorted(func(s *models.Submission) bool { return s.StudentID == studentID }), nil
}

func (f *fakeSubmissions) ListIDsByAssignment(_ context.Context, assignmentID string, statuses []models.SubmissionStatus, limit, offset int) ([]string, error) {
	all := f.sorted(func(s *models.Submission) bool {
		if s.AssignmentID != assignmentID {
			return false
		}
		for _, st := range statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	})
	var ids []string
	for _, s := range page(all, limit, offset) {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (f *fakeSubmissions) UpdateStatus(_ context.Context, id string, next models.SubmissionStatus) error {
	s, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if !s.Status.CanTransitionTo(next) {
		return repository.ErrInvalidTransition
	}
	s.Status = next
	if next == models.SubmissionCompleted {
		s.ErrorMessage, s.RawResponse = "", ""
	}
	return nil
}

func (f *fakeSubmissions) MarkFailed(_ context.Context, id, raw, message string) error {
	s, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if !s.Status.CanTransitionTo(models.SubmissionFailed) {
		return repository.ErrInvalidTransition
	}
	s.Status = models.SubmissionFailed
	s.RawResponse = raw
	s.ErrorMessage = message
	f.failedMarks[id] = message
	return nil
}

func (f *fakeSubmissions) IncrementAttempts(_ context.Context, id string) (int, error) {
	s, ok := f.byID[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.Attempts++
	return s.Attempts, nil
}

func (f *fakeSubmissions) ResetForRegrade(_ context.Context, id string) error {
	s, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if s.Status != models.SubmissionCompleted && s.Status != models.SubmissionFailed {
		return repository.ErrInvalidTransition
	}
	s.Status = models.SubmissionPending
	s.Attempts = 0
	s.ErrorMessage, s.RawResponse = "", ""
	return nil
}

func (f *fakeSubmissions) Resubmit(_ context.Context, sub *models.Submission) error {
	s, ok := f.byID[sub.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if s.Status == models.SubmissionProcessing {
		return repository.ErrInvalidTransition
	}
	cp := *sub
	f.byID[sub.ID] = &cp
	return nil
}

func (f *fakeSubmissions) ScrubContentForUser(_ context.Context, studentID string) (int64, error) {
	var n int64
	for _, s := range f.byID {
		if s.StudentID == studentID {
			s.Content = ""
			s.RawResponse = ""
			s.Attachments = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeSubmissions) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeSubmissions) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]models.Attachments, error) {
	var out []models.Attachments
	for id, s := range f.byID {
		if s.SubmittedAt.Before(cutoff) {
			out = append(out, s.Attachments)
			delete(f.byID, id)
		}
	}
	return out, nil
}

type fakeFeedback struct {
	bySubmission map[string]*models.Feedback
	err          error
}

func newFakeFeedback(items ...*models.Feedback) *fakeFeedback {
	f := &fakeFeedback{bySubmission: map[string]*models.Feedback{}}
	for _, fb := range items {
		f.bySubmission[fb.SubmissionID] = fb
	}
	return f
}

func (f *fakeFeedback) Upsert(_ context.Context, fb *models.Feedback) error {
	if f.err != nil {
		return f.err
	}
	if prev, ok := f.bySubmission[fb.SubmissionID]; ok {
		// Ручная оценка переживает перепроверку
		fb.InstructorScore = prev.InstructorScore
		fb.InstructorComment = prev.InstructorComment
		fb.OverriddenBy = prev.OverriddenBy
	}
	cp := *fb
	f.bySubmission[fb.SubmissionID] = &cp
	return nil
}

func (f *fakeFeedback) GetBySubmissionID(_ context.Context, id string) (*models.Feedback, error) {
	fb, ok := f.bySubmission[id]
	if !ok {
		return nil, nil
	}
	cp := *fb
	return &cp, nil
}

func (f *fakeFeedback) Override(_ context.Context, id string, score float64, comment, by string) error {
	fb, ok := f.bySubmission[id]
	if !ok {
		return sql.ErrNoRows
	}
	fb.InstructorScore = &score
	fb.InstructorComment = comment
	fb.OverriddenBy = &by
	return nil
}

func (f *fakeFeedback) ListByAssignment(context.Context, string) ([]models.GradebookRow, error) {
	return nil, nil
}

func (f *fakeFeedback) ListByStudent(context.Context, string) ([]models.Feedback, error) {
	var out []models.Feedback
	for _, fb := range f.bySubmission {
		out = append(out, *fb)
	}
	return out, nil
}

// gradebookFeedback serves fixed gradebook rows.
type gradebookFeedback struct {
	*fakeFeedback
	rows []models.GradebookRow
}

func (g *gradebookFeedback) ListByAssignment(context.Context, string) ([]models.GradebookRow, error) {
	return g.rows, nil
}

type fakeCompliance struct {
	consents []models.Consent
	audit    []models.AuditLog
	requests map[string]*models.DataSubjectRequest
}

func newFakeCompliance() *fakeCompliance {
	return &fakeCompliance{requests: map[string]*models.DataSubjectRequest{}}
}

func (f *fakeCompliance) RecordConsent(_ context.Context, c *models.Consent) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	f.consents = append(f.consents, *c)
	return nil
}

func (f *fakeCompliance) LatestConsent(_ context.Context, userID, consentType string) (*models.Consent, error) {
	for i := len(f.consents) - 1; i >= 0; i-- {
		c := f.consents[i]
		if c.UserID == userID && c.ConsentType == consentType {
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeCompliance) ListConsents(_ context.Context, userID string) ([]models.Consent, error) {
	var out []models.Consent
	for _, c := range f.consents {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCompliance) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	f.audit = append(f.audit, *entry)
	return nil
}

func (f *fakeCompliance) ListAuditLogs(_ context.Context, filter models.AuditFilter, limit, offset int) ([]models.AuditLog, int, error) {
	var all []models.AuditLog
	for _, a := range f.audit {
		if filter.Action == "" || a.Action == filter.Action {
			all = append(all, a)
		}
	}
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCompliance) ListAuditLogsByActor(_ context.Context, actorID string) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, a := range f.audit {
		if a.ActorID != nil && *a.ActorID == actorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeCompliance) CreateRequest(_ context.Context, r *models.DataSubjectRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeCompliance) GetRequest(_ context.Context, id string) (*models.DataSubjectRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCompliance) HasOpenRequest(_ context.Context, userID string, t models.DataRequestType) (bool, error) {
	for _, r := range f.requests {
		if r.UserID == userID && r.RequestType == t && !r.Status.IsFinal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCompliance) ListRequestsByUser(_ context.Context, userID string) ([]models.DataSubjectRequest, error) {
	var out []models.DataSubjectRequest
	for _, r := range f.requests {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeCompliance) ListRequests(_ context.Context, status string, limit, offset int) ([]models.DataSubjectRequest, int, error) {
	var all []models.DataSubjectRequest
	for _, r := range f.requests {
		if status == "" || string(r.Status) == status {
			all = append(all, *r)
		}
	}
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCompliance) UpdateRequest(_ context.Context, r *models.DataSubjectRequest) error {
	if _, ok := f.requests[r.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeCompliance) actions() []string {
	out := make([]string, len(f.audit))
	for i, a := range f.audit {
		out[i] = a.Action
	}
	return out
}

type fakeTokens struct {
	revoked map[string]time.Time
}

func newFakeTokens() *fakeTokens { return &fakeTokens{revoked: map[string]time.Time{}} }

func (f *fakeTokens) Revoke(_ context.Context, hash string, exp time.Time) error {
	f.revoked[hash] = exp
	return nil
}

func (f *fakeTokens) IsRevoked(_ context.Context, hash string) (bool, error) {
	_, ok := f.revoked[hash]
	return ok, nil
}

func (f *fakeTokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for h, exp := range f.revoked {
		if exp.Before(now) {
			delete(f.revoked, h)
			n++
		}
	}
	return n, nil
}

type fakeStore struct {
	objects   map[string][]byte
	uploadErr error
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (f *fakeStore) Upload(_ context.Context, key, _ string, data []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PresignedURL(_ context.Context, key, _ string) (string, time.Time, error) {
	if _, ok := f.objects[key]; !ok {
		return "", time.Time{}, storage.ErrObjectNotFound
	}
	return "https://files.local/" + key, time.Now().Add(15 * time.Minute), nil
}

func (f *fakeStore) EnsureBucket(context.Context) error { return nil }

type fakeJobs struct {
	events []models.SubmissionJobEvent
	err    error
}

func (f *fakeJobs) PublishJob(_ context.Context, ev models.SubmissionJobEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type fakeGrader struct {
	result *grader.Result
	err    error
	calls  int
	inputs []grader.Input
}

func (f *fakeGrader) Grade(_ context.Context, in grader.Input) (*grader.Result, error) {
	f.calls++
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Put(key string, value []byte) error {
	m.data[key] = value
	return nil
}

type fakeStats struct {
	overview   *models.SystemOverview
	strategies map[string]int
	progress   []models.StudentAssignmentProgress
	course     []models.AssignmentStats
}

func (f *fakeStats) AssignmentStats(_ context.Context, id string) (*models.AssignmentStats, error) {
	return &models.AssignmentStats{AssignmentID: id, Distribution: make([]int, models.ScoreBuckets)}, nil
}

func (f *fakeStats) CourseOverview(context.Context, string) ([]models.AssignmentStats, error) {
	return f.course, nil
}

func (f *fakeStats) ScoreDistribution(context.Context, string) ([]int, error) {
	return make([]int, models.ScoreBuckets), nil
}

func (f *fakeStats) StudentProgress(context.Context, string, string) ([]models.StudentAssignmentProgress, error) {
	return f.progress, nil
}

func (f *fakeStats) SystemOverview(context.Context) (*models.SystemOverview, error) {
	return f.overview, nil
}

func (f *fakeStats) ParseStrategyBreakdown(context.Context) (map[string]int, error) {
	return f.strategies, nil
}

type fakeQueue struct {
	depth int
	err   error
}

func (f fakeQueue) GetQueueLength() (int, error) { return f.depth, f.err }

var errBoom = errors.New("boom")

// Fixture IDs shared by the tests.
const (
	adminID      = "00000000-0000-0000-0000-00000000000a"
	instructorID = "00000000-0000-0000-0000-00000000000b"
	otherInstrID = "00000000-0000-0000-0000-00000000000c"
	studentID    = "00000000-0000-0000-0000-00000000000d"
	student2ID   = "00000000-0000-0000-0000-00000000000e"
	courseID     = "10000000-0000-0000-0000-000000000001"
	assignmentID = "20000000-0000-0000-0000-000000000001"
)

func adminActor() Actor      { return Actor{UserID: adminID, Role: models.RoleAdmin} }
func instructorActor() Actor { return Actor{UserID: instructorID, Role: models.RoleInstructor} }
func studentActor() Actor    { return Actor{UserID: studentID, Role: models.RoleStudent} }

func testUsers() *fakeUsers {
	return newFakeUsers(
		&models.User{ID: adminID, Email: "admin@example.com", Name: "Admin", Role: models.RoleAdmin, IsActive: true},
		&models.User{ID: instructorID, Email: "prof@example.com", Name: "Prof", Role: models.RoleInstructor, IsActive: true},
		&models.User{ID: otherInstrID, Email: "other@example.com", Name: "Other", Role: models.RoleInstructor, IsActive: true},
		&models.User{ID: studentID, Email: "ann@example.com", Name: "Ann", Role: models.RoleStudent, IsActive: true},
		&models.User{ID: student2ID, Email: "bob@example.com", Name: "Bob", Role: models.RoleStudent, IsActive: true},
	)
}

func testCourses() *fakeCourses {
	courses := newFakeCourses(&models.Course{ID: courseID, Code: "CS101", Title: "Intro", Term: "2026F", InstructorID: instructorID})
	courses.enroll(courseID, studentID)
	return courses
}

func testAssignment() *models.Assignment {
	return &models.Assignment{
		ID:                assignmentID,
		CourseID:          courseID,
		Title:             "Essay",
		Description:       "Write an essay",
		InstructorContext: "look for a thesis",
		Rubric: models.Rubric{Criteria: []models.RubricCriterion{
			{Name: "Clarity", MaxScore: 10, Weight: 1},
			{Name: "Evidence", MaxScore: 10, Weight: 2},
		}},
		UpdatedAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}
