package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
)

const (
	testCourseID     = "7d4a4c7e-2f3b-4c1e-9b5a-0e2f6d8c1a11"
	testAssignmentID = "9a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
	testStudentID    = "0b6c1f1e-7a2d-4e9b-a3c5-5d8e7f6a4b32"
)

type stubAuth struct {
	service.AuthService
	loginErr error
}

func (s *stubAuth) ValidateToken(_ context.Context, token string) (*service.Claims, error) {
	roles := map[string]models.Role{
		"student":    models.RoleStudent,
		"instructor": models.RoleInstructor,
		"admin":      models.RoleAdmin,
	}
	role, ok := roles[token]
	if !ok {
		return nil, service.ErrInvalidToken
	}
	return &service.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: testStudentID}}, nil
}

func (s *stubAuth) Login(_ context.Context, req *models.LoginRequest, _ service.Actor) (*models.LoginResponse, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &models.LoginResponse{
		Token:     "student",
		ExpiresAt: time.Now().Add(time.Hour),
		User:      &models.User{ID: testStudentID, Email: req.Email, Role: models.RoleStudent},
	}, nil
}

type stubCourses struct {
	service.CourseService
}

func (stubCourses) Get(_ context.Context, _ service.Actor, id string) (*models.Course, error) {
	if id == testCourseID {
		return &models.Course{ID: id, Code: "CS101"}, nil
	}
	return nil, service.ErrCourseNotFound
}

func (stubCourses) List(_ context.Context, _ service.Actor, p models.Pagination) (*models.ListResponse[models.CourseWithStats], error) {
	list := models.NewListResponse([]models.CourseWithStats{{Course: models.Course{ID: testCourseID}}}, 1, p)
	return &list, nil
}

type stubSubmissions struct {
	service.SubmissionService
	got *models.SubmitRequest
}

func (s *stubSubmissions) Submit(_ context.Context, actor service.Actor, assignmentID string, req *models.SubmitRequest) (*models.Submission, error) {
	s.got = req
	return &models.Submission{ID: "s1", AssignmentID: assignmentID, StudentID: actor.UserID, Status: models.SubmissionPending}, nil
}

type stubBatch struct {
	service.BatchService
}

func (stubBatch) ExportGradebook(_ context.Context, _ service.Actor, _ string) ([]byte, string, error) {
	return []byte("student_email,score\na@b.c,90\n"), "gradebook-essay.csv", nil
}

type stubMetrics struct {
	service.MetricsService
}

func (stubMetrics) AdminOverview(context.Context) (*models.AdminOverview, error) {
	return &models.AdminOverview{FailureRate: 0.25}, nil
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type fixture struct {
	router      http.Handler
	auth        *stubAuth
	submissions *stubSubmissions
}

func newFixture(t *testing.T, db Pinger) *fixture {
	t.Helper()
	f := &fixture{auth: &stubAuth{}, submissions: &stubSubmissions{}}

	cfg := &config.Config{
		Auth:   config.AuthConfig{CookieName: "session"},
		Server: config.ServerConfig{MaxUploadSize: 1 << 20},
	}
	h := NewHandler(Services{
		Auth:       f.auth,
		Courses:    stubCourses{},
		Submission: f.submissions,
		Batch:      stubBatch{},
		Metrics:    stubMetrics{},
	}, db, cfg, zerolog.Nop())

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, pinger{})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/health", "", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/ready", "", nil, "").Code)

	f = newFixture(t, pinger{err: errors.New("connection refused")})
	rec := f.do(http.MethodGet, "/api/v1/ready", "", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogin_SetsSessionCookie(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/auth/login", "", []byte(`{"email":"a@b.c","password":"secret"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "student", data["token"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	f.auth.loginErr = service.ErrInvalidCredentials
	rec = f.do(http.MethodPost, "/api/v1/auth/login", "", []byte(`{"email":"a@b.c","password":"bad"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/auth/register", "", []byte(`{"email":"nope","name":"A","password":"short"}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fields := decodeBody(t, rec)["fields"].(map[string]any)
	assert.Equal(t, "must be a valid email", fields["email"])
	assert.Equal(t, "must be at least 2", fields["name"])
	assert.Equal(t, "must be at least 8", fields["password"])

	rec = f.do(http.MethodPost, "/api/v1/auth/register", "", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthAndRoles(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/courses", "", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/courses", "forged", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/courses", "student", nil, "").Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/admin/overview", "student", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/courses", "student", []byte(`{}`), "application/json").Code)

	rec := f.do(http.MethodGet, "/api/v1/admin/overview", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.25, decodeBody(t, rec)["data"].(map[string]any)["failure_rate"])
}

func TestGetCourse(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/courses/not-a-uuid", "student", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/courses/"+testCourseID, "student", nil, "").Code)

	rec := f.do(http.MethodGet, "/api/v1/courses/"+testAssignmentID, "student", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "course not found", decodeBody(t, rec)["message"])
}

func TestSubmit_JSONAndMultipart(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/assignments/" + testAssignmentID + "/submissions"

	rec := f.do(http.MethodPost, path, "student", []byte(`{"content":"my essay"}`), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "my essay", f.submissions.got.Content)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	require.NoError(t, mpw.WriteField("content", "with a picture"))
	part, err := mpw.CreateFormFile("files", "chart.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	rec = f.do(http.MethodPost, path, "student", buf.Bytes(), mpw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "with a picture", f.submissions.got.Content)
	require.Len(t, f.submissions.got.Files, 1)
	assert.Equal(t, "chart.png", f.submissions.got.Files[0].Name)
	assert.Len(t, f.submissions.got.Files[0].Data, 4)

	big := fmt.Sprintf(`{"content":%q}`, strings.Repeat("x", 2<<20))
	rec = f.do(http.MethodPost, path, "student", []byte(big), "application/json")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestExportGradebook(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/assignments/"+testAssignmentID+"/gradebook", "instructor", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "gradebook-essay.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "student_email,score"))
}

func TestHandleServiceError(t *testing.T) {
	h := &Handler{logger: zerolog.Nop()}

	tests := []struct {
		err    error
		status int
	}{
		{service.ErrEmptyWork, http.StatusUnprocessableEntity},
		{service.ErrNotEnrolled, http.StatusForbidden},
		{service.ErrTokenRevoked, http.StatusUnauthorized},
		{service.ErrEmailTaken, http.StatusConflict},
		{service.ErrSubmissionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad rubric", service.ErrInvalidInput), http.StatusBadRequest},
		{&service.ValidationError{Fields: map[string]string{"title": "is required"}}, http.StatusBadRequest},
		{fmt.Errorf("%w: minio down", service.ErrUpstream), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.handleServiceError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.handleServiceError(rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "pq:")
}
