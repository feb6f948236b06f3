package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

type complianceFixture struct {
	svc        ComplianceService
	users      *fakeUsers
	subs       *fakeSubmissions
	compliance *fakeCompliance
	tokens     *fakeTokens
	store      *fakeStore
}

func newComplianceFixture(t *testing.T, retentionDays int) *complianceFixture {
	t.Helper()
	f := &complianceFixture{
		users: testUsers(),
		subs: newFakeSubmissions(&models.Submission{
			ID:           "s1",
			AssignmentID: assignmentID,
			StudentID:    studentID,
			Content:      "personal essay",
			Status:       models.SubmissionCompleted,
			SubmittedAt:  time.Now().Add(-48 * time.Hour),
			Attachments:  models.Attachments{{Key: "submissions/s1/a.png", Name: "a.png"}},
		}),
		compliance: newFakeCompliance(),
		tokens:     newFakeTokens(),
		store:      newFakeStore(),
	}
	f.store.objects["submissions/s1/a.png"] = []byte{1}
	fb := newFakeFeedback(&models.Feedback{SubmissionID: "s1", Score: 77, RawResponse: "raw"})

	f.svc = NewComplianceService(f.compliance, f.users, testCourses(), f.subs, fb, f.tokens, f.store,
		NewAuditor(f.compliance, zerolog.Nop()),
		config.ComplianceConfig{RetentionDays: retentionDays, ExportPrefix: "exports"},
		zerolog.Nop())
	return f
}

func TestRecordConsent(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.RecordConsent(ctx, studentActor(), &models.RecordConsentRequest{ConsentType: "marketing", Granted: ptr(true)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	c, err := f.svc.RecordConsent(ctx, Actor{UserID: studentID, Role: models.RoleStudent, IP: "10.1.1.1"},
		&models.RecordConsentRequest{ConsentType: models.ConsentAIProcessing, Granted: ptr(true), Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", c.IPAddress)

	ok, err := f.svc.HasConsent(ctx, studentID, models.ConsentAIProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.RecordConsent(ctx, studentActor(), &models.RecordConsentRequest{ConsentType: models.ConsentAIProcessing, Granted: ptr(false)})
	require.NoError(t, err)
	ok, _ = f.svc.HasConsent(ctx, studentID, models.ConsentAIProcessing)
	assert.False(t, ok)

	list, err := f.svc.ListConsents(ctx, studentActor())
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, []string{models.AuditConsentRecorded, models.AuditConsentRecorded}, f.compliance.actions())
}

func TestCreateRequest_OneOpenPerType(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	r, err := f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "access"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, r.Status)

	_, err = f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "access"})
	assert.ErrorIs(t, err, ErrRequestOpen)

	_, err = f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "erasure"})
	assert.NoError(t, err)
}

func TestProcessRequest_Access(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	r, err := f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "access"})
	require.NoError(t, err)

	done, err := f.svc.ProcessRequest(ctx, adminActor(), r.ID, &models.ProcessDataRequest{Approve: true, Note: "sent"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, done.Status)
	assert.NotNil(t, done.ProcessedAt)
	assert.NotEmpty(t, done.DownloadURL)

	var exportKey string
	for k := range f.store.objects {
		if strings.HasPrefix(k, "exports/"+studentID+"/") {
			exportKey = k
		}
	}
	require.NotEmpty(t, exportKey)

	var export models.UserDataExport
	require.NoError(t, json.Unmarshal(f.store.objects[exportKey], &export))
	assert.Equal(t, studentID, export.User.ID)
	require.Len(t, export.Submissions, 1)
	require.Len(t, export.Feedback, 1)
	assert.Equal(t, 77.0, export.Feedback[0].Score)
	assert.NotContains(t, string(f.store.objects[exportKey]), "password")

	_, err = f.svc.ProcessRequest(ctx, adminActor(), r.ID, &models.ProcessDataRequest{Approve: true})
	assert.ErrorIs(t, err, ErrRequestClosed)

	mine, err := f.svc.ListMyRequests(ctx, studentActor())
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.NotEmpty(t, mine[0].DownloadURL)

	assert.Contains(t, f.compliance.actions(), models.AuditDataExported)
	assert.Contains(t, f.compliance.actions(), models.AuditRequestProcessed)
}

func TestProcessRequest_Rejected(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	r, err := f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "erasure"})
	require.NoError(t, err)

	done, err := f.svc.ProcessRequest(ctx, adminActor(), r.ID, &models.ProcessDataRequest{Approve: false, Note: "records hold"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, done.Status)
	assert.Equal(t, "records hold", done.AdminNote)
	assert.Nil(t, f.users.byID[studentID].AnonymizedAt)

	_, err = f.svc.ProcessRequest(ctx, adminActor(), "missing", &models.ProcessDataRequest{})
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestProcessRequest_Erasure(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	r, err := f.svc.CreateRequest(ctx, studentActor(), &models.CreateDataRequest{RequestType: "erasure"})
	require.NoError(t, err)

	_, err = f.svc.ProcessRequest(ctx, adminActor(), r.ID, &models.ProcessDataRequest{Approve: true})
	require.NoError(t, err)

	u := f.users.byID[studentID]
	assert.True(t, u.IsAnonymized())
	assert.False(t, u.IsActive)
	assert.Equal(t, "anonymized+"+studentID+"@invalid.local", u.Email)
	assert.Empty(t, f.subs.byID["s1"].Content)
	assert.NotContains(t, f.store.objects, "submissions/s1/a.png")
}

func TestAnonymizeUser(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.AnonymizeUser(ctx, adminActor(), adminID), ErrForbidden)
	assert.ErrorIs(t, f.svc.AnonymizeUser(ctx, adminActor(), "missing"), ErrUserNotFound)

	require.NoError(t, f.svc.AnonymizeUser(ctx, adminActor(), studentID))
	require.NoError(t, f.svc.AnonymizeUser(ctx, adminActor(), studentID), "second call is a no-op")
	assert.Equal(t, []string{models.AuditUserAnonymized}, f.compliance.actions())
}

func TestDeleteUser(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, adminActor(), adminID), ErrForbidden)

	require.NoError(t, f.svc.DeleteUser(ctx, adminActor(), studentID))
	assert.NotContains(t, f.users.byID, studentID)
	assert.Empty(t, f.store.objects)

	f.users.err = repository.ErrReferenceMissing
	err := f.svc.DeleteUser(ctx, adminActor(), instructorID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestExportUserData_OnlySelfOrAdmin(t *testing.T) {
	f := newComplianceFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.ExportUserData(ctx, Actor{UserID: student2ID, Role: models.RoleStudent}, studentID)
	assert.ErrorIs(t, err, ErrForbidden)

	url, err := f.svc.ExportUserData(ctx, studentActor(), "")
	require.NoError(t, err)
	assert.Contains(t, url.URL, "exports/"+studentID)
}

func TestPurgeExpiredData(t *testing.T) {
	f := newComplianceFixture(t, 1)
	f.tokens.revoked["old"] = time.Now().Add(-time.Hour)
	f.tokens.revoked["live"] = time.Now().Add(time.Hour)

	res, err := f.svc.PurgeExpiredData(context.Background(), adminActor())
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.SubmissionsDeleted)
	assert.EqualValues(t, 1, res.TokensPurged)
	assert.Empty(t, f.subs.byID)
	assert.Empty(t, f.store.objects)
	assert.Contains(t, f.tokens.revoked, "live")
}

func TestPurgeExpiredData_RetentionDisabled(t *testing.T) {
	f := newComplianceFixture(t, 0)

	res, err := f.svc.PurgeExpiredData(context.Background(), adminActor())
	require.NoError(t, err)
	assert.Zero(t, res.SubmissionsDeleted)
	assert.Len(t, f.subs.byID, 1)
}
