package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedRecord-Ingest/internal/application/ingest"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/interfaces/http/middleware"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

type mockReviewService struct {
	mock.Mock
}

func (m *mockReviewService) ListReviewItems(ctx context.Context, user common.UserID, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	args := m.Called(ctx, user, sessionID)
	if s := args.Get(0); s != nil {
		return s.([]*session.BatchFileRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReviewService) SubmitReviewDecisions(ctx context.Context, user common.UserID, sessionID common.SessionID, decisions []ingest.ReviewDecision) (int, error) {
	args := m.Called(ctx, user, sessionID, decisions)
	return args.Int(0), args.Error(1)
}

// reviewRouter mounts the review routes behind the identity middleware so
// the user header reaches the handler the way it does in production.
func reviewRouter(svc ReviewService) http.Handler {
	h := NewReviewHandler(svc, logging.NewNop())
	r := chi.NewRouter()
	r.Use(middleware.Identity("X-Admin-Role"))
	h.RegisterRoutes(r)
	return r
}

func TestListReviewPassesCallerIdentity(t *testing.T) {
	svc := &mockReviewService{}
	rec := session.NewBatchFileRecord("s1", "123_GARCIA LOPEZ, JUAN_CONS.pdf", "sessions/s1/f")
	svc.On("ListReviewItems", mock.Anything, common.UserID("dr.lopez"), common.SessionID("s1")).
		Return([]*session.BatchFileRecord{rec}, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/review", nil)
	req.Header.Set(middleware.UserIDHeader, "dr.lopez")
	w := httptest.NewRecorder()
	reviewRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []*session.BatchFileRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, rec.ID, resp.Items[0].ID)
	svc.AssertExpectations(t)
}

func TestListReviewForbiddenMapsTo403(t *testing.T) {
	svc := &mockReviewService{}
	svc.On("ListReviewItems", mock.Anything, common.UserID(""), common.SessionID("s1")).
		Return(nil, errors.New(errors.ErrCodeReviewForbidden, "caller lacks the review capability"))

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/review", nil)
	w := httptest.NewRecorder()
	reviewRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitDecisionsFullSuccess(t *testing.T) {
	svc := &mockReviewService{}
	patientID := common.PatientID("p-1")
	svc.On("SubmitReviewDecisions", mock.Anything, common.UserID("admin"), common.SessionID("s1"),
		[]ingest.ReviewDecision{{FileID: "f1", Choice: ingest.ChoiceAssignExisting, PatientID: &patientID}}).
		Return(1, nil)

	body := `{"decisions":[{"file_id":"f1","choice":"assign_existing","patient_id":"p-1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/review", strings.NewReader(body))
	req.Header.Set(middleware.UserIDHeader, "admin")
	w := httptest.NewRecorder()
	reviewRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["applied"])
	assert.NotContains(t, resp, "first_error")
}

func TestSubmitDecisionsPartialSuccessReportsFirstError(t *testing.T) {
	svc := &mockReviewService{}
	svc.On("SubmitReviewDecisions", mock.Anything, mock.Anything, common.SessionID("s1"), mock.Anything).
		Return(1, errors.New(errors.ErrCodeReviewInvalidChoice, "unknown review choice \"merge\""))

	body := `{"decisions":[{"file_id":"f1","choice":"merge"},{"file_id":"f2","choice":"create_new"}]}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/review", strings.NewReader(body))
	w := httptest.NewRecorder()
	reviewRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["applied"])
	assert.Contains(t, resp["first_error"], "merge")
}

func TestSubmitDecisionsTotalRejectionMapsErrorStatus(t *testing.T) {
	svc := &mockReviewService{}
	svc.On("SubmitReviewDecisions", mock.Anything, mock.Anything, common.SessionID("s1"), mock.Anything).
		Return(0, errors.New(errors.ErrCodeValidation, "no decisions provided"))

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/review", strings.NewReader(`{"decisions":[]}`))
	w := httptest.NewRecorder()
	reviewRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
