package engine

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simpiller/adherence/pkg/config"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

func setupTestService(t *testing.T, now time.Time) (*Service, *MockRepository) {
	t.Helper()

	repo := &MockRepository{}
	log := logger.New("debug")
	clock := fixedClock{now: now}

	cfg := &config.Config{
		Engine: config.EngineConfig{
			SessionTTLHours:             2,
			DefaultAdvanceWindowMinutes: 15,
			ReconcileBucketMinutes:      15,
			AdherencePeriodDays:         30,
			DefaultTimezone:             "UTC",
		},
		Notify: config.NotifyConfig{
			Enabled:        false,
			ConfirmBaseURL: "https://app.simpiller.com/confirm",
			SendTimeout:    5,
		},
		Auth: config.AuthConfig{
			CronSecret: "cron-secret",
			JWTSecret:  "jwt-secret",
			JWTIssuer:  "simpiller-adherence",
		},
	}

	dispatcher, err := NewReminderDispatcher(&cfg.Notify, NewLoggingTransport(log), repo, log, nil, "UTC")
	require.NoError(t, err)

	sessions := NewSessionManager(repo, clock, log, nil, 2*time.Hour)

	return &Service{
		config:     cfg,
		logger:     log,
		repository: repo,
		sessions:   sessions,
		dispatcher: dispatcher,
		evaluator:  NewDueWindowEvaluator(repo, sessions, dispatcher, clock, log, nil, "UTC"),
		expander:   NewScheduleExpander(repo, clock, log, 15),
		reconciler: NewReconciliationEngine(repo, clock, log, nil, 15),
		calculator: NewAdherenceCalculator(repo, clock, log, 30),
		tokens:     NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
	}, repo
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestCronAuthMiddleware(t *testing.T) {
	s, _ := setupTestService(t, time.Now())

	cases := []struct {
		name       string
		header     string
		wantStatus int
		wantNext   bool
	}{
		{"missing header", "", http.StatusUnauthorized, false},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized, false},
		{"wrong scheme", "Basic cron-secret", http.StatusUnauthorized, false},
		{"correct secret", "Bearer cron-secret", http.StatusOK, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest("POST", "/api/v1/cron/due-tick", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			s.cronAuthMiddleware(okHandler(&called)).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantNext, called)
		})
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	s, _ := setupTestService(t, time.Now())

	token, err := s.tokens.Generate("user-1", "admin", time.Hour)
	require.NoError(t, err)

	called := false
	req := httptest.NewRequest("POST", "/api/v1/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.jwtAuthMiddleware(okHandler(&called)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	called = false
	req = httptest.NewRequest("POST", "/api/v1/admin/reconcile", nil)
	rec = httptest.NewRecorder()

	s.jwtAuthMiddleware(okHandler(&called)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestConfirmHandler_StatusMapping(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		setup      func(repo *MockRepository)
		wantStatus int
	}{
		{
			name: "unknown token",
			setup: func(repo *MockRepository) {
				repo.On("GetSessionByToken", mock.Anything, "tok").Return(nil, types.ErrSessionNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "expired session",
			setup: func(repo *MockRepository) {
				swept := pendingSession(scheduled)
				swept.State = types.SessionExpiredProcessed
				repo.On("GetSessionByToken", mock.Anything, "tok").Return(swept, nil)
			},
			wantStatus: http.StatusGone,
		},
		{
			name: "already completed",
			setup: func(repo *MockRepository) {
				done := pendingSession(scheduled)
				done.State = types.SessionCompleted
				repo.On("GetSessionByToken", mock.Anything, "tok").Return(done, nil)
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, repo := setupTestService(t, scheduled.Add(30*time.Minute))
			tc.setup(repo)

			req := httptest.NewRequest("POST", "/api/v1/confirm", strings.NewReader(`{"session_token":"tok"}`))
			rec := httptest.NewRecorder()

			s.confirmHandler(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestConfirmHandler_Success(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	s, repo := setupTestService(t, scheduled.Add(30*time.Minute))

	repo.On("GetSessionByToken", mock.Anything, "tok").Return(pendingSession(scheduled), nil)
	repo.On("CompleteSession", mock.Anything, "session-1").Return(true, nil)
	repo.On("InsertEvents", mock.Anything, mock.Anything).Return(nil)
	// The incremental reconciliation pass after the confirmation
	repo.On("GetEventsForPatient", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return([]*types.MedicationLogEvent{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/confirm", strings.NewReader(`{"session_token":"tok","evidence":"scan:pack-1"}`))
	rec := httptest.NewRecorder()

	s.confirmHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Confirmation recorded")
}

func TestConfirmHandler_MissingToken(t *testing.T) {
	s, _ := setupTestService(t, time.Now())

	req := httptest.NewRequest("POST", "/api/v1/confirm", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.confirmHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliveryStatusHandler_AlwaysAcknowledges(t *testing.T) {
	s, repo := setupTestService(t, time.Now())

	// Even a failed alert write must not bounce the callback
	repo.On("InsertDeliveryAlert", mock.Anything, mock.Anything).Return(assert.AnError)

	form := url.Values{}
	form.Set("MessageSid", "SM99")
	form.Set("MessageStatus", "failed")
	form.Set("ErrorCode", "30003")
	form.Set("To", "+15555550100")

	req := httptest.NewRequest("POST", "/api/v1/webhooks/delivery-status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.deliveryStatusHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAdherenceHandler(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	s, repo := setupTestService(t, now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return(0, nil)

	req := httptest.NewRequest("GET", "/api/v1/patients/patient-1/adherence?days=30", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "patient-1"})
	rec := httptest.NewRecorder()

	s.getAdherenceHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"score":100`)
}

func TestGetAdherenceHandler_BadDays(t *testing.T) {
	s, _ := setupTestService(t, time.Now())

	req := httptest.NewRequest("GET", "/api/v1/patients/patient-1/adherence?days=-5", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "patient-1"})
	rec := httptest.NewRecorder()

	s.getAdherenceHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpandMedicationHandler(t *testing.T) {
	s, repo := setupTestService(t, time.Now())

	repo.On("GetMedicationByID", mock.Anything, "med-1").Return(&types.Medication{
		ID:        "med-1",
		PatientID: "patient-1",
		Frequency: "morning",
	}, nil)
	repo.On("GetPatientByID", mock.Anything, "patient-1").Return(&types.Patient{ID: "patient-1"}, nil)
	repo.On("ReplaceSchedules", mock.Anything, "med-1", mock.Anything).Return(nil)

	req := httptest.NewRequest("POST", "/api/v1/admin/medications/med-1/expand", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "med-1"})
	rec := httptest.NewRecorder()

	s.expandMedicationHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "06:00:00")
}
