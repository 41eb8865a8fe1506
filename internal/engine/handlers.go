package engine

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/simpiller/adherence/pkg/types"
)

// setupRoutes configures HTTP routes for the adherence service
func (s *Service) setupRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Cron trigger routes, authenticated with the shared trigger secret
	cron := api.PathPrefix("/cron").Subrouter()
	cron.Use(s.cronAuthMiddleware)
	cron.HandleFunc("/due-tick", s.dueTickHandler).Methods("POST")
	cron.HandleFunc("/expire-sweep", s.expireSweepHandler).Methods("POST")

	// Patient-facing confirmation; the session token is the only credential
	api.HandleFunc("/confirm", s.confirmHandler).Methods("POST")

	// Transport delivery-status callback
	api.HandleFunc("/webhooks/delivery-status", s.deliveryStatusHandler).Methods("POST")

	// Admin routes, authenticated with JWT
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.jwtAuthMiddleware)
	admin.HandleFunc("/reconcile", s.reconcileHandler).Methods("POST")
	admin.HandleFunc("/medications/{id}/expand", s.expandMedicationHandler).Methods("POST")
	admin.HandleFunc("/alerts", s.getDeliveryAlertsHandler).Methods("GET")

	// Patient adherence scores
	patients := api.PathPrefix("/patients").Subrouter()
	patients.Use(s.jwtAuthMiddleware)
	patients.HandleFunc("/{id}/adherence", s.getAdherenceHandler).Methods("GET")

	// Health and metrics
	api.HandleFunc("/health", s.health.HTTPHandler()).Methods("GET")
	router.HandleFunc(s.config.Monitoring.HealthPath, s.health.HTTPHandler()).Methods("GET")
	router.Handle(s.config.Monitoring.MetricsPath, s.metrics.Handler()).Methods("GET")

	s.logger.Info("Adherence service routes configured")
}

// cronAuthMiddleware authenticates scheduled trigger requests with the shared
// cron secret
func (s *Service) cronAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Auth.CronSecret)) != 1 {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Invalid trigger secret", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jwtAuthMiddleware authenticates admin and read requests with a JWT
func (s *Service) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Missing authorization token", nil)
			return
		}

		if _, err := s.tokens.Validate(token); err != nil {
			s.writeErrorResponse(w, http.StatusUnauthorized, "Invalid authorization token", err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the bearer token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// dueTickHandler handles the scheduled due-window evaluation trigger
func (s *Service) dueTickHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.RunDueTick(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Due tick failed", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, result)
}

// expireSweepHandler handles the scheduled expiry sweep trigger
func (s *Service) expireSweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.RunExpireSweep(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Expire sweep failed", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, result)
}

// confirmHandler handles an inbound dose confirmation
func (s *Service) confirmHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Token    string `json:"session_token"`
		Evidence string `json:"evidence"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if request.Token == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Token is required", nil)
		return
	}

	events, err := s.Confirm(r.Context(), request.Token, request.Evidence)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSessionNotFound):
			s.writeErrorResponse(w, http.StatusNotFound, "Confirmation session not found", nil)
		case errors.Is(err, types.ErrSessionExpired):
			s.writeErrorResponse(w, http.StatusGone, "Confirmation session expired", nil)
		case errors.Is(err, types.ErrSessionAlreadyCompleted):
			s.writeErrorResponse(w, http.StatusConflict, "Confirmation session already completed", nil)
		default:
			s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to record confirmation", err)
		}
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Confirmation recorded",
		"events":  events,
	})
}

// deliveryStatusHandler handles delivery status callbacks from the transport.
// The transport retries on non-2xx, so this endpoint acknowledges every
// well-formed request even when processing fails.
func (s *Service) deliveryStatusHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warnf("Malformed delivery status callback: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	update := &DeliveryStatusUpdate{
		TransportMessageID: r.FormValue("MessageSid"),
		Status:             r.FormValue("MessageStatus"),
		ErrorCode:          r.FormValue("ErrorCode"),
		To:                 r.FormValue("To"),
	}

	if err := s.dispatcher.HandleDeliveryStatus(r.Context(), update); err != nil {
		s.logger.Errorf("Failed to process delivery status for message %s: %v", update.TransportMessageID, err)
	}

	w.WriteHeader(http.StatusOK)
}

// reconcileHandler handles a reconciliation run. An empty patient_id runs the
// full catch-up batch.
func (s *Service) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PatientID string `json:"patient_id"`
	}

	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	result, err := s.Reconcile(r.Context(), request.PatientID)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, result)
}

// expandMedicationHandler handles schedule expansion for a medication
func (s *Service) expandMedicationHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	medicationID := vars["id"]

	schedules, err := s.ExpandMedication(r.Context(), medicationID)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Failed to expand medication schedules", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, schedules)
}

// getAdherenceHandler handles adherence score retrieval
func (s *Service) getAdherenceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	patientID := vars["id"]

	periodDays := 0
	if days := r.URL.Query().Get("days"); days != "" {
		parsed, err := strconv.Atoi(days)
		if err != nil || parsed <= 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		periodDays = parsed
	}

	score, err := s.Score(r.Context(), patientID, periodDays)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute adherence score", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, score)
}

// getDeliveryAlertsHandler handles delivery alert listing
func (s *Service) getDeliveryAlertsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	alerts, err := s.repository.GetDeliveryAlerts(r.Context(), limit, offset)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get delivery alerts", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, alerts)
}

// writeJSONResponse writes a JSON response
func (s *Service) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response
func (s *Service) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		s.logger.Errorf("%s: %v", message, err)
	}

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	s.writeJSONResponse(w, statusCode, response)
}
