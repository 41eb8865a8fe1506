package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/simpiller/adherence/pkg/config"
	"github.com/simpiller/adherence/pkg/database"
	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/monitoring"
	"github.com/simpiller/adherence/pkg/types"
)

// Service implements the AdherenceService interface. It owns the component
// wiring and the HTTP surface; all scheduling logic lives in the components.
type Service struct {
	config     *config.Config
	logger     *logger.Logger
	repository interfaces.AdherenceRepository
	db         *database.DB
	server     *http.Server

	expander   *ScheduleExpander
	evaluator  *DueWindowEvaluator
	sessions   *SessionManager
	dispatcher *ReminderDispatcher
	reconciler *ReconciliationEngine
	calculator *AdherenceCalculator

	metrics *monitoring.MetricsCollector
	health  *monitoring.HealthManager
	tokens  *TokenValidator
}

// realClock reads the system clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// New creates a new adherence service with all components wired
func New(cfg *config.Config, log *logger.Logger) (interfaces.AdherenceService, error) {
	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := db.CreateSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// Initialize repository
	repository := NewRepository(db, log)

	clock := realClock{}
	metrics := monitoring.NewMetricsCollector("adherence")

	// When notifications are disabled reminders are logged, not sent.
	var transport interfaces.Transport
	if cfg.Notify.Enabled {
		transport = NewHTTPTransport(&cfg.Notify, log)
	} else {
		transport = NewLoggingTransport(log)
	}

	dispatcher, err := NewReminderDispatcher(&cfg.Notify, transport, repository, log, metrics, cfg.Engine.DefaultTimezone)
	if err != nil {
		db.Close()
		return nil, err
	}

	sessions := NewSessionManager(repository, clock, log, metrics,
		time.Duration(cfg.Engine.SessionTTLHours)*time.Hour)
	evaluator := NewDueWindowEvaluator(repository, sessions, dispatcher, clock, log, metrics, cfg.Engine.DefaultTimezone)
	expander := NewScheduleExpander(repository, clock, log, cfg.Engine.DefaultAdvanceWindowMinutes)
	reconciler := NewReconciliationEngine(repository, clock, log, metrics, cfg.Engine.ReconcileBucketMinutes)
	calculator := NewAdherenceCalculator(repository, clock, log, cfg.Engine.AdherencePeriodDays)

	health := monitoring.NewHealthManager("adherence")
	health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))

	return &Service{
		config:     cfg,
		logger:     log,
		repository: repository,
		db:         db,
		expander:   expander,
		evaluator:  evaluator,
		sessions:   sessions,
		dispatcher: dispatcher,
		reconciler: reconciler,
		calculator: calculator,
		metrics:    metrics,
		health:     health,
		tokens:     NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
	}, nil
}

// RunDueTick evaluates all active schedules against the current time
func (s *Service) RunDueTick(ctx context.Context) (*types.TickResult, error) {
	return s.evaluator.RunTick(ctx)
}

// RunExpireSweep processes expired pending sessions into MISSED events
func (s *Service) RunExpireSweep(ctx context.Context) (*types.SweepResult, error) {
	return s.sessions.ExpireSweep(ctx, time.Now())
}

// Confirm completes the session identified by token and records TAKEN events.
// A successful confirmation triggers an incremental reconciliation pass for
// the patient so an earlier miss in the same time bucket is corrected at once.
func (s *Service) Confirm(ctx context.Context, token, evidence string) ([]*types.MedicationLogEvent, error) {
	events, err := s.sessions.Complete(ctx, token, evidence)
	if err != nil {
		return nil, err
	}

	if len(events) > 0 {
		if _, err := s.reconciler.Reconcile(ctx, events[0].PatientID); err != nil {
			// The nightly batch pass covers this patient anyway.
			s.logger.WithPatientID(events[0].PatientID).Warnf("Incremental reconciliation failed: %v", err)
		}
	}

	return events, nil
}

// Reconcile runs the correction pass for one patient, or for every patient
// present in the log when patientID is empty
func (s *Service) Reconcile(ctx context.Context, patientID string) (*types.ReconcileResult, error) {
	return s.reconciler.Reconcile(ctx, patientID)
}

// ExpandMedication recomputes and replaces the schedule rows for a medication
func (s *Service) ExpandMedication(ctx context.Context, medicationID string) ([]*types.Schedule, error) {
	med, err := s.repository.GetMedicationByID(ctx, medicationID)
	if err != nil {
		return nil, err
	}

	patient, err := s.repository.GetPatientByID(ctx, med.PatientID)
	if err != nil {
		return nil, err
	}

	return s.expander.Expand(ctx, med, patient)
}

// Score computes the adherence score for a patient
func (s *Service) Score(ctx context.Context, patientID string, periodDays int) (*types.AdherenceScore, error) {
	return s.calculator.Score(ctx, patientID, periodDays)
}

// Start starts the HTTP server
func (s *Service) Start(addr string) error {
	router := mux.NewRouter()
	router.Use(s.metrics.HTTPMiddleware)
	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}

	s.logger.Infof("Starting Adherence Service on %s", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the adherence service
func (s *Service) Stop() error {
	if s.server != nil {
		s.logger.Info("Stopping Adherence Service")
		if err := s.server.Close(); err != nil {
			return err
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
