package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for the adherence engine
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	if err := db.createExtensions(ctx); err != nil {
		return fmt.Errorf("failed to create extensions: %w", err)
	}

	tables := []string{
		createPatientsTable,
		createMedicationsTable,
		createSchedulesTable,
		createConfirmationSessionsTable,
		createMedicationLogTable,
		createDeliveryAlertsTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createSchedulesIndexes,
		createSessionsIndexes,
		createMedicationLogIndexes,
		createDeliveryAlertsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// createExtensions creates required PostgreSQL extensions
func (db *DB) createExtensions(ctx context.Context) error {
	extensions := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	}

	for _, ext := range extensions {
		if _, err := db.ExecContext(ctx, ext); err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}
	}

	return nil
}

// SQL DDL statements for table creation
const (
	createPatientsTable = `
		CREATE TABLE IF NOT EXISTS patients (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			phone VARCHAR(20) NOT NULL,
			timezone VARCHAR(64) NOT NULL DEFAULT 'America/Denver',
			morning_time TIME,
			afternoon_time TIME,
			evening_time TIME,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createMedicationsTable = `
		CREATE TABLE IF NOT EXISTS medications (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			patient_id UUID NOT NULL REFERENCES patients(id),
			name VARCHAR(200) NOT NULL,
			frequency VARCHAR(100) NOT NULL,
			custom_time TIME,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createSchedulesTable = `
		CREATE TABLE IF NOT EXISTS schedules (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			medication_id UUID NOT NULL REFERENCES medications(id),
			patient_id UUID NOT NULL REFERENCES patients(id),
			time_of_day TIME NOT NULL,
			days_of_week_mask SMALLINT NOT NULL DEFAULT 127,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			advance_window_minutes INTEGER NOT NULL DEFAULT 15,
			notify_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createConfirmationSessionsTable = `
		CREATE TABLE IF NOT EXISTS confirmation_sessions (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			token VARCHAR(64) UNIQUE NOT NULL,
			patient_id UUID NOT NULL REFERENCES patients(id),
			schedule_id UUID NOT NULL REFERENCES schedules(id),
			medication_ids UUID[] NOT NULL,
			scheduled_time TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			state VARCHAR(20) NOT NULL DEFAULT 'pending',
			processed_for_missed TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createMedicationLogTable = `
		CREATE TABLE IF NOT EXISTS medication_log (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			patient_id UUID NOT NULL REFERENCES patients(id),
			medication_id UUID NOT NULL REFERENCES medications(id),
			schedule_id UUID REFERENCES schedules(id),
			event_time TIMESTAMP WITH TIME ZONE NOT NULL,
			status VARCHAR(10) NOT NULL,
			source VARCHAR(30) NOT NULL,
			raw_evidence TEXT,
			original_status VARCHAR(10),
			fixed_at TIMESTAMP WITH TIME ZONE,
			fix_reason TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createDeliveryAlertsTable = `
		CREATE TABLE IF NOT EXISTS delivery_alerts (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			transport_message_id VARCHAR(64) NOT NULL,
			recipient VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			error_code VARCHAR(20),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			reviewed_at TIMESTAMP WITH TIME ZONE
		);`
)

// SQL DDL statements for index creation
const (
	createSchedulesIndexes = `
		CREATE INDEX IF NOT EXISTS idx_schedules_medication ON schedules(medication_id);
		CREATE INDEX IF NOT EXISTS idx_schedules_patient ON schedules(patient_id);
		CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(active, notify_enabled);`

	createSessionsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_sessions_token ON confirmation_sessions(token);
		CREATE INDEX IF NOT EXISTS idx_sessions_state_expiry ON confirmation_sessions(state, expires_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_patient_schedule ON confirmation_sessions(patient_id, schedule_id, scheduled_time);`

	createMedicationLogIndexes = `
		CREATE INDEX IF NOT EXISTS idx_medication_log_patient_time ON medication_log(patient_id, event_time);
		CREATE INDEX IF NOT EXISTS idx_medication_log_status ON medication_log(status);`

	createDeliveryAlertsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_delivery_alerts_created ON delivery_alerts(created_at);`
)
