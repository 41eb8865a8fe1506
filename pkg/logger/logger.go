package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with engine-specific helpers
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithComponent creates a new logger entry with a component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithPatientID creates a new logger entry with a patient ID field
func (l *Logger) WithPatientID(patientID string) *logrus.Entry {
	return l.Logger.WithField("patient_id", patientID)
}

// WithSessionID creates a new logger entry with a confirmation session ID field
func (l *Logger) WithSessionID(sessionID string) *logrus.Entry {
	return l.Logger.WithField("session_id", sessionID)
}

// OperationalAlert logs a transport-level delivery problem that needs human
// review. These are warnings, not errors: the engine does not retry them.
func (l *Logger) OperationalAlert(messageID, status, errorCode string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"alert":       true,
		"message_id":  messageID,
		"status":      status,
		"error_code":  errorCode,
		"details":    details,
	}).Warn("Delivery failure reported by transport")
}

// BatchSummary logs the outcome of a batch job run
func (l *Logger) BatchSummary(job string, processed, updated int, errs []string) {
	entry := l.Logger.WithFields(logrus.Fields{
		"job":       job,
		"processed": processed,
		"updated":   updated,
		"errors":    len(errs),
	})

	if len(errs) > 0 {
		entry.Warn("Batch job completed with item errors")
	} else {
		entry.Info("Batch job completed")
	}
}
