package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simpiller/adherence/pkg/config"
	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/monitoring"
	"github.com/simpiller/adherence/pkg/types"
)

// ReminderDispatcher formats and sends the outbound confirmation request for
// a session, and records delivery outcomes as they arrive on the status
// webhook. It never retries a message itself; the next tick is the retry
// mechanism, gated by the evaluator's same-day guard.
type ReminderDispatcher struct {
	transport   interfaces.Transport
	repo        interfaces.AdherenceRepository
	logger      *logger.Logger
	metrics     *monitoring.MetricsCollector
	baseURL     string
	sendTimeout time.Duration
	defaultTZ   string
}

// NewReminderDispatcher creates a new reminder dispatcher. Missing transport
// credentials are fatal here and only here: the rest of the engine runs fine
// without an outbound transport.
func NewReminderDispatcher(
	cfg *config.NotifyConfig,
	transport interfaces.Transport,
	repo interfaces.AdherenceRepository,
	log *logger.Logger,
	metrics *monitoring.MetricsCollector,
	defaultTZ string,
) (*ReminderDispatcher, error) {
	if cfg.Enabled && (cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "") {
		return nil, types.NewConfigurationError(types.ErrCodeMissingSecret,
			"outbound transport credentials are required when notifications are enabled")
	}

	return &ReminderDispatcher{
		transport:   transport,
		repo:        repo,
		logger:      log,
		metrics:     metrics,
		baseURL:     strings.TrimRight(cfg.ConfirmBaseURL, "/"),
		sendTimeout: time.Duration(cfg.SendTimeout) * time.Second,
		defaultTZ:   defaultTZ,
	}, nil
}

// Send builds the confirmation request text and hands it to the transport.
// A true result means the transport accepted the message, not that it was
// delivered; delivery outcomes arrive later via HandleDeliveryStatus.
func (d *ReminderDispatcher) Send(ctx context.Context, session *types.ConfirmationSession, patient *types.Patient) (*types.DeliveryResult, error) {
	body := d.buildMessage(session, patient)

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	result, err := d.transport.Send(sendCtx, patient.Phone, body)
	if d.metrics != nil {
		d.metrics.RecordReminderSent(err == nil && result != nil && result.Accepted)
	}
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeTransportFailed,
			"transport did not accept reminder", err)
	}

	d.logger.WithFields(map[string]interface{}{
		"session_id": session.ID,
		"message_id": result.MessageID,
		"accepted":   result.Accepted,
	}).Info("Reminder dispatched")

	return result, nil
}

// buildMessage renders the reminder text: privacy-truncated name, local dose
// time, and the confirmation link embedding the session token.
func (d *ReminderDispatcher) buildMessage(session *types.ConfirmationSession, patient *types.Patient) string {
	loc, err := time.LoadLocation(patient.Timezone)
	if err != nil || patient.Timezone == "" {
		loc, err = time.LoadLocation(d.defaultTZ)
		if err != nil {
			loc = time.UTC
		}
	}

	localTime := session.ScheduledTime.In(loc).Format("3:04 PM")
	link := fmt.Sprintf("%s/%s", d.baseURL, session.Token)

	return fmt.Sprintf(
		"Hi %s, it's time for your %s medication. Reply by scanning your pack or tap to confirm: %s",
		DisplayName(patient), localTime, link,
	)
}

// DeliveryStatusUpdate is the payload the transport posts back when a
// message's delivery state changes.
type DeliveryStatusUpdate struct {
	TransportMessageID string `json:"transport_message_id"`
	Status             string `json:"status"`
	ErrorCode          string `json:"error_code,omitempty"`
	To                 string `json:"to"`
}

// HandleDeliveryStatus records an asynchronous delivery-status callback. A
// failed or undelivered status raises an operational alert row for human
// review; it is never an error back to the transport, which must always get
// a success response so it stops retrying.
func (d *ReminderDispatcher) HandleDeliveryStatus(ctx context.Context, update *DeliveryStatusUpdate) error {
	status := types.DeliveryStatus(update.Status)

	if status != types.DeliveryFailed && status != types.DeliveryUndelivered {
		d.logger.WithFields(map[string]interface{}{
			"message_id": update.TransportMessageID,
			"status":     update.Status,
		}).Debug("Delivery status update")
		return nil
	}

	d.logger.OperationalAlert(update.TransportMessageID, update.Status, update.ErrorCode, map[string]interface{}{
		"to": update.To,
	})
	if d.metrics != nil {
		d.metrics.RecordDeliveryAlert(update.ErrorCode)
	}

	alert := &types.DeliveryAlert{
		ID:                 uuid.New().String(),
		TransportMessageID: update.TransportMessageID,
		To:                 update.To,
		Status:             update.Status,
		ErrorCode:          update.ErrorCode,
	}
	if err := d.repo.InsertDeliveryAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to record delivery alert: %w", err)
	}

	return nil
}

// DisplayName reduces a patient's name to first name plus last initial.
func DisplayName(patient *types.Patient) string {
	first := strings.TrimSpace(patient.FirstName)
	last := strings.TrimSpace(patient.LastName)

	if last == "" {
		return first
	}
	return fmt.Sprintf("%s %s.", first, strings.ToUpper(last[:1]))
}
