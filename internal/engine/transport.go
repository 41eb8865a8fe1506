package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/simpiller/adherence/pkg/config"
	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

// httpTransport sends messages through the carrier's REST API. The transport
// layer itself is external to the engine; this client only covers the
// send(to, body) capability with a short network timeout.
type httpTransport struct {
	client     *http.Client
	endpoint   string
	accountSID string
	authToken  string
	from       string
	logger     *logger.Logger
}

// NewHTTPTransport creates a Transport backed by the carrier REST API.
func NewHTTPTransport(cfg *config.NotifyConfig, log *logger.Logger) interfaces.Transport {
	return &httpTransport{
		client: &http.Client{
			Timeout: time.Duration(cfg.SendTimeout) * time.Second,
		},
		endpoint:   fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", cfg.AccountSID),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		logger:     log,
	}
}

// Send submits one outbound message. A nil error with Accepted=true means the
// carrier queued the message, nothing more.
func (t *httpTransport) Send(ctx context.Context, to, body string) (*types.DeliveryResult, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build send request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.DeliveryResult{Accepted: false}, fmt.Errorf("transport rejected message: status %d", resp.StatusCode)
	}

	var payload struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		// Accepted but unparseable response; keep going without the id.
		t.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("Failed to decode transport response")
	}

	return &types.DeliveryResult{Accepted: true, MessageID: payload.SID}, nil
}

// loggingTransport is the no-op transport used when notifications are
// disabled; messages are logged instead of sent.
type loggingTransport struct {
	logger *logger.Logger
}

// NewLoggingTransport creates a Transport that only logs.
func NewLoggingTransport(log *logger.Logger) interfaces.Transport {
	return &loggingTransport{logger: log}
}

func (t *loggingTransport) Send(ctx context.Context, to, body string) (*types.DeliveryResult, error) {
	t.logger.WithFields(map[string]interface{}{
		"to":   to,
		"body": body,
	}).Info("Notifications disabled; reminder logged only")
	return &types.DeliveryResult{Accepted: true, MessageID: "logged"}, nil
}
