package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// EmergencyEmail is the templated outbound message sent to one matched donor.
type EmergencyEmail struct {
	To            string `json:"to"`
	ToName        string `json:"to_name"`
	From          string `json:"from"`
	Subject       string `json:"subject"`
	HospitalName  string `json:"hospital_name"`
	BloodGroup    string `json:"blood_group"`
	Units         int    `json:"units"`
	LocationLabel string `json:"location_label"`
	ContactNumber string `json:"contact_number"`
	Body          string `json:"body"`
}

// EmailSender is the outbound transport boundary. Send failures are
// TransportErrors: caught per recipient by the fan-out, never surfaced to the
// request-creation caller.
type EmailSender interface {
	Send(ctx context.Context, msg EmergencyEmail) error
}

// HTTPEmailSender posts JSON to a mail-provider HTTP endpoint using a bearer
// key.
type HTTPEmailSender struct {
	Endpoint string
	Key      string
	From     string
	Client   *http.Client
}

func NewHTTPEmailSender(endpoint, key, from string) *HTTPEmailSender {
	return &HTTPEmailSender{Endpoint: endpoint, Key: key, From: from, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (h *HTTPEmailSender) Send(ctx context.Context, msg EmergencyEmail) error {
	if msg.From == "" {
		msg.From = h.From
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Key != "" {
		req.Header.Set("Authorization", "Bearer "+h.Key)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned %s", resp.Status)
	}
	return nil
}

// LogSender logs the message instead of sending it. Used when no provider
// endpoint is configured, typically local runs.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) Send(ctx context.Context, msg EmergencyEmail) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("emergency email (dry run)", "to", msg.To, "blood_group", msg.BloodGroup, "hospital", msg.HospitalName)
	return nil
}

func emailBody(msg EmergencyEmail) string {
	return fmt.Sprintf("%s urgently needs %d unit(s) of %s blood near %s. If you can donate, please call %s.",
		msg.HospitalName, msg.Units, msg.BloodGroup, msg.LocationLabel, msg.ContactNumber)
}
