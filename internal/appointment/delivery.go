package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deliverer persists or pushes one notification. Failures are logged by the
// caller and never undo the transition that produced the notification.
type Deliverer interface {
	Deliver(ctx context.Context, n *Notification) error
}

// StoreDeliverer writes notification rows for the in-app inbox.
type StoreDeliverer struct {
	repo Repository
}

func NewStoreDeliverer(repo Repository) *StoreDeliverer {
	return &StoreDeliverer{repo: repo}
}

func (d *StoreDeliverer) Deliver(ctx context.Context, n *Notification) error {
	return d.repo.InsertNotification(ctx, n)
}

type publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, payload []byte) error
}

// PublishingDeliverer stores the notification, then pushes it to the
// recipient's live channel. A failed push is only logged since the row exists.
type PublishingDeliverer struct {
	next Deliverer
	pub  publisher
	log  zerolog.Logger
}

func NewPublishingDeliverer(next Deliverer, pub publisher, log zerolog.Logger) *PublishingDeliverer {
	return &PublishingDeliverer{next: next, pub: pub, log: log}
}

func (d *PublishingDeliverer) Deliver(ctx context.Context, n *Notification) error {
	if err := d.next.Deliver(ctx, n); err != nil {
		return err
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.pub.Publish(ctx, n.UserID, payload); err != nil {
		d.log.Warn().Err(err).Str("user_id", n.UserID.String()).Msg("notification push failed")
	}
	return nil
}

// ConfirmationPayload is what the confirmation e-mail is rendered from.
type ConfirmationPayload struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PatientName     string    `json:"patient_name"`
	PatientEmail    string    `json:"patient_email"`
	DoctorName      string    `json:"doctor_name,omitempty"`
	Specialty       string    `json:"specialty,omitempty"`
	Location        string    `json:"location,omitempty"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Mailer sends the patient self-service confirmation. It reports success
// instead of failing so creation never depends on it.
type Mailer interface {
	SendAppointmentConfirmation(ctx context.Context, p ConfirmationPayload) bool
}

// LogMailer only records that a confirmation would have been sent.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendAppointmentConfirmation(ctx context.Context, p ConfirmationPayload) bool {
	m.log.Info().
		Str("appointment_id", p.AppointmentID.String()).
		Str("to", p.PatientEmail).
		Time("scheduled_start", p.ScheduledStart).
		Msg("appointment confirmation e-mail")
	return true
}

// HTTPMailer posts the payload to a transactional e-mail API.
type HTTPMailer struct {
	url    string
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

func NewHTTPMailer(url, apiKey string, log zerolog.Logger) *HTTPMailer {
	return &HTTPMailer{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

func (m *HTTPMailer) SendAppointmentConfirmation(ctx context.Context, p ConfirmationPayload) bool {
	if p.PatientEmail == "" {
		m.log.Warn().Str("appointment_id", p.AppointmentID.String()).Msg("patient has no e-mail, confirmation skipped")
		return false
	}

	body, err := json.Marshal(map[string]any{
		"template": "appointment_confirmation",
		"to":       p.PatientEmail,
		"data":     p,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("encode confirmation e-mail")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		m.log.Error().Err(err).Msg("build confirmation e-mail request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Str("appointment_id", p.AppointmentID.String()).Msg("confirmation e-mail not sent")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		m.log.Warn().Int("status", resp.StatusCode).Str("appointment_id", p.AppointmentID.String()).Msg("confirmation e-mail rejected")
		return false
	}
	return true
}
