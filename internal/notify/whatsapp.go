package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

type whatsAppText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsAppMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type,omitempty"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *whatsAppText `json:"text,omitempty"`
}

// WhatsAppSender posts free-form text alerts through the WhatsApp Cloud API
// to one fixed recipient. The Cloud API answers 200 on success.
type WhatsAppSender struct {
	endpoint  WhatsAppEndpoint
	recipient string
	client    *http.Client
	logger    *slog.Logger
}

func NewWhatsAppSender(ep WhatsAppEndpoint, recipient string, client *http.Client, logger *slog.Logger) *WhatsAppSender {
	return &WhatsAppSender{endpoint: ep, recipient: recipient, client: client, logger: logger}
}

// Send posts the first event of the batch as a text message, or a test
// message when the batch is empty.
func (w *WhatsAppSender) Send(ctx context.Context, events []domain.Earthquake) error {
	if w.recipient == "" {
		return errors.New("whatsapp send: no default recipient configured")
	}

	var body string
	if len(events) == 0 {
		body = "🔔 *Test Notification from Quake Alert Service*\n\nYour webhook is configured correctly!"
	} else {
		body = whatsAppAlertBody(events[0])
	}

	msg := whatsAppMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               w.recipient,
		Type:             "text",
		Text:             &whatsAppText{PreviewURL: true, Body: body},
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.endpoint.Token)

	status, respBody, err := postJSON(ctx, w.client, w.endpoint.BaseURL+"/messages", header, msg)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("whatsapp send: status %d: %s", status, respBody)
	}
	w.logger.Debug("whatsapp alert delivered", "events", len(events))
	return nil
}

func whatsAppAlertBody(ev domain.Earthquake) string {
	return fmt.Sprintf(`🚨 *Earthquake Alert: Magnitude %s*

*Location*: %s
*Depth*: %g km
*Coordinates*: %g, %g
*Time*: %s

Maps: %s

%s`,
		formatMagnitude(ev.Magnitude), ev.Location, ev.Depth,
		ev.Latitude, ev.Longitude,
		ev.OccurredAt.Format(time.RFC3339), mapsURL(ev), dataCredit)
}
