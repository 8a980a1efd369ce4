// Package notify delivers earthquake alerts to registered channels and
// WhatsApp subscription recipients.
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

// ErrBadEndpoint marks a channel whose stored endpoint string cannot be
// parsed for its kind. Such channels are rejected at adapter construction,
// before any delivery is attempted.
var ErrBadEndpoint = errors.New("notify: malformed channel endpoint")

// Adapter delivers one batch of new events to a single destination.
// An empty batch is a connectivity test: the adapter sends its test
// payload instead of an alert.
type Adapter interface {
	Send(ctx context.Context, events []domain.Earthquake) error
}

// Factory builds adapters for registered channels.
type Factory struct {
	httpClient *http.Client
	logger     *slog.Logger

	// whatsAppRecipient is the destination phone for the whatsapp channel
	// kind. Channel-kind sends have a single fixed recipient; per-recipient
	// fan-out goes through TemplateClient instead.
	whatsAppRecipient string
}

// NewFactory creates an adapter factory. All HTTP-backed adapters share one
// client.
func NewFactory(logger *slog.Logger, whatsAppRecipient string) *Factory {
	return &Factory{
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		logger:            logger,
		whatsAppRecipient: whatsAppRecipient,
	}
}

// ForChannel returns the adapter for a channel's kind. Unknown kinds and
// malformed endpoints fail here so the dispatcher never holds a half-built
// sender.
func (f *Factory) ForChannel(ch domain.Channel) (Adapter, error) {
	switch ch.Kind {
	case domain.KindDiscord:
		return NewDiscordSender(ch.Endpoint, f.httpClient, f.logger), nil
	case domain.KindZulip:
		ep, err := ParseZulipEndpoint(ch.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewZulipSender(ep, f.httpClient, f.logger), nil
	case domain.KindWhatsApp:
		ep, err := ParseWhatsAppEndpoint(ch.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewWhatsAppSender(ep, f.whatsAppRecipient, f.httpClient, f.logger), nil
	case domain.KindGeneric:
		return NewGenericSender(ch.Endpoint, f.httpClient, f.logger), nil
	case domain.KindKafka:
		ep, err := ParseKafkaEndpoint(ch.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewKafkaSender(ep, f.logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown channel kind %q", ch.Kind)
	}
}
