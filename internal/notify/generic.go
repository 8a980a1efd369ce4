package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

// GenericSender posts the whole batch as JSON to an arbitrary endpoint.
// Any 2xx status is success.
type GenericSender struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewGenericSender(url string, client *http.Client, logger *slog.Logger) *GenericSender {
	return &GenericSender{url: url, client: client, logger: logger}
}

// Send posts all events of the batch, or a small test object when the
// batch is empty.
func (g *GenericSender) Send(ctx context.Context, events []domain.Earthquake) error {
	var payload any
	if len(events) == 0 {
		payload = map[string]any{
			"message":   "Test notification from Quake Alert Service",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"status":    "test",
		}
	} else {
		payload = map[string]any{
			"count": len(events),
			"data":  events,
		}
	}

	status, body, err := postJSON(ctx, g.client, g.url, nil, payload)
	if err != nil {
		return fmt.Errorf("generic send: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("generic send: status %d: %s", status, body)
	}
	g.logger.Debug("generic alert delivered", "events", len(events))
	return nil
}
