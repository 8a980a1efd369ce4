package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

const zulipStream = "earthquakes"

type zulipMessage struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

// ZulipSender posts alert messages through the Zulip REST API using bot
// credentials carried in the endpoint string. Zulip answers 200 with
// {"result": "success"} on success.
type ZulipSender struct {
	endpoint ZulipEndpoint
	client   *http.Client
	logger   *slog.Logger
}

func NewZulipSender(ep ZulipEndpoint, client *http.Client, logger *slog.Logger) *ZulipSender {
	return &ZulipSender{endpoint: ep, client: client, logger: logger}
}

// Send posts the first event of the batch to the earthquakes stream, or a
// test message when the batch is empty.
func (z *ZulipSender) Send(ctx context.Context, events []domain.Earthquake) error {
	var msg zulipMessage
	if len(events) == 0 {
		msg = zulipMessage{
			Type:    "stream",
			To:      "general",
			Topic:   "Quake Alert Test",
			Content: "🔔 **Test Notification from Quake Alert Service**\n\nYour webhook is configured correctly!",
		}
	} else {
		msg = zulipAlertMessage(events[0])
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+basicAuth(z.endpoint.Email, z.endpoint.Key))

	status, body, err := postJSON(ctx, z.client, z.endpoint.URL, header, msg)
	if err != nil {
		return fmt.Errorf("zulip send: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("zulip send: status %d: %s", status, body)
	}

	var result struct {
		Result string `json:"result"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("zulip send: decode response: %w", err)
	}
	if result.Result != "success" {
		return fmt.Errorf("zulip send: api result %q: %s", result.Result, result.Msg)
	}
	z.logger.Debug("zulip alert delivered", "events", len(events))
	return nil
}

func zulipAlertMessage(ev domain.Earthquake) zulipMessage {
	mag := formatMagnitude(ev.Magnitude)
	content := fmt.Sprintf(`🚨 **Earthquake Alert: Magnitude %s**

**Location**: %s
**Depth**: %g km
**Coordinates**: [%g, %g](%s)
**Time**: %s

%s`,
		mag, ev.Location, ev.Depth,
		ev.Latitude, ev.Longitude, mapsURL(ev),
		ev.OccurredAt.Format(time.RFC3339), dataCredit)

	return zulipMessage{
		Type:    "stream",
		To:      zulipStream,
		Topic:   fmt.Sprintf("M%s - %s", mag, ev.Location),
		Content: content,
	}
}
