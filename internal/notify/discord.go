package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

// Discord embed colors by severity.
const (
	colorGreen  = 3066993
	colorYellow = 16776960
	colorRed    = 16711680
)

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
	Timestamp string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

// DiscordSender posts alert embeds to a Discord webhook. Discord answers
// 204 No Content on success.
type DiscordSender struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewDiscordSender(url string, client *http.Client, logger *slog.Logger) *DiscordSender {
	return &DiscordSender{url: url, client: client, logger: logger}
}

// Send posts the first event of the batch as an alert embed, or a test
// message when the batch is empty. Only the first event goes out so a large
// backlog cycle does not flood the channel.
func (d *DiscordSender) Send(ctx context.Context, events []domain.Earthquake) error {
	var payload discordPayload
	if len(events) == 0 {
		payload = discordTestPayload()
	} else {
		payload = discordAlertPayload(events[0])
	}

	status, body, err := postJSON(ctx, d.client, d.url, nil, payload)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("discord send: status %d: %s", status, body)
	}
	d.logger.Debug("discord alert delivered", "events", len(events))
	return nil
}

func discordTestPayload() discordPayload {
	embed := discordEmbed{
		Title:       "This is a test message",
		Description: "Your webhook is configured correctly!",
		Color:       colorGreen,
	}
	embed.Footer.Text = "Sent on " + time.Now().UTC().Format("2006-01-02 15:04:05")
	return discordPayload{
		Content: "🔔 **Test Notification from Quake Alert Service**",
		Embeds:  []discordEmbed{embed},
	}
}

func discordAlertPayload(ev domain.Earthquake) discordPayload {
	mag := formatMagnitude(ev.Magnitude)

	color := colorRed
	if ev.Magnitude != nil {
		switch {
		case *ev.Magnitude < 4.0:
			color = colorGreen
		case *ev.Magnitude < 5.5:
			color = colorYellow
		}
	}

	embed := discordEmbed{
		Title:       "Earthquake in " + ev.Location,
		Description: fmt.Sprintf("A magnitude **%s** earthquake has been detected.", mag),
		Color:       color,
		Fields: []discordEmbedField{
			{Name: "Location", Value: ev.Location, Inline: true},
			{Name: "Depth", Value: fmt.Sprintf("%g km", ev.Depth), Inline: true},
			{Name: "Coordinates", Value: fmt.Sprintf("[%g, %g](%s)", ev.Latitude, ev.Longitude, mapsURL(ev)), Inline: true},
		},
		Timestamp: ev.OccurredAt.Format(time.RFC3339),
	}
	embed.Footer.Text = dataCredit

	return discordPayload{
		Content: fmt.Sprintf("🚨 **Earthquake Alert: Magnitude %s**", mag),
		Embeds:  []discordEmbed{embed},
	}
}
