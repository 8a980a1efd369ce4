// Package dispatch fans new earthquake events out to registered channels
// and WhatsApp subscription polls.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/observability"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	Channels(ctx context.Context) ([]domain.Channel, error)
	TouchChannel(ctx context.Context, id int64) error
	Polls(ctx context.Context) ([]domain.Poll, error)
	Recipients(ctx context.Context, pollName string) ([]domain.Recipient, error)
	TouchRecipient(ctx context.Context, id int64) error
	CreateReceipt(ctx context.Context, r domain.Receipt) error
	SweepReceipts(ctx context.Context) (int64, error)
}

// Sender delivers one batch of events to a single destination.
type Sender interface {
	Send(ctx context.Context, events []domain.Earthquake) error
}

// SenderFactory builds the sender for a registered channel.
type SenderFactory func(ch domain.Channel) (Sender, error)

// TemplateSender delivers a WhatsApp template to one recipient and returns
// the provider message id.
type TemplateSender interface {
	SendTemplate(ctx context.Context, rcp domain.Recipient) (string, error)
}

// Dispatcher runs the two fan-out passes for each batch of new events:
// registered channels first, then subscription polls, then the receipt
// retention sweep.
type Dispatcher struct {
	store     Store
	senders   SenderFactory
	templates TemplateSender // nil when template sending is not configured
	clock     clockwork.Clock
	pacing    time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func New(store Store, senders SenderFactory, templates TemplateSender, clock clockwork.Clock, pacing time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		senders:   senders,
		templates: templates,
		clock:     clock,
		pacing:    pacing,
		logger:    logger,
		metrics:   metrics,
	}
}

// Dispatch delivers the batch. Every failure inside the fan-out, registry
// reads included, is logged and counted without aborting the remaining
// passes, so the scheduler always sees a completed dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Earthquake) {
	if len(events) == 0 {
		return
	}

	d.dispatchChannels(ctx, events)
	if ctx.Err() != nil {
		return
	}
	d.dispatchPolls(ctx, events)

	swept, err := d.store.SweepReceipts(ctx)
	if err != nil {
		d.logger.Error("receipt sweep failed", "error", err)
		return
	}
	if swept > 0 {
		d.metrics.ReceiptsSwept.Add(float64(swept))
		d.logger.Info("receipts swept", "removed", swept)
	}
}

// channelSender pairs a registered channel with the sender built for it.
// Senders are built once per pass and reused for every event; a kafka
// sender holds broker connections that must be closed when the pass ends.
type channelSender struct {
	channel domain.Channel
	sender  Sender
}

// dispatchChannels sends each event to every registered channel. Sends for
// one event run concurrently and are joined before the next event starts;
// the pacing delay sits between events, not before the first or after the
// last.
func (d *Dispatcher) dispatchChannels(ctx context.Context, events []domain.Earthquake) {
	channels, err := d.store.Channels(ctx)
	if err != nil {
		d.logger.Error("list channels failed", "error", err)
		return
	}
	if len(channels) == 0 {
		return
	}

	targets := d.buildSenders(channels)
	defer d.closeSenders(targets)

	for i, ev := range events {
		if i > 0 && !d.pause(ctx) {
			return
		}

		var wg sync.WaitGroup
		for _, t := range targets {
			wg.Add(1)
			go func(t channelSender) {
				defer wg.Done()
				d.sendToChannel(ctx, t, ev)
			}(t)
		}
		wg.Wait()
	}
}

// buildSenders constructs one sender per channel. A channel whose sender
// cannot be built (malformed endpoint, unknown kind) is dropped from the
// pass and counted as a failed delivery.
func (d *Dispatcher) buildSenders(channels []domain.Channel) []channelSender {
	targets := make([]channelSender, 0, len(channels))
	for _, ch := range channels {
		sender, err := d.senders(ch)
		if err != nil {
			d.metrics.Deliveries.WithLabelValues(string(ch.Kind), "error").Inc()
			d.logger.Error("build channel sender failed", "channel", ch.Name, "kind", string(ch.Kind), "error", err)
			continue
		}
		targets = append(targets, channelSender{channel: ch, sender: sender})
	}
	return targets
}

func (d *Dispatcher) closeSenders(targets []channelSender) {
	for _, t := range targets {
		if c, ok := t.sender.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.logger.Error("close channel sender failed", "channel", t.channel.Name, "error", err)
			}
		}
	}
}

// sendToChannel delivers one event to one channel, recording the outcome.
// A panicking sender is contained like any other failed delivery.
func (d *Dispatcher) sendToChannel(ctx context.Context, t channelSender, ev domain.Earthquake) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sender panicked: %v", r)
			}
		}()
		return t.sender.Send(ctx, []domain.Earthquake{ev})
	}()

	kind := string(t.channel.Kind)
	if err != nil {
		d.metrics.Deliveries.WithLabelValues(kind, "error").Inc()
		d.logger.Error("channel delivery failed", "channel", t.channel.Name, "kind", kind, "error", err)
		return
	}

	d.metrics.Deliveries.WithLabelValues(kind, "success").Inc()
	if err := d.store.TouchChannel(ctx, t.channel.ID); err != nil {
		d.logger.Error("record channel delivery failed", "channel", t.channel.Name, "error", err)
	}
}

// dispatchPolls sends the template for the single most recent event of the
// batch to every poll whose threshold it clears.
func (d *Dispatcher) dispatchPolls(ctx context.Context, events []domain.Earthquake) {
	polls, err := d.store.Polls(ctx)
	if err != nil {
		d.logger.Error("list polls failed", "error", err)
		return
	}
	if len(polls) == 0 {
		return
	}
	if d.templates == nil {
		d.logger.Warn("template sender not configured, skipping poll deliveries", "polls", len(polls))
		return
	}

	latest := events[0]
	for _, ev := range events[1:] {
		if ev.OccurredAt.After(latest.OccurredAt) {
			latest = ev
		}
	}
	if ignored := len(events) - 1; ignored > 0 {
		d.logger.Info("poll pass covers most recent event only", "ignored", ignored)
	}

	for _, poll := range polls {
		if latest.Magnitude == nil || *latest.Magnitude < poll.MinMagnitude {
			d.logger.Info("event below poll threshold",
				"poll", poll.Name, "threshold", poll.MinMagnitude, "magnitude", formatLogMagnitude(latest.Magnitude))
			continue
		}

		recipients, err := d.store.Recipients(ctx, poll.Name)
		if err != nil {
			d.logger.Error("list poll recipients failed", "poll", poll.Name, "error", err)
			continue
		}

		for _, rcp := range recipients {
			d.sendTemplate(ctx, poll, rcp)
		}
	}
}

// sendTemplate delivers one template and records a receipt either way.
// Failed sends have no provider id, so the receipt gets a synthetic one.
func (d *Dispatcher) sendTemplate(ctx context.Context, poll domain.Poll, rcp domain.Recipient) {
	receipt := domain.Receipt{
		RecipientID: rcp.ID,
		PollName:    poll.Name,
	}

	providerID, err := d.templates.SendTemplate(ctx, rcp)
	if err != nil {
		d.metrics.TemplateDeliveries.WithLabelValues("error").Inc()
		d.logger.Error("template delivery failed", "poll", poll.Name, "recipient", rcp.Phone, "error", err)
		receipt.ID = "failed-" + uuid.NewString()
	} else {
		d.metrics.TemplateDeliveries.WithLabelValues("success").Inc()
		receipt.ID = providerID
		receipt.Delivered = true
		if err := d.store.TouchRecipient(ctx, rcp.ID); err != nil {
			d.logger.Error("record recipient delivery failed", "recipient", rcp.Phone, "error", err)
		}
	}

	if err := d.store.CreateReceipt(ctx, receipt); err != nil {
		d.logger.Error("create receipt failed", "receipt", receipt.ID, "error", err)
	}
}

// pause waits the pacing interval, or returns false on cancellation.
func (d *Dispatcher) pause(ctx context.Context) bool {
	if d.pacing <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-d.clock.After(d.pacing):
		return true
	}
}

func formatLogMagnitude(m *float64) any {
	if m == nil {
		return "none"
	}
	return *m
}
