// Command quakectl administers the quake alert service's registries:
// notification channels, subscription polls, recipients, and stored events.
// It talks to the same database as the service.
//
// Usage:
//
//	quakectl webhook add -kind discord -name ops -endpoint https://discord.com/api/webhooks/...
//	quakectl webhook test -name ops
//	quakectl poll add -name felt-quakes -min-magnitude 4.0
//	quakectl recipient add -name Aylin -phone +905551112233 -poll felt-quakes
//	quakectl event delete-latest
//	quakectl receipts sweep
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/quakewatch/quake-alert-service/internal/config"
	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/notify"
	"github.com/quakewatch/quake-alert-service/internal/observability"
	"github.com/quakewatch/quake-alert-service/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("connect to database: %v", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		fatal("apply schema: %v", err)
	}

	group, cmd, args := os.Args[1], os.Args[2], os.Args[3:]
	switch group + " " + cmd {
	case "webhook add":
		webhookAdd(ctx, st, args)
	case "webhook remove":
		webhookRemove(ctx, st, args)
	case "webhook list":
		webhookList(ctx, st)
	case "webhook test":
		webhookTest(ctx, st, cfg, args)
	case "poll add":
		pollAdd(ctx, st, args)
	case "poll remove":
		pollRemove(ctx, st, args)
	case "poll list":
		pollList(ctx, st)
	case "recipient add":
		recipientAdd(ctx, st, args)
	case "recipient remove":
		recipientRemove(ctx, st, args)
	case "recipient list":
		recipientList(ctx, st, args)
	case "event delete-latest":
		eventDeleteLatest(ctx, st)
	case "receipts sweep":
		receiptsSweep(ctx, st)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: quakectl <group> <command> [flags]

  webhook   add | remove | list | test
  poll      add | remove | list
  recipient add | remove | list
  event     delete-latest
  receipts  sweep`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "quakectl: "+format+"\n", args...)
	os.Exit(1)
}

func parseFlags(fs *flag.FlagSet, args []string) {
	// flag.ExitOnError makes this never return an error.
	_ = fs.Parse(args)
}

func requireFlag(fs *flag.FlagSet, name, value string) {
	if value == "" {
		fmt.Fprintf(os.Stderr, "quakectl: -%s is required\n", name)
		fs.Usage()
		os.Exit(2)
	}
}

func webhookAdd(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("webhook add", flag.ExitOnError)
	kind := fs.String("kind", "", "channel kind: discord, zulip, whatsapp, generic, kafka")
	name := fs.String("name", "", "unique channel name")
	endpoint := fs.String("endpoint", "", "channel endpoint (compound kinds use |-separated segments)")
	parseFlags(fs, args)
	requireFlag(fs, "kind", *kind)
	requireFlag(fs, "name", *name)
	requireFlag(fs, "endpoint", *endpoint)

	ch, err := st.RegisterChannel(ctx, domain.Channel{
		Name:     *name,
		Endpoint: *endpoint,
		Kind:     domain.ChannelKind(*kind),
	})
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("channel %q registered (id %d)\n", ch.Name, ch.ID)
}

func webhookRemove(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("webhook remove", flag.ExitOnError)
	name := fs.String("name", "", "channel name")
	parseFlags(fs, args)
	requireFlag(fs, "name", *name)

	ok, err := st.DeleteChannel(ctx, *name)
	if err != nil {
		fatal("%v", err)
	}
	if !ok {
		fatal("no channel named %q", *name)
	}
	fmt.Printf("channel %q removed\n", *name)
}

func webhookList(ctx context.Context, st *store.Store) {
	channels, err := st.Channels(ctx)
	if err != nil {
		fatal("%v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tLAST DELIVERED\tENDPOINT")
	for _, ch := range channels {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ch.ID, ch.Name, ch.Kind, formatTime(ch.LastDeliveredAt), ch.Endpoint)
	}
	w.Flush()
}

// webhookTest performs the adapter's connectivity send with no event.
func webhookTest(ctx context.Context, st *store.Store, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("webhook test", flag.ExitOnError)
	name := fs.String("name", "", "channel name")
	parseFlags(fs, args)
	requireFlag(fs, "name", *name)

	channels, err := st.Channels(ctx)
	if err != nil {
		fatal("%v", err)
	}

	logger := observability.NewLogger(cfg)
	factory := notify.NewFactory(logger, cfg.WADefaultRecipient)
	for _, ch := range channels {
		if ch.Name != *name {
			continue
		}
		sender, err := factory.ForChannel(ch)
		if err != nil {
			fatal("%v", err)
		}
		if err := sender.Send(ctx, nil); err != nil {
			fatal("test send failed: %v", err)
		}
		if c, ok := sender.(io.Closer); ok {
			c.Close()
		}
		fmt.Printf("test message delivered to %q\n", ch.Name)
		return
	}
	fatal("no channel named %q", *name)
}

func pollAdd(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("poll add", flag.ExitOnError)
	name := fs.String("name", "", "unique poll name")
	kind := fs.String("kind", "whatsapp", "poll kind")
	minMag := fs.Float64("min-magnitude", 1.7, "minimum magnitude threshold")
	parseFlags(fs, args)
	requireFlag(fs, "name", *name)

	p, err := st.CreatePoll(ctx, domain.Poll{Name: *name, Kind: *kind, MinMagnitude: *minMag})
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("poll %q created (id %d, min magnitude %.1f)\n", p.Name, p.ID, p.MinMagnitude)
}

func pollRemove(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("poll remove", flag.ExitOnError)
	name := fs.String("name", "", "poll name")
	parseFlags(fs, args)
	requireFlag(fs, "name", *name)

	ok, err := st.DeletePoll(ctx, *name)
	if err != nil {
		fatal("%v", err)
	}
	if !ok {
		fatal("no poll named %q", *name)
	}
	fmt.Printf("poll %q removed\n", *name)
}

func pollList(ctx context.Context, st *store.Store) {
	polls, err := st.Polls(ctx)
	if err != nil {
		fatal("%v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tMIN MAGNITUDE")
	for _, p := range polls {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\n", p.ID, p.Name, p.Kind, p.MinMagnitude)
	}
	w.Flush()
}

func recipientAdd(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("recipient add", flag.ExitOnError)
	name := fs.String("name", "", "recipient name")
	phone := fs.String("phone", "", "phone number in international format")
	poll := fs.String("poll", "", "poll to subscribe to (optional)")
	parseFlags(fs, args)
	requireFlag(fs, "name", *name)
	requireFlag(fs, "phone", *phone)

	r := domain.Recipient{Name: *name, Phone: *phone}
	if *poll != "" {
		if _, err := st.PollByName(ctx, *poll); err != nil {
			fatal("no poll named %q", *poll)
		}
		r.PollName = poll
	}

	created, err := st.CreateRecipient(ctx, r)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("recipient %q added (id %d)\n", created.Phone, created.ID)
}

func recipientRemove(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("recipient remove", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number")
	parseFlags(fs, args)
	requireFlag(fs, "phone", *phone)

	ok, err := st.DeleteRecipient(ctx, *phone)
	if err != nil {
		fatal("%v", err)
	}
	if !ok {
		fatal("no recipient with phone %q", *phone)
	}
	fmt.Printf("recipient %q removed\n", *phone)
}

func recipientList(ctx context.Context, st *store.Store, args []string) {
	fs := flag.NewFlagSet("recipient list", flag.ExitOnError)
	poll := fs.String("poll", "", "narrow to one poll (optional)")
	parseFlags(fs, args)

	recipients, err := st.Recipients(ctx, *poll)
	if err != nil {
		fatal("%v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tPOLL\tLAST DELIVERED")
	for _, r := range recipients {
		pollName := "-"
		if r.PollName != nil {
			pollName = *r.PollName
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Phone, pollName, formatTime(r.LastDeliveredAt))
	}
	w.Flush()
}

// eventDeleteLatest removes the most recent stored event, the manual
// correction for a bulletin row the upstream retracted.
func eventDeleteLatest(ctx context.Context, st *store.Store) {
	ok, err := st.DeleteLatestEvent(ctx)
	if err != nil {
		fatal("%v", err)
	}
	if !ok {
		fatal("no events stored")
	}
	fmt.Println("latest event deleted")
}

func receiptsSweep(ctx context.Context, st *store.Store) {
	swept, err := st.SweepReceipts(ctx)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%d receipts removed\n", swept)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
