//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/store"
)

func startPostgres(t *testing.T, ctx context.Context) *store.Store {
	t.Helper()

	pgc, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("quake"),
		tcpostgres.WithUsername("quake"),
		tcpostgres.WithPassword("quake"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pgc.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgc.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := store.NewStore(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func mag(v float64) *float64 { return &v }

func testEvent(occurred time.Time, lat, lon float64, m *float64) domain.Earthquake {
	ev := domain.Earthquake{
		OccurredAt: occurred,
		Latitude:   lat,
		Longitude:  lon,
		Depth:      8.9,
		ML:         m,
		Magnitude:  m,
		Location:   "GOKOVA KORFEZI (EGE DENIZI)",
		Quality:    domain.QualityProvisional,
	}
	ev.DeriveCalendar()
	return ev
}

func TestStoreEventLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := startPostgres(t, ctx)

	base := time.Date(2025, 1, 10, 9, 5, 56, 0, time.UTC)
	batch := []domain.Earthquake{
		testEvent(base, 36.9173, 27.6803, mag(1.4)),
		testEvent(base.Add(time.Hour), 37.0000, 28.0000, mag(4.2)),
	}

	inserted, err := s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	// A second run of the same batch inserts nothing.
	inserted, err = s.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, inserted)

	// Same time and coordinates with a different depth is still a duplicate.
	dup := batch[0]
	dup.Depth = 12.0
	inserted, err = s.InsertEvents(ctx, []domain.Earthquake{dup})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	latest, err := s.LatestEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, base.Add(time.Hour), latest[0].OccurredAt.UTC())

	byDay, err := s.EventsByDay(ctx, 2025, 1, 10)
	require.NoError(t, err)
	assert.Len(t, byDay, 2)

	found, err := s.SearchEvents(ctx, store.SearchFilter{MinMagnitude: mag(4.0)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 4.2, *found[0].Magnitude)

	removed, err := s.DeleteLatestEvent(ctx)
	require.NoError(t, err)
	assert.True(t, removed)

	latest, err = s.LatestEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, base, latest[0].OccurredAt.UTC())
}

func TestStoreRegistriesAndReceipts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := startPostgres(t, ctx)

	ch, err := s.RegisterChannel(ctx, domain.Channel{
		Name:     "ops-discord",
		Endpoint: "https://discord.com/api/webhooks/1/abc",
		Kind:     domain.KindDiscord,
	})
	require.NoError(t, err)
	assert.NotZero(t, ch.ID)

	_, err = s.RegisterChannel(ctx, domain.Channel{Name: "bad", Endpoint: "x", Kind: "telegram"})
	assert.Error(t, err)

	require.NoError(t, s.TouchChannel(ctx, ch.ID))
	channels, err := s.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.NotNil(t, channels[0].LastDeliveredAt)

	poll, err := s.CreatePoll(ctx, domain.Poll{Name: "felt-quakes", Kind: "whatsapp", MinMagnitude: 4.0})
	require.NoError(t, err)

	pollName := poll.Name
	rcp, err := s.CreateRecipient(ctx, domain.Recipient{Name: "Aylin", Phone: "+905551112233", PollName: &pollName})
	require.NoError(t, err)

	members, err := s.Recipients(ctx, poll.Name)
	require.NoError(t, err)
	require.Len(t, members, 1)

	// Three receipts for the pair; the sweep keeps only the newest.
	for i, id := range []string{"wamid.1", "wamid.2", "wamid.3"} {
		require.NoError(t, s.CreateReceipt(ctx, domain.Receipt{
			ID:          id,
			RecipientID: rcp.ID,
			PollName:    poll.Name,
			Delivered:   i > 0,
		}))
		time.Sleep(10 * time.Millisecond)
	}

	swept, err := s.SweepReceipts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, swept)

	removed, err := s.DeleteRecipient(ctx, rcp.Phone)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeletePoll(ctx, poll.Name)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteChannel(ctx, ch.Name)
	require.NoError(t, err)
	assert.True(t, removed)
}
