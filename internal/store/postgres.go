// Package store is the durable persistence layer: earthquake records,
// notification channel and poll registries, recipients, and delivery
// receipts, backed by Postgres.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

// schemaSQL is embedded so the service can self-bootstrap its schema.
//
//go:embed schema.sql
var schemaSQL string

const eventColumns = "occurred_at, latitude, longitude, depth, md, ml, mw, magnitude, location, quality, year, month, day, week"

// Store wraps a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool and fails fast if the database is
// unreachable.
func NewStore(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping backs the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertEvents persists the batch and returns only the records that were
// actually new. Identity is (occurred_at, latitude, longitude): the lookup
// keeps the common all-duplicates cycle cheap, and the unique constraint
// closes the race when two writers insert the same record concurrently.
func (s *Store) InsertEvents(ctx context.Context, events []domain.Earthquake) ([]domain.Earthquake, error) {
	var inserted []domain.Earthquake
	for _, ev := range events {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM earthquakes WHERE occurred_at = $1 AND latitude = $2 AND longitude = $3)`,
			ev.OccurredAt, ev.Latitude, ev.Longitude,
		).Scan(&exists)
		if err != nil {
			return inserted, fmt.Errorf("check event %s: %w", ev.NaturalKey(), err)
		}
		if exists {
			continue
		}

		var one int
		err = s.pool.QueryRow(ctx, `
			INSERT INTO earthquakes (`+eventColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (occurred_at, latitude, longitude) DO NOTHING
			RETURNING 1`,
			ev.OccurredAt, ev.Latitude, ev.Longitude, ev.Depth,
			ev.MD, ev.ML, ev.MW, ev.Magnitude,
			ev.Location, ev.Quality, ev.Year, ev.Month, ev.Day, ev.Week,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race to a concurrent writer; still a duplicate.
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", ev.NaturalKey(), err)
		}
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

// LatestEvents returns the most recent records by occurrence time.
func (s *Store) LatestEvents(ctx context.Context, limit int) ([]domain.Earthquake, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM earthquakes ORDER BY occurred_at DESC LIMIT $1`, limit)
}

// EventsByDay returns all records for one calendar day.
func (s *Store) EventsByDay(ctx context.Context, year, month, day int) ([]domain.Earthquake, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM earthquakes WHERE year = $1 AND month = $2 AND day = $3 ORDER BY occurred_at DESC`,
		year, month, day)
}

// EventsByWeek returns all records for one ISO week.
func (s *Store) EventsByWeek(ctx context.Context, year, week int) ([]domain.Earthquake, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM earthquakes WHERE year = $1 AND week = $2 ORDER BY occurred_at DESC`,
		year, week)
}

// EventsByMonth returns all records for one calendar month.
func (s *Store) EventsByMonth(ctx context.Context, year, month int) ([]domain.Earthquake, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM earthquakes WHERE year = $1 AND month = $2 ORDER BY occurred_at DESC`,
		year, month)
}

// SearchFilter narrows a search; zero-valued fields are ignored.
type SearchFilter struct {
	MinMagnitude *float64
	MaxMagnitude *float64
	From         *time.Time
	To           *time.Time
	Location     string
	Limit        int
}

// SearchEvents returns records matching every set filter field, most
// recent first.
func (s *Store) SearchEvents(ctx context.Context, f SearchFilter) ([]domain.Earthquake, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.MinMagnitude != nil {
		conds = append(conds, "magnitude >= "+arg(*f.MinMagnitude))
	}
	if f.MaxMagnitude != nil {
		conds = append(conds, "magnitude <= "+arg(*f.MaxMagnitude))
	}
	if f.From != nil {
		conds = append(conds, "occurred_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "occurred_at <= "+arg(*f.To))
	}
	if f.Location != "" {
		conds = append(conds, "location ILIKE "+arg("%"+f.Location+"%"))
	}

	q := `SELECT ` + eventColumns + ` FROM earthquakes`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	return s.queryEvents(ctx, q, args...)
}

// DeleteLatestEvent removes the most recent record. It reports false when
// the table is empty.
func (s *Store) DeleteLatestEvent(ctx context.Context) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM earthquakes WHERE id = (SELECT id FROM earthquakes ORDER BY occurred_at DESC, id DESC LIMIT 1)`)
	if err != nil {
		return false, fmt.Errorf("delete latest event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) queryEvents(ctx context.Context, q string, args ...any) ([]domain.Earthquake, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Earthquake
	for rows.Next() {
		var ev domain.Earthquake
		if err := rows.Scan(
			&ev.OccurredAt, &ev.Latitude, &ev.Longitude, &ev.Depth,
			&ev.MD, &ev.ML, &ev.MW, &ev.Magnitude,
			&ev.Location, &ev.Quality, &ev.Year, &ev.Month, &ev.Day, &ev.Week,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Channels returns every registered notification channel.
func (s *Store) Channels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, endpoint, kind, last_delivered_at, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Endpoint, &ch.Kind, &ch.LastDeliveredAt, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// RegisterChannel inserts a channel; name and endpoint must both be unique.
func (s *Store) RegisterChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	if !domain.ValidChannelKind(ch.Kind) {
		return domain.Channel{}, fmt.Errorf("unknown channel kind %q", ch.Kind)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO channels (name, endpoint, kind) VALUES ($1, $2, $3) RETURNING id, created_at`,
		ch.Name, ch.Endpoint, ch.Kind,
	).Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("register channel %q: %w", ch.Name, err)
	}
	return ch, nil
}

// DeleteChannel removes a channel by name, reporting whether it existed.
func (s *Store) DeleteChannel(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete channel %q: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchChannel records a successful delivery timestamp.
func (s *Store) TouchChannel(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE channels SET last_delivered_at = now() WHERE id = $1`, id)
	return err
}

// Polls returns every subscription poll.
func (s *Store) Polls(ctx context.Context) ([]domain.Poll, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, min_magnitude, created_at FROM polls ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	defer rows.Close()

	var out []domain.Poll
	for rows.Next() {
		var p domain.Poll
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.MinMagnitude, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PollByName looks up one poll; it returns pgx.ErrNoRows when absent.
func (s *Store) PollByName(ctx context.Context, name string) (domain.Poll, error) {
	var p domain.Poll
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, min_magnitude, created_at FROM polls WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.Kind, &p.MinMagnitude, &p.CreatedAt)
	return p, err
}

// CreatePoll inserts a poll with its magnitude threshold.
func (s *Store) CreatePoll(ctx context.Context, p domain.Poll) (domain.Poll, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO polls (name, kind, min_magnitude) VALUES ($1, $2, $3) RETURNING id, created_at`,
		p.Name, p.Kind, p.MinMagnitude,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return domain.Poll{}, fmt.Errorf("create poll %q: %w", p.Name, err)
	}
	return p, nil
}

// DeletePoll removes a poll by name, reporting whether it existed.
// Recipients keep their rows; their poll reference is cleared.
func (s *Store) DeletePoll(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polls WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete poll %q: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Recipients returns recipients, optionally narrowed to one poll.
func (s *Store) Recipients(ctx context.Context, pollName string) ([]domain.Recipient, error) {
	q := `SELECT id, name, phone, poll_name, last_delivered_at, created_at FROM recipients`
	var args []any
	if pollName != "" {
		q += ` WHERE poll_name = $1`
		args = append(args, pollName)
	}
	q += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.PollName, &r.LastDeliveredAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRecipient inserts a recipient; phone numbers are unique.
func (s *Store) CreateRecipient(ctx context.Context, r domain.Recipient) (domain.Recipient, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO recipients (name, phone, poll_name) VALUES ($1, $2, $3) RETURNING id, created_at`,
		r.Name, r.Phone, r.PollName,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("create recipient %q: %w", r.Phone, err)
	}
	return r, nil
}

// DeleteRecipient removes a recipient by phone, reporting whether it
// existed. Their receipts cascade away with them.
func (s *Store) DeleteRecipient(ctx context.Context, phone string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipients WHERE phone = $1`, phone)
	if err != nil {
		return false, fmt.Errorf("delete recipient %q: %w", phone, err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchRecipient records a successful delivery timestamp.
func (s *Store) TouchRecipient(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE recipients SET last_delivered_at = now() WHERE id = $1`, id)
	return err
}

// CreateReceipt records one delivery attempt outcome.
func (s *Store) CreateReceipt(ctx context.Context, r domain.Receipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO receipts (id, recipient_id, poll_name, delivered, is_read, reply)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.RecipientID, r.PollName, r.Delivered, r.Read, r.Reply)
	if err != nil {
		return fmt.Errorf("create receipt %q: %w", r.ID, err)
	}
	return nil
}

// SweepReceipts deletes all but the most recent receipt per
// (poll, recipient) pair and returns the number removed.
func (s *Store) SweepReceipts(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM receipts WHERE id NOT IN (
			SELECT DISTINCT ON (poll_name, recipient_id) id
			FROM receipts
			ORDER BY poll_name, recipient_id, created_at DESC, id
		)`)
	if err != nil {
		return 0, fmt.Errorf("sweep receipts: %w", err)
	}
	return tag.RowsAffected(), nil
}
