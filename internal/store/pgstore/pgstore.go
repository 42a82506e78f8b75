// Package pgstore provides a PostgreSQL implementation of core.EventStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

var tracer = otel.Tracer("github.com/JonMunkholm/cdmtriage/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Options tunes the connection pool. Zero values keep pgxpool defaults.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store persists conjunction events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const eventColumns = `id, object1, object2, tca, creation_date, miss_distance, relative_speed,
	pc_analytic, pc_mc, hbr, lane, gates, relative_position, relative_velocity, covariance_diagonal`

const upsertSQL = `INSERT INTO cdm_events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	object1 = EXCLUDED.object1,
	object2 = EXCLUDED.object2,
	tca = EXCLUDED.tca,
	creation_date = EXCLUDED.creation_date,
	miss_distance = EXCLUDED.miss_distance,
	relative_speed = EXCLUDED.relative_speed,
	pc_analytic = EXCLUDED.pc_analytic,
	pc_mc = EXCLUDED.pc_mc,
	hbr = EXCLUDED.hbr,
	lane = EXCLUDED.lane,
	gates = EXCLUDED.gates,
	relative_position = EXCLUDED.relative_position,
	relative_velocity = EXCLUDED.relative_velocity,
	covariance_diagonal = EXCLUDED.covariance_diagonal,
	updated_at = now()`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// FetchAll returns every event ordered by id.
func (s *Store) FetchAll(ctx context.Context) ([]core.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.FetchAll", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM cdm_events ORDER BY id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate events: %w", err))
	}
	span.SetAttributes(attribute.Int("cdm.events", len(out)))
	return out, nil
}

// Get retrieves an event by id.
func (s *Store) Get(ctx context.Context, id string) (*core.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM cdm_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return ev, true, nil
}

// BulkUpsert writes the batch in one transaction.
func (s *Store) BulkUpsert(ctx context.Context, events []core.Event) error {
	ctx, span := startSpan(ctx, "pgstore.BulkUpsert", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("cdm.batch_size", len(events)))

	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range events {
		args, err := upsertArgs(&events[i])
		if err != nil {
			return fail(span, err)
		}
		batch.Queue(upsertSQL, args...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	br := tx.SendBatch(ctx, batch)
	for i := range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fail(span, fmt.Errorf("upsert %s: %w", events[i].ID, err))
		}
	}
	if err := br.Close(); err != nil {
		return fail(span, fmt.Errorf("close batch: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Clear removes every event.
func (s *Store) Clear(ctx context.Context) error {
	ctx, span := startSpan(ctx, "pgstore.Clear", "TRUNCATE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `TRUNCATE cdm_events`); err != nil {
		return fail(span, fmt.Errorf("truncate: %w", err))
	}
	return nil
}

func upsertArgs(ev *core.Event) ([]any, error) {
	gates, err := json.Marshal(ev.Gates)
	if err != nil {
		return nil, fmt.Errorf("marshal gates %s: %w", ev.ID, err)
	}
	pos, err := json.Marshal(ev.RelativePosition)
	if err != nil {
		return nil, fmt.Errorf("marshal position %s: %w", ev.ID, err)
	}
	vel, err := json.Marshal(ev.RelativeVelocity)
	if err != nil {
		return nil, fmt.Errorf("marshal velocity %s: %w", ev.ID, err)
	}
	cov, err := json.Marshal(ev.CovarianceDiagonal)
	if err != nil {
		return nil, fmt.Errorf("marshal covariance %s: %w", ev.ID, err)
	}
	return []any{
		ev.ID, ev.Object1, ev.Object2, ev.TCA.UTC(), ev.CreationDate.UTC(),
		ev.MissDistance, ev.RelativeSpeed, ev.PcAnalytic, ev.PcMC, ev.HBR,
		ev.Lane.String(), gates, pos, vel, cov,
	}, nil
}

func scanEvent(row pgx.Row) (*core.Event, error) {
	var ev core.Event
	var lane string
	var gates, pos, vel, cov []byte
	err := row.Scan(
		&ev.ID, &ev.Object1, &ev.Object2, &ev.TCA, &ev.CreationDate,
		&ev.MissDistance, &ev.RelativeSpeed, &ev.PcAnalytic, &ev.PcMC, &ev.HBR,
		&lane, &gates, &pos, &vel, &cov,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if ev.Lane, err = core.ParseLane(lane); err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"gates", gates, &ev.Gates},
		{"relative_position", pos, &ev.RelativePosition},
		{"relative_velocity", vel, &ev.RelativeVelocity},
		{"covariance_diagonal", cov, &ev.CovarianceDiagonal},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("event %s: unmarshal %s: %w", ev.ID, f.name, err)
		}
	}
	ev.TCA = ev.TCA.UTC()
	ev.CreationDate = ev.CreationDate.UTC()
	return &ev, nil
}
