// Package sqlitestore provides an embedded, on-disk implementation of
// core.EventStore backed by modernc.org/sqlite.
//
// Scalar and indexed fields are stored as columns. Gates and geometry
// vectors are stored as CBOR blobs, since nothing queries inside them.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS cdm_events (
	id             TEXT PRIMARY KEY,
	object1        TEXT NOT NULL,
	object2        TEXT NOT NULL,
	tca            TEXT NOT NULL,
	creation_date  TEXT NOT NULL,
	miss_distance  REAL NOT NULL,
	relative_speed REAL NOT NULL,
	pc_analytic    REAL NOT NULL,
	pc_mc          REAL,
	hbr            REAL NOT NULL,
	lane           TEXT NOT NULL,
	gates          BLOB NOT NULL,
	geometry       BLOB NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cdm_events_object1 ON cdm_events(object1);
CREATE INDEX IF NOT EXISTS idx_cdm_events_object2 ON cdm_events(object2);
CREATE INDEX IF NOT EXISTS idx_cdm_events_tca ON cdm_events(tca);
CREATE INDEX IF NOT EXISTS idx_cdm_events_lane ON cdm_events(lane);
CREATE INDEX IF NOT EXISTS idx_cdm_events_pc_analytic ON cdm_events(pc_analytic);
`

const eventColumns = `id, object1, object2, tca, creation_date, miss_distance, relative_speed,
	pc_analytic, pc_mc, hbr, lane, gates, geometry`

const upsertSQL = `INSERT INTO cdm_events (` + eventColumns + `, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		object1 = excluded.object1,
		object2 = excluded.object2,
		tca = excluded.tca,
		creation_date = excluded.creation_date,
		miss_distance = excluded.miss_distance,
		relative_speed = excluded.relative_speed,
		pc_analytic = excluded.pc_analytic,
		pc_mc = excluded.pc_mc,
		hbr = excluded.hbr,
		lane = excluded.lane,
		gates = excluded.gates,
		geometry = excluded.geometry,
		updated_at = excluded.updated_at`

// Fixed-width UTC timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// geometry is the CBOR payload for the three visualization vectors.
type geometry struct {
	RelativePosition   core.Vector3 `cbor:"1,keyasint"`
	RelativeVelocity   core.Vector3 `cbor:"2,keyasint"`
	CovarianceDiagonal core.Vector3 `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sqlitestore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("sqlitestore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store persists conjunction events in a SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FetchAll returns every event ordered by id.
func (s *Store) FetchAll(ctx context.Context) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM cdm_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Get retrieves an event by id.
func (s *Store) Get(ctx context.Context, id string) (*core.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM cdm_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// BulkUpsert writes the batch in a single transaction.
func (s *Store) BulkUpsert(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeLayout)
	for i := range events {
		ev := &events[i]
		gates, err := encMode.Marshal(ev.Gates)
		if err != nil {
			return fmt.Errorf("encode gates %s: %w", ev.ID, err)
		}
		geom, err := encMode.Marshal(geometry{
			RelativePosition:   ev.RelativePosition,
			RelativeVelocity:   ev.RelativeVelocity,
			CovarianceDiagonal: ev.CovarianceDiagonal,
		})
		if err != nil {
			return fmt.Errorf("encode geometry %s: %w", ev.ID, err)
		}

		var pcMC any
		if ev.PcMC != nil {
			pcMC = *ev.PcMC
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID, ev.Object1, ev.Object2,
			ev.TCA.UTC().Format(timeLayout), ev.CreationDate.UTC().Format(timeLayout),
			ev.MissDistance, ev.RelativeSpeed, ev.PcAnalytic, pcMC, ev.HBR,
			ev.Lane.String(), gates, geom, now,
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Clear removes every event.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cdm_events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*core.Event, error) {
	var ev core.Event
	var tca, created, lane string
	var pcMC sql.NullFloat64
	var gatesRaw, geoRaw []byte
	err := row.Scan(
		&ev.ID, &ev.Object1, &ev.Object2, &tca, &created,
		&ev.MissDistance, &ev.RelativeSpeed, &ev.PcAnalytic, &pcMC, &ev.HBR,
		&lane, &gatesRaw, &geoRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if ev.TCA, err = parseTime(tca); err != nil {
		return nil, fmt.Errorf("event %s: tca: %w", ev.ID, err)
	}
	if ev.CreationDate, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("event %s: creation_date: %w", ev.ID, err)
	}
	if pcMC.Valid {
		v := pcMC.Float64
		ev.PcMC = &v
	}
	if ev.Lane, err = core.ParseLane(lane); err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if err := decMode.Unmarshal(gatesRaw, &ev.Gates); err != nil {
		return nil, fmt.Errorf("event %s: decode gates: %w", ev.ID, err)
	}
	var geom geometry
	if err := decMode.Unmarshal(geoRaw, &geom); err != nil {
		return nil, fmt.Errorf("event %s: decode geometry: %w", ev.ID, err)
	}
	ev.RelativePosition = geom.RelativePosition
	ev.RelativeVelocity = geom.RelativeVelocity
	ev.CovarianceDiagonal = geom.CovarianceDiagonal
	return &ev, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	}
	return t.UTC(), err
}
