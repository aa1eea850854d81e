package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/rfid"
	"nuha.dev/rflocate/internal/store"
)

// Store keeps one row per emitter in PostgreSQL, updated from the strongest
// observation of every cycle.
type Store struct {
	dbp   *pgxpool.Pool
	log   log.Logger
	table string
}

func NewStore(db *pgxpool.Pool, table string) *Store {
	o := &Store{}
	o.table = pgx.Identifier{table}.Sanitize()
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return o
}

func (st *Store) Name() string {
	return "pgstore"
}

func (st *Store) Migrate(ctx context.Context) error {
	_, err := st.dbp.Exec(ctx, createSql(st.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", st.table, err)
	}
	return nil
}

func createSql(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	rfid       TEXT PRIMARY KEY NOT NULL,
	rftype     SMALLINT NOT NULL,
	asu        INTEGER NOT NULL,
	max_asu    INTEGER NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL,
	seen_count BIGINT NOT NULL DEFAULT 1
)`
}

func upsertSql(table string) string {
	return `INSERT INTO ` + table + ` AS s (rfid, rftype, asu, max_asu, note, first_seen, last_seen, seen_count)
VALUES ($1, $2, $3, $3, $4, $5, $5, 1)
ON CONFLICT (rfid) DO UPDATE SET
	asu = EXCLUDED.asu,
	max_asu = GREATEST(s.max_asu, EXCLUDED.asu),
	note = CASE WHEN EXCLUDED.note <> '' THEN EXCLUDED.note ELSE s.note END,
	last_seen = GREATEST(s.last_seen, EXCLUDED.last_seen),
	seen_count = s.seen_count + 1`
}

func (st *Store) Consume(ctx context.Context, c *aggregator.Cycle) error {
	obs := c.Strongest()
	if len(obs) == 0 {
		return nil
	}
	t1 := time.Now()
	q := upsertSql(st.table)
	b := &pgx.Batch{}
	for i := range obs {
		o := &obs[i]
		id := o.Identification()
		b.Queue(q, id.String(), int16(id.Type()), o.ASU(), o.Note(), time.UnixMilli(o.WallClockMillis()).UTC())
	}
	br := st.dbp.SendBatch(ctx, b)
	var err error
	for range obs {
		if _, err = br.Exec(); err != nil {
			break
		}
	}
	cerr := br.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upsert cycle %s: %w", c.ID, classify(err))
	}
	st.log.Debug().Str("action", "flush").Int("length", len(obs)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	return nil
}

func (st *Store) GetSighting(ctx context.Context, id rfid.Identification) (store.Sighting, error) {
	s := store.Sighting{RfId: id.String(), Type: id.Type().String()}
	row := st.dbp.QueryRow(ctx, `SELECT asu, max_asu, note, first_seen, last_seen, seen_count FROM `+st.table+` WHERE rfid = $1`, id.String())
	err := row.Scan(&s.ASU, &s.MaxASU, &s.Note, &s.FirstSeen, &s.LastSeen, &s.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Sighting{}, store.ErrNotFound
		}
		return store.Sighting{}, classify(err)
	}
	return s, nil
}

func (st *Store) Drop(ctx context.Context, id rfid.Identification) error {
	tag, err := st.dbp.Exec(ctx, `DELETE FROM `+st.table+` WHERE rfid = $1`, id.String())
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

var unavailable_classes = []string{
	pgerrcode.ConnectionException[:2],
	pgerrcode.InsufficientResources[:2],
	pgerrcode.OperatorIntervention[:2],
}

// classify marks server-side conditions a caller can only wait out.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) != 5 {
		return err
	}
	unavailable := pgErr.Code == pgerrcode.UndefinedTable
	for _, c := range unavailable_classes {
		unavailable = unavailable || pgErr.Code[:2] == c
	}
	if unavailable {
		return fmt.Errorf("%w: %s", store.ErrUnavailable, pgErr.Message)
	}
	return err
}
