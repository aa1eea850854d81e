package pgstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/rfid"
	"nuha.dev/rflocate/internal/store"
)

var _ store.SightingStore = (*Store)(nil)

func TestSqlUsesSanitizedTable(t *testing.T) {
	st := NewStore(nil, `sight"ings`)
	assert.Equal(t, `"sight""ings"`, st.table)
	assert.True(t, strings.HasPrefix(createSql(st.table), `CREATE TABLE IF NOT EXISTS "sight""ings"`))
	assert.Contains(t, upsertSql(st.table), "ON CONFLICT (rfid)")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code        string
		unavailable bool
	}{
		{pgerrcode.UndefinedTable, true},
		{pgerrcode.ConnectionFailure, true},
		{pgerrcode.AdminShutdown, true},
		{pgerrcode.UniqueViolation, false},
	}
	for _, tt := range tests {
		err := classify(&pgconn.PgError{Code: tt.code, Message: "x"})
		assert.Equal(t, tt.unavailable, errors.Is(err, store.ErrUnavailable), tt.code)
	}
	plain := errors.New("plain")
	assert.Equal(t, plain, classify(plain))
}

func TestStoreAgainstPostgres(t *testing.T) {
	url := os.Getenv("RFLOCATE_TEST_DB")
	if url == "" {
		t.Skip("RFLOCATE_TEST_DB not set, skipping postgres test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	table := "sightings_test_" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", "")
	st := NewStore(pool, table)
	require.NoError(t, st.Migrate(ctx))
	defer pool.Exec(context.Background(), "DROP TABLE "+st.table)

	f, err := observation.NewFactory(observation.DefaultBounds, nil)
	require.NoError(t, err)
	mk := func(asu int, note string) observation.Observation {
		o, err := f.New("aa:bb:cc:00:00:01", rfid.WLAN5)
		require.NoError(t, err)
		o.SetASU(asu)
		o.SetNote(note)
		return *o
	}

	require.NoError(t, st.Consume(ctx, &aggregator.Cycle{ID: "c1", Observations: []observation.Observation{mk(10, "hall"), mk(12, "")}}))
	require.NoError(t, st.Consume(ctx, &aggregator.Cycle{ID: "c2", Observations: []observation.Observation{mk(4, "")}}))

	id, _ := rfid.New("aa:bb:cc:00:00:01", rfid.WLAN5)
	s, err := st.GetSighting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, s.ASU)
	assert.Equal(t, 12, s.MaxASU)
	assert.Equal(t, int64(2), s.Count)

	require.NoError(t, st.Drop(ctx, id))
	_, err = st.GetSighting(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, st.Drop(ctx, id), store.ErrNotFound)
}
