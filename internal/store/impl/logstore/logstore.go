package logstore

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"nuha.dev/rflocate/internal/aggregator"
)

// LogStore writes every observation of a cycle as one structured line.
type LogStore struct {
	logger zerolog.Logger
}

func NewStore(w io.Writer) *LogStore {
	return &LogStore{logger: zerolog.New(w).With().Timestamp().Str("module", "logstore").Logger()}
}

func (l *LogStore) Name() string {
	return "logstore"
}

func (l *LogStore) Consume(ctx context.Context, c *aggregator.Cycle) error {
	for _, o := range c.Sorted() {
		id := o.Identification()
		l.logger.Info().
			Str("cycle", c.ID).
			Uint64("seq", c.Seq).
			Str("rfid", id.ID()).
			Str("type", id.Type().String()).
			Int("asu", o.ASU()).
			Str("note", o.Note()).
			Int64("wall_ms", o.WallClockMillis()).
			Int64("mono_ns", o.MonotonicNanos()).
			Msg("observation")
	}
	return nil
}
