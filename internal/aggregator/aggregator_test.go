package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"nuha.dev/rflocate/internal/events"
	"nuha.dev/rflocate/internal/handoff"
	"nuha.dev/rflocate/internal/metrics"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/rfid"
)

type memSink struct {
	mu     sync.Mutex
	name   string
	err    error
	cycles []*Cycle
	seen   chan struct{}
}

func newMemSink(name string, err error) *memSink {
	return &memSink{name: name, err: err, seen: make(chan struct{}, 16)}
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) Consume(ctx context.Context, c *Cycle) error {
	s.mu.Lock()
	s.cycles = append(s.cycles, c)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return s.err
}

func (s *memSink) wait(t *testing.T) {
	select {
	case <-s.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle delivered")
	}
}

func (s *memSink) get(i int) *Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles[i]
}

var factory, _ = observation.NewFactory(observation.DefaultBounds, nil)

func obs(t *testing.T, id string, asu int, note string) *observation.Observation {
	o, err := factory.New(id, rfid.LTE)
	require.NoError(t, err)
	o.SetASU(asu)
	o.SetNote(note)
	return o
}

func TestFlushWhenFull(t *testing.T) {
	q := handoff.NewQueue(16)
	sink := newMemSink("mem", nil)
	m := metrics.New(nil)
	b, err := events.New(1)
	require.NoError(t, err)
	a := New(q, &Config{BufSize: 3, TickerDur: time.Hour, MaxAge: time.Hour, FlushTimeout: time.Second}, m, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for i, id := range []string{"LTE/1", "LTE/2", "LTE/3", "LTE/4"} {
		q.Put(obs(t, id, i, ""))
	}
	sink.wait(t)
	c := sink.get(0)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(1), c.Seq)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.Closed.Before(c.Opened))
	assert.Contains(t, c.Opened.String(), "m=+", "opened keeps the monotonic reading")
	assert.Contains(t, c.Closed.String(), "m=+")
	v := c.View(c.Sorted())
	assert.Equal(t, time.UTC, v.Opened.Location())
	assert.Equal(t, time.UTC, v.Closed.Location())
	assert.True(t, v.Opened.Equal(c.Opened))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	sink.wait(t)
	assert.Equal(t, 1, sink.get(1).Len(), "open cycle flushed on shutdown")
	assert.Equal(t, uint64(2), sink.get(1).Seq)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Cycles))
	assert.Equal(t, uint64(2), b.Counts()[events.CYCLE_CLOSED])
	assert.Equal(t, sink.get(1).ID, a.Last().ID)
	assert.Equal(t, time.UTC, a.Last().Closed.Location())
}

func TestFlushOnMaxAge(t *testing.T) {
	q := handoff.NewQueue(16)
	sink := newMemSink("mem", nil)
	a := New(q, &Config{BufSize: 100, TickerDur: 10 * time.Millisecond, MaxAge: 20 * time.Millisecond, FlushTimeout: time.Second}, nil, nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	q.Put(obs(t, "LTE/1", 5, ""))
	q.Put(obs(t, "LTE/2", 6, ""))
	sink.wait(t)
	assert.Equal(t, 2, sink.get(0).Len())
}

func TestQueueCloseEndsRun(t *testing.T) {
	q := handoff.NewQueue(16)
	sink := newMemSink("mem", nil)
	a := New(q, &Config{BufSize: 100, TickerDur: time.Hour, MaxAge: time.Hour, FlushTimeout: time.Second}, nil, nil, sink)
	q.Put(obs(t, "LTE/1", 5, ""))
	q.Close()
	require.NoError(t, a.Run(context.Background()))
	sink.wait(t)
	assert.Equal(t, 1, sink.get(0).Len())
}

func TestSinkErrorDoesNotStopOthers(t *testing.T) {
	q := handoff.NewQueue(16)
	bad := newMemSink("bad", errors.New("boom"))
	good := newMemSink("good", nil)
	m := metrics.New(nil)
	a := New(q, &Config{BufSize: 1, TickerDur: time.Hour, MaxAge: time.Hour, FlushTimeout: time.Second}, m, nil, bad, good)
	q.Put(obs(t, "LTE/1", 5, ""))
	q.Put(obs(t, "LTE/2", 5, ""))
	q.Close()
	require.NoError(t, a.Run(context.Background()))
	bad.wait(t)
	bad.wait(t)
	good.wait(t)
	good.wait(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("bad")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("good")))
}

func TestFlushSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	q := handoff.NewQueue(16)
	bad := newMemSink("bad", errors.New("boom"))
	good := newMemSink("good", nil)
	a := New(q, &Config{BufSize: 2, TickerDur: time.Hour, MaxAge: time.Hour, FlushTimeout: time.Second}, nil, nil, bad, good)
	a.SetTracerProvider(tp)
	q.Put(obs(t, "LTE/1", 5, ""))
	q.Put(obs(t, "LTE/2", 6, ""))
	q.Close()
	require.NoError(t, a.Run(context.Background()))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "sink.consume", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("sink", "bad"))
	assert.Equal(t, codes.Unset, spans[1].Status().Code)

	flush := spans[2]
	assert.Equal(t, "cycle.flush", flush.Name())
	assert.Contains(t, flush.Attributes(), attribute.Int("cycle.size", 2))
	assert.Contains(t, flush.Attributes(), attribute.String("reason", "full"))
	assert.Equal(t, codes.Error, flush.Status().Code)
	assert.Equal(t, flush.SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestCycleStrongestAndSorted(t *testing.T) {
	c := &Cycle{Observations: []observation.Observation{
		*obs(t, "LTE/2", 10, "a"),
		*obs(t, "LTE/1", 20, ""),
		*obs(t, "LTE/2", 25, "b"),
		*obs(t, "LTE/3", 10, ""),
		*obs(t, "LTE/1", 20, "dup"),
	}}
	sorted := c.Sorted()
	require.Len(t, sorted, 5)
	assert.Equal(t, "LTE|LTE/2, asu=25, note='b'", sorted[0].String())
	assert.Equal(t, 20, sorted[1].ASU())
	assert.Equal(t, sorted, c.Sorted())
	assert.Equal(t, "LTE/2", c.Observations[0].Identification().ID(), "arrival order kept")

	strongest := c.Strongest()
	require.Len(t, strongest, 3)
	keys := []string{}
	for _, o := range strongest {
		keys = append(keys, o.Identification().String())
	}
	assert.Equal(t, []string{"LTE|LTE/2", "LTE|LTE/1", "LTE|LTE/3"}, keys)
	assert.Equal(t, 25, strongest[0].ASU())

	byType := c.ByType()
	assert.Len(t, byType[rfid.LTE], 3)

	v := c.View(strongest)
	assert.Equal(t, 5, v.Size)
	require.Len(t, v.Observations, 3)
	assert.Equal(t, "LTE", v.Observations[0].Type)
	assert.Equal(t, strongest[0].String(), v.Observations[0].Rendered)
}
