// Package aggregator is the consuming side of the handoff. It groups
// observations into cycles and feeds every closed cycle to the registered
// sinks. It does not estimate positions.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"nuha.dev/rflocate/internal/events"
	"nuha.dev/rflocate/internal/handoff"
	"nuha.dev/rflocate/internal/metrics"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/util"
)

type Sink interface {
	Name() string
	Consume(ctx context.Context, c *Cycle) error
}

type Config struct {
	BufSize      int           `mapstructure:"buf_size" validate:"gte=1"`
	TickerDur    time.Duration `mapstructure:"ticker_dur" validate:"gt=0"`
	MaxAge       time.Duration `mapstructure:"max_age" validate:"gt=0"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" validate:"gt=0"`
}

type CycleSummary struct {
	ID     string    `json:"id"`
	Seq    uint64    `json:"seq"`
	Size   int       `json:"size"`
	Closed time.Time `json:"closed"`
}

type Aggregator struct {
	config  *Config
	queue   *handoff.Queue
	sinks   []Sink
	metrics *metrics.Metrics
	bus     *events.Bus
	log     log.Logger
	tracer  trace.Tracer

	seq  uint64
	wbuf Cycle

	mu   sync.Mutex
	last CycleSummary
}

func New(queue *handoff.Queue, config *Config, m *metrics.Metrics, bus *events.Bus, sinks ...Sink) *Aggregator {
	a := &Aggregator{config: config, queue: queue, sinks: sinks, metrics: m, bus: bus}
	a.log = log.DefaultLogger
	a.log.Context = log.NewContext(nil).Str("module", "aggregator").Value()
	a.tracer = otel.Tracer(tracer_name)
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	a.wbuf = a.new_cycle()
	return a
}

const tracer_name = "nuha.dev/rflocate/aggregator"

// SetTracerProvider replaces the global provider for flush spans. Call it
// before Run.
func (a *Aggregator) SetTracerProvider(tp trace.TracerProvider) {
	a.tracer = tp.Tracer(tracer_name)
}

func (a *Aggregator) new_cycle() Cycle {
	a.seq = a.seq + 1
	return Cycle{ID: util.GenUUID(), Seq: a.seq, Observations: make([]observation.Observation, 0, a.config.BufSize)}
}

// Run drains the queue until ctx is cancelled or the queue is closed. The
// open cycle is flushed before Run returns.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.TickerDur)
	defer ticker.Stop()
	a.log.Info().Int("buf_size", a.config.BufSize).Dur("max_age", a.config.MaxAge).Msg("starting aggregator")
	for {
		select {
		case <-ctx.Done():
			a.drain()
			a.flush_detached("shutdown")
			return ctx.Err()
		case o, ok := <-a.queue.C():
			if !ok {
				a.flush_detached("queue_closed")
				return nil
			}
			a.add(ctx, o)
		case t := <-ticker.C:
			if len(a.wbuf.Observations) != 0 && t.Sub(a.wbuf.Opened) >= a.config.MaxAge {
				a.flush(ctx, "max_age")
			}
		}
	}
}

func (a *Aggregator) add(ctx context.Context, o observation.Observation) {
	if len(a.wbuf.Observations) == 0 {
		a.wbuf.Opened = time.Now()
	}
	a.wbuf.Observations = append(a.wbuf.Observations, o)
	if len(a.wbuf.Observations) >= a.config.BufSize {
		a.flush(ctx, "full")
	}
}

// drain takes whatever is already queued without waiting for more.
func (a *Aggregator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.FlushTimeout)
	defer cancel()
	for {
		select {
		case o, ok := <-a.queue.C():
			if !ok {
				return
			}
			a.add(ctx, o)
		default:
			return
		}
	}
}

func (a *Aggregator) flush_detached(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.FlushTimeout)
	defer cancel()
	a.flush(ctx, reason)
}

func (a *Aggregator) flush(ctx context.Context, reason string) {
	if len(a.wbuf.Observations) == 0 {
		return
	}
	cycle := a.wbuf
	cycle.Closed = time.Now()
	a.wbuf = a.new_cycle()

	ctx, span := a.tracer.Start(ctx, "cycle.flush", trace.WithAttributes(
		attribute.String("cycle.id", cycle.ID),
		attribute.Int64("cycle.seq", int64(cycle.Seq)),
		attribute.Int("cycle.size", cycle.Len()),
		attribute.String("reason", reason),
	))
	defer span.End()

	a.metrics.Cycles.Inc()
	a.metrics.CycleSize.Observe(float64(cycle.Len()))
	failed := 0
	for _, s := range a.sinks {
		sctx, sspan := a.tracer.Start(ctx, "sink.consume", trace.WithAttributes(attribute.String("sink", s.Name())))
		t0 := time.Now()
		err := s.Consume(sctx, &cycle)
		a.metrics.SinkTime.WithLabelValues(s.Name()).Observe(time.Since(t0).Seconds())
		if err != nil {
			failed++
			sspan.RecordError(err)
			sspan.SetStatus(codes.Error, err.Error())
			a.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			a.log.Error().Err(err).Str("sink", s.Name()).Str("cycle", cycle.ID).Msg("sink error")
		}
		sspan.End()
	}
	if failed != 0 {
		span.SetStatus(codes.Error, "sink error")
	}
	summary := CycleSummary{ID: cycle.ID, Seq: cycle.Seq, Size: cycle.Len(), Closed: cycle.Closed.UTC()}
	a.mu.Lock()
	a.last = summary
	a.mu.Unlock()
	a.bus.Emit(ctx, events.CYCLE_CLOSED, summary)
	a.log.Debug().Str("action", "flush").Str("reason", reason).Str("cycle", cycle.ID).Int("length", cycle.Len()).Msg("cycle closed")
}

func (a *Aggregator) Last() CycleSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
