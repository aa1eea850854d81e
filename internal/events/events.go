package events

import (
	"context"
	"sync"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
)

const (
	SCAN_RECEIVED        string = "scan.received"
	OBSERVATION_REJECTED string = "observation.rejected"
	OBSERVATION_DROPPED  string = "observation.dropped"
	CYCLE_CLOSED         string = "cycle.closed"
)

// 2024-01-01T00:00:00Z, the epoch for monoton ids.
const id_epoch_ms uint64 = 1704067200000

// idgen adapts monoton to bus.IDGenerator.
type idgen struct {
	next func() string
}

func (g idgen) Generate() string {
	return g.next()
}

type Bus struct {
	b      *bus.Bus
	log    log.Logger
	mu     sync.Mutex
	counts map[string]uint64
}

func New(node uint64) (*Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, id_epoch_ms)
	if err != nil {
		return nil, err
	}
	b, err := bus.NewBus(idgen{next: m.Next})
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(SCAN_RECEIVED, OBSERVATION_REJECTED, OBSERVATION_DROPPED, CYCLE_CLOSED)

	o := &Bus{b: b, counts: make(map[string]uint64)}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "events").Value()
	b.RegisterHandler("counter", bus.Handler{Handle: o.count, Matcher: ".*"})
	return o, nil
}

func (o *Bus) count(ctx context.Context, e bus.Event) {
	o.mu.Lock()
	o.counts[e.Topic]++
	o.mu.Unlock()
	o.log.Debug().Str("topic", e.Topic).Str("event_id", e.ID).Msg("event")
}

// Emit publishes data on topic. A nil *Bus discards events, so components
// can run without one.
func (o *Bus) Emit(ctx context.Context, topic string, data interface{}) {
	if o == nil {
		return
	}
	if err := o.b.Emit(ctx, topic, data); err != nil {
		o.log.Error().Err(err).Str("topic", topic).Msg("emit failed")
	}
}

// Subscribe registers fn for the topics matched by the regular expression.
func (o *Bus) Subscribe(key, matcher string, fn func(ctx context.Context, topic string, data interface{})) {
	if o == nil {
		return
	}
	o.b.RegisterHandler(key, bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			fn(ctx, e.Topic, e.Data)
		},
		Matcher: matcher,
	})
}

func (o *Bus) Unsubscribe(key string) {
	if o == nil {
		return
	}
	o.b.DeregisterHandler(key)
}

func (o *Bus) Counts() map[string]uint64 {
	if o == nil {
		return map[string]uint64{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	res := make(map[string]uint64, len(o.counts))
	for k, v := range o.counts {
		res[k] = v
	}
	return res
}
