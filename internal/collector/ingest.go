package collector

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/rflocate/internal/events"
	"nuha.dev/rflocate/internal/handoff"
	"nuha.dev/rflocate/internal/metrics"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/rfid"
)

// Ingester turns scan reports into observations and hands them to the
// aggregation stage. It is shared by the TCP server and the HTTP API.
type Ingester struct {
	factory *observation.Factory
	queue   *handoff.Queue
	vld     *validator.Validate
	metrics *metrics.Metrics
	bus     *events.Bus
	log     log.Logger
}

type RejectedEmitter struct {
	DeviceId string `json:"device_id"`
	Id       string `json:"id"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
}

func NewIngester(factory *observation.Factory, queue *handoff.Queue, m *metrics.Metrics, bus *events.Bus) *Ingester {
	in := &Ingester{factory: factory, queue: queue, metrics: m, bus: bus}
	in.vld = validator.New()
	in.log = log.DefaultLogger
	in.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	if in.metrics == nil {
		in.metrics = metrics.New(nil)
	}
	return in
}

func (in *Ingester) Validate(v interface{}) error {
	return in.vld.Struct(v)
}

// Ingest validates report and queues one observation per emitter. Emitters
// with an invalid identity are skipped; the rest of the report still goes
// through.
func (in *Ingester) Ingest(ctx context.Context, device_id string, report *ScanReport) (IngestResult, error) {
	var res IngestResult
	if err := in.vld.Struct(report); err != nil {
		return res, err
	}
	in.bus.Emit(ctx, events.SCAN_RECEIVED, device_id)
	for _, e := range report.Emitters {
		o, err := in.build(e)
		if err != nil {
			res.Rejected++
			in.metrics.Rejected.Inc()
			in.log.Debug().Err(err).Str("device_id", device_id).Str("id", e.Id).Str("type", e.Type).Msg("emitter rejected")
			in.bus.Emit(ctx, events.OBSERVATION_REJECTED, RejectedEmitter{DeviceId: device_id, Id: e.Id, Type: e.Type, Reason: err.Error()})
			continue
		}
		if !in.queue.Put(o) {
			res.Dropped++
			in.metrics.Dropped.Inc()
			in.bus.Emit(ctx, events.OBSERVATION_DROPPED, o.Identification().String())
			continue
		}
		res.Accepted++
		in.metrics.Collected.Inc()
	}
	return res, nil
}

func (in *Ingester) build(e EmitterReport) (*observation.Observation, error) {
	t, err := rfid.ParseEmitterType(e.Type)
	if err != nil {
		return nil, err
	}
	o, err := in.factory.New(e.Id, t)
	if err != nil {
		return nil, err
	}
	o.SetASU(e.ASU)
	o.SetNote(e.Note)
	return o, nil
}
