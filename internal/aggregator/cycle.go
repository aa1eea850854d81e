package aggregator

import (
	"time"

	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/rfid"
)

// Cycle is the batch of observations gathered for one estimation cycle.
// Observations keeps arrival order; Sorted and Strongest derive new slices
// and can be called any number of times. Opened and Closed keep the
// monotonic clock reading; views convert them to UTC.
type Cycle struct {
	ID           string
	Seq          uint64
	Opened       time.Time
	Closed       time.Time
	Observations []observation.Observation
}

func (c *Cycle) Len() int {
	return len(c.Observations)
}

func (c *Cycle) Sorted() []observation.Observation {
	return observation.Sorted(c.Observations, observation.StrongestFirst)
}

// Strongest keeps one observation per emitter, the first one in
// strongest-first order.
func (c *Cycle) Strongest() []observation.Observation {
	sorted := c.Sorted()
	seen := make(map[string]struct{}, len(sorted))
	res := sorted[:0]
	for _, o := range sorted {
		key := o.Identification().String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		res = append(res, o)
	}
	return res
}

// ByType splits the strongest observations per emitter type.
func (c *Cycle) ByType() map[rfid.EmitterType][]observation.Observation {
	res := make(map[rfid.EmitterType][]observation.Observation)
	for _, o := range c.Strongest() {
		t := o.Identification().Type()
		res[t] = append(res[t], o)
	}
	return res
}

type ObservationView struct {
	Key      string `json:"key"`
	Id       string `json:"id"`
	Type     string `json:"type"`
	ASU      int    `json:"asu"`
	Note     string `json:"note,omitempty"`
	WallMs   int64  `json:"wall_ms"`
	MonoNs   int64  `json:"mono_ns"`
	Rendered string `json:"rendered"`
}

type CycleView struct {
	ID           string            `json:"id"`
	Seq          uint64            `json:"seq"`
	Opened       time.Time         `json:"opened"`
	Closed       time.Time         `json:"closed"`
	Size         int               `json:"size"`
	Observations []ObservationView `json:"observations"`
}

func NewObservationView(o *observation.Observation) ObservationView {
	id := o.Identification()
	return ObservationView{
		Key:      id.String(),
		Id:       id.ID(),
		Type:     id.Type().String(),
		ASU:      o.ASU(),
		Note:     o.Note(),
		WallMs:   o.WallClockMillis(),
		MonoNs:   o.MonotonicNanos(),
		Rendered: o.String(),
	}
}

// View renders obs, normally a derived slice of c, for encoding.
func (c *Cycle) View(obs []observation.Observation) CycleView {
	v := CycleView{ID: c.ID, Seq: c.Seq, Opened: c.Opened.UTC(), Closed: c.Closed.UTC(), Size: c.Len()}
	v.Observations = make([]ObservationView, len(obs))
	for i := range obs {
		v.Observations[i] = NewObservationView(&obs[i])
	}
	return v
}
