// Package observation holds the unit of evidence passed from the collection
// stage to the aggregation stage: one sighting of one RF emitter.
//
// An Observation carries no locks. The collection stage builds it fully and
// then hands a copy to the consumer (see handoff.Queue); after that the
// consumer owns its copy and may keep mutating the note and strength.
package observation

import (
	"fmt"
	"slices"

	"nuha.dev/rflocate/internal/rfid"
)

type Observation struct {
	identification rfid.Identification
	asu            int
	note           string
	wall_ms        int64
	mono_ns        int64
	bounds         Bounds
}

// Factory builds observations against a fixed set of strength bounds and
// clock sources.
type Factory struct {
	bounds Bounds
	clock  Clock
}

func NewFactory(bounds Bounds, clock Clock) (*Factory, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Factory{bounds: bounds, clock: clock}, nil
}

func (f *Factory) Bounds() Bounds {
	return f.bounds
}

// New creates an observation with the minimum strength and an empty note.
// Identity errors from rfid.New are returned unchanged.
func (f *Factory) New(rawID string, t rfid.EmitterType) (*Observation, error) {
	id, err := rfid.New(rawID, t)
	if err != nil {
		return nil, err
	}
	return &Observation{
		identification: id,
		asu:            f.bounds.MinimumASU,
		wall_ms:        f.clock.WallMillis(),
		mono_ns:        f.clock.MonotonicNanos(),
		bounds:         f.bounds,
	}, nil
}

func (o *Observation) Identification() rfid.Identification {
	return o.identification
}

func (o *Observation) ASU() int {
	return o.asu
}

// SetASU stores v saturated to the factory bounds. Out of range input is not
// an error.
func (o *Observation) SetASU(v int) {
	o.asu = o.bounds.Clamp(v)
}

func (o *Observation) Note() string {
	return o.note
}

func (o *Observation) SetNote(n string) {
	o.note = n
}

// WallClockMillis is the wall clock reading taken at construction, in
// milliseconds since the Unix epoch.
func (o *Observation) WallClockMillis() int64 {
	return o.wall_ms
}

// MonotonicNanos is the monotonic reading taken at construction. Only
// differences between readings of the same process are meaningful.
func (o *Observation) MonotonicNanos() int64 {
	return o.mono_ns
}

func (o *Observation) String() string {
	return fmt.Sprintf("%s, asu=%d, note='%s'", o.identification, o.asu, o.note)
}

// Equal reports whether a and b render to the same text. Two observations of
// the same emitter and strength with different notes are not equal.
func Equal(a, b *Observation) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}

func (o *Observation) Equal(other *Observation) bool {
	return Equal(o, other)
}

// Hash mixes the identity hash with the strength. The note is not part of
// the hash, so observations differing only by note collide.
func (o *Observation) Hash() int32 {
	result := o.identification.Hash()
	result = (result << 31) + int32(o.asu)
	return result
}

// Ordering is a comparison over observations for sorting and selection. It
// is deliberately separate from Equal: an Ordering may return 0 for two
// observations that Equal reports as different.
type Ordering func(a, b *Observation) int

// StrongestFirst orders by strength descending, then by identity ascending.
var StrongestFirst Ordering = Compare

func Compare(a, b *Observation) int {
	r := b.asu - a.asu
	if r == 0 {
		r = a.identification.Compare(b.identification)
	}
	return r
}

// Sorted returns a sorted copy of obs, leaving obs untouched.
func Sorted(obs []Observation, by Ordering) []Observation {
	out := make([]Observation, len(obs))
	copy(out, obs)
	slices.SortStableFunc(out, func(a, b Observation) int {
		return by(&a, &b)
	})
	return out
}
