package observation

import (
	"errors"
	"fmt"
	"time"
)

var ErrBadBounds = errors.New("maximum asu below minimum asu")

// Bounds is the closed strength range owned by the service configuration.
type Bounds struct {
	MinimumASU int `mapstructure:"minimum_asu" json:"minimum_asu"`
	MaximumASU int `mapstructure:"maximum_asu" json:"maximum_asu" validate:"gtefield=MinimumASU"`
}

// DefaultBounds matches the GSM/LTE ASU scale used by field scanners.
var DefaultBounds = Bounds{MinimumASU: 0, MaximumASU: 31}

func (b Bounds) Validate() error {
	if b.MaximumASU < b.MinimumASU {
		return fmt.Errorf("%w: [%d, %d]", ErrBadBounds, b.MinimumASU, b.MaximumASU)
	}
	return nil
}

func (b Bounds) Clamp(v int) int {
	if v > b.MaximumASU {
		return b.MaximumASU
	} else if v < b.MinimumASU {
		return b.MinimumASU
	}
	return v
}

// Clock supplies the two time sources read once per observation.
type Clock interface {
	WallMillis() int64
	MonotonicNanos() int64
}

type system_clock struct {
	base time.Time
}

var process_clock = &system_clock{base: time.Now()}

// SystemClock reads the wall clock for WallMillis and the runtime monotonic
// clock, relative to process start, for MonotonicNanos.
func SystemClock() Clock {
	return process_clock
}

func (c *system_clock) WallMillis() int64 {
	return time.Now().UnixMilli()
}

func (c *system_clock) MonotonicNanos() int64 {
	return int64(time.Since(c.base))
}
