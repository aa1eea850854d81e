package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/rflocate/internal/rfid"
)

var (
	ErrNotFound    = errors.New("emitter not seen")
	ErrUnavailable = errors.New("sighting store unavailable")
)

// Sighting is what the cache remembers about one emitter across cycles.
type Sighting struct {
	RfId      string    `json:"rfid"`
	Type      string    `json:"type"`
	ASU       int       `json:"asu"`
	MaxASU    int       `json:"max_asu"`
	Note      string    `json:"note,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int64     `json:"count"`
}

type SightingReader interface {
	GetSighting(ctx context.Context, id rfid.Identification) (Sighting, error)
}

// SightingStore also forgets emitters, e.g. one that was moved or removed.
// Drop returns ErrNotFound when there was nothing to forget.
type SightingStore interface {
	SightingReader
	Drop(ctx context.Context, id rfid.Identification) error
}
