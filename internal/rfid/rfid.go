package rfid

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

type EmitterType uint8

const (
	WLAN2 EmitterType = iota
	WLAN5
	WLAN6
	GSM
	WCDMA
	CDMA
	LTE
	NR
)

var type_names = [...]string{"WLAN2", "WLAN5", "WLAN6", "GSM", "WCDMA", "CDMA", "LTE", "NR"}

var (
	ErrEmptyId     = errors.New("empty emitter id")
	ErrUnknownType = errors.New("unknown emitter type")
	ErrBadMac      = errors.New("wlan id is not a mac address")
	ErrBadCellId   = errors.New("malformed cell id")
)

func (t EmitterType) String() string {
	if int(t) < len(type_names) {
		return type_names[t]
	}
	return fmt.Sprintf("EmitterType(%d)", uint8(t))
}

func (t EmitterType) Valid() bool {
	return int(t) < len(type_names)
}

func (t EmitterType) IsWLAN() bool {
	return t == WLAN2 || t == WLAN5 || t == WLAN6
}

func (t EmitterType) IsMobile() bool {
	return t.Valid() && !t.IsWLAN()
}

// ParseEmitterType accepts the type names case-insensitively, plus WIFI and
// WLAN as aliases for WLAN2.
func ParseEmitterType(s string) (EmitterType, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch u {
	case "WIFI", "WLAN":
		return WLAN2, nil
	}
	for i, n := range type_names {
		if n == u {
			return EmitterType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

func (t EmitterType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *EmitterType) UnmarshalText(b []byte) error {
	v, err := ParseEmitterType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Identification names one RF emitter. The zero value is not a valid
// identification; use New.
type Identification struct {
	id     string
	rfType EmitterType
	key    string
}

func New(rawID string, t EmitterType) (Identification, error) {
	if !t.Valid() {
		return Identification{}, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	id := strings.TrimSpace(rawID)
	if id == "" {
		return Identification{}, ErrEmptyId
	}
	if t.IsWLAN() {
		mac, err := net.ParseMAC(id)
		if err != nil || len(mac) != 6 {
			return Identification{}, fmt.Errorf("%w: %q", ErrBadMac, rawID)
		}
		id = mac.String()
	} else if strings.ContainsAny(id, " \t\r\n|") {
		return Identification{}, fmt.Errorf("%w: %q", ErrBadCellId, rawID)
	}
	return Identification{id: id, rfType: t, key: t.String() + "|" + id}, nil
}

func (i Identification) ID() string {
	return i.id
}

func (i Identification) Type() EmitterType {
	return i.rfType
}

func (i Identification) String() string {
	return i.key
}

func (i Identification) Compare(o Identification) int {
	return strings.Compare(i.key, o.key)
}

// Hash is stable across processes: 31*h(id) + type, 32-bit wraparound,
// h being the usual polynomial string hash over UTF-16 code units.
func (i Identification) Hash() int32 {
	return 31*string_hash(i.id) + int32(i.rfType)
}

func string_hash(s string) int32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h = 31*h + int32(0xD800+(r>>10))
			h = 31*h + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = 31*h + int32(r)
	}
	return h
}
