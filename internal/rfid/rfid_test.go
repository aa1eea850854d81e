package rfid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWLANNormalisesMac(t *testing.T) {
	id, err := New("AA:BB:CC:DD:EE:FF", WLAN2)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", id.ID())
	assert.Equal(t, WLAN2, id.Type())
	assert.Equal(t, "WLAN2|aa:bb:cc:dd:ee:ff", id.String())
}

func TestNewRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		t    EmitterType
		err  error
	}{
		{"empty", "  ", LTE, ErrEmptyId},
		{"bad mac", "not-a-mac", WLAN5, ErrBadMac},
		{"eui64", "00:00:00:00:fe:80:00:00", WLAN2, ErrBadMac},
		{"cell with space", "LTE 1 2", LTE, ErrBadCellId},
		{"cell with pipe", "GSM|1", GSM, ErrBadCellId},
		{"unknown type", "1", EmitterType(42), ErrUnknownType},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := New(c.raw, c.t)
			require.Error(t, err)
			assert.True(t, errors.Is(err, c.err), "got %v", err)
		})
	}
}

func TestCompareIsLexicalOnKey(t *testing.T) {
	a, _ := New("00:00:00:00:00:01", WLAN2)
	b, _ := New("00:00:00:00:00:02", WLAN2)
	c, _ := New("00:00:00:00:00:01", WLAN5)
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
	assert.Negative(t, b.Compare(c))
}

func TestHashDeterministic(t *testing.T) {
	a, _ := New("310/260/1234/5678", LTE)
	b, _ := New("310/260/1234/5678", LTE)
	c, _ := New("310/260/1234/5678", GSM)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	// "ab" hashes to 31*'a'+'b' under the polynomial string hash
	assert.Equal(t, int32(31*97+98), string_hash("ab"))
}

func TestParseEmitterType(t *testing.T) {
	for in, want := range map[string]EmitterType{
		"wifi": WLAN2, "WLAN": WLAN2, "wlan5": WLAN5, " lte ": LTE, "nr": NR,
	} {
		got, err := ParseEmitterType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseEmitterType("bluetooth")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEmitterTypeText(t *testing.T) {
	var e EmitterType
	require.NoError(t, e.UnmarshalText([]byte("wcdma")))
	assert.Equal(t, WCDMA, e)
	b, err := e.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WCDMA", string(b))
	assert.True(t, WCDMA.IsMobile())
	assert.False(t, WLAN6.IsMobile())
}
