package sublist

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/rfid"
)

type mockSub struct {
	closed bool
	got    map[string][][]byte
}

func newMockSub() *mockSub {
	return &mockSub{got: map[string][][]byte{}}
}

func (m *mockSub) Push(key string, d []byte) bool {
	if m.closed {
		return true
	}
	m.got[key] = append(m.got[key], d)
	return false
}

func testCycle(t *testing.T) *aggregator.Cycle {
	f, err := observation.NewFactory(observation.DefaultBounds, nil)
	require.NoError(t, err)
	mk := func(id string, typ rfid.EmitterType, asu int) observation.Observation {
		o, err := f.New(id, typ)
		require.NoError(t, err)
		o.SetASU(asu)
		return *o
	}
	return &aggregator.Cycle{ID: "c", Seq: 7, Observations: []observation.Observation{
		mk("GSM/1", rfid.GSM, 3),
		mk("GSM/2", rfid.GSM, 9),
		mk("LTE/1", rfid.LTE, 30),
	}}
}

func TestConsumeRoutesByType(t *testing.T) {
	m := NewSublistMap()
	all, _ := m.GetSublist(ALL, true)
	gsm, _ := m.GetSublist(Key("GSM"), true)
	a, g := newMockSub(), newMockSub()
	all.Subscribe(a)
	gsm.Subscribe(g)

	require.NoError(t, m.Consume(context.Background(), testCycle(t)))

	require.Len(t, a.got[ALL], 1)
	var v aggregator.CycleView
	require.NoError(t, json.Unmarshal(a.got[ALL][0], &v))
	require.Len(t, v.Observations, 3)
	assert.Equal(t, "LTE/1", v.Observations[0].Id)

	require.Len(t, g.got["gsm"], 1)
	require.NoError(t, json.Unmarshal(g.got["gsm"][0], &v))
	require.Len(t, v.Observations, 2)
	assert.Equal(t, 9, v.Observations[0].ASU)
	_, ok := m.GetSublist("lte", false)
	assert.False(t, ok)
}

func TestSubscribeReplaysLast(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist(ALL, true)
	l.Send([]byte("one"))
	s := newMockSub()
	l.Subscribe(s)
	assert.Equal(t, [][]byte{[]byte("one")}, s.got[ALL])
}

func TestClosedSubscriberRemoved(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist(ALL, true)
	s := newMockSub()
	l.Subscribe(s)
	assert.Equal(t, 1, l.Len())
	s.closed = true
	l.Send([]byte("x"))
	assert.Equal(t, 0, l.Len())

	s2 := newMockSub()
	l.Subscribe(s2)
	l.Unsubscribe(s2)
	assert.Equal(t, 0, l.Len())
}
