package webstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nuha.dev/rflocate/internal/sublist"
)

func TestStreamDeliversSublistData(t *testing.T) {
	subs := sublist.NewSublistMap()
	ws := NewWebstream(subs, Config{QueueLen: 4, WriteTimeout: time.Second})
	srv := httptest.NewServer(ws)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?type=lte", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	l, _ := subs.GetSublist("lte", true)
	require.Eventually(t, func() bool { return l.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	l.Send([]byte(`{"seq":1}`))

	typ, d, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, `{"seq":1}`, string(d))
	assert.Equal(t, uint64(1), ws.Stats().Clients)
	assert.Eventually(t, func() bool { return ws.Stats().Pushed == 1 }, time.Second, 10*time.Millisecond)
}

func TestUnknownTypeRejected(t *testing.T) {
	ws := NewWebstream(sublist.NewSublistMap(), Config{})
	rec := httptest.NewRecorder()
	ws.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?type=bluetooth", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushSkipsWhenFull(t *testing.T) {
	ws := NewWebstream(sublist.NewSublistMap(), Config{QueueLen: 1})
	sub := &WsSubscriber{srv: ws, cycle: make(chan []byte, 1)}
	assert.False(t, sub.Push("all", []byte("a")))
	assert.False(t, sub.Push("all", []byte("b")))
	assert.Equal(t, uint64(1), ws.Stats().Pushed)
	assert.Equal(t, uint64(1), ws.Stats().Skipped)
	sub.closed = 1
	assert.True(t, sub.Push("all", []byte("c")))
}
