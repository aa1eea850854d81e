package webstream

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/rflocate/internal/rfid"
	"nuha.dev/rflocate/internal/sublist"
)

type Config struct {
	QueueLen     int           `mapstructure:"queue_len" validate:"gte=1"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type Stats struct {
	Clients uint64 `json:"clients"`
	Pushed  uint64 `json:"pushed"`
	Skipped uint64 `json:"skipped"`
}

type WebstreamServer struct {
	subs    *sublist.SublistMap
	config  Config
	log     log.Logger
	clients uint64
	pushed  uint64
	skipped uint64
}

// WsSubscriber buffers pushes for one websocket client. A full buffer skips
// the payload instead of blocking the aggregator.
type WsSubscriber struct {
	srv     *WebstreamServer
	cycle   chan []byte
	closed  uint32
	skipped uint64
	pushed  uint64
}

func NewWebstream(subs *sublist.SublistMap, config Config) *WebstreamServer {
	o := &WebstreamServer{subs: subs, config: config}
	if o.config.QueueLen < 1 {
		o.config.QueueLen = 8
	}
	if o.config.WriteTimeout <= 0 {
		o.config.WriteTimeout = 10 * time.Second
	}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "webstream").Value()
	return o
}

func (wsub *WsSubscriber) Push(key string, d []byte) bool {
	if atomic.LoadUint32(&wsub.closed) == 1 {
		return true
	}
	select {
	case wsub.cycle <- d:
		atomic.AddUint64(&wsub.pushed, 1)
		atomic.AddUint64(&wsub.srv.pushed, 1)
	default:
		atomic.AddUint64(&wsub.skipped, 1)
		atomic.AddUint64(&wsub.srv.skipped, 1)
	}
	return false
}

func (ws *WebstreamServer) Stats() Stats {
	return Stats{
		Clients: atomic.LoadUint64(&ws.clients),
		Pushed:  atomic.LoadUint64(&ws.pushed),
		Skipped: atomic.LoadUint64(&ws.skipped),
	}
}

// ServeHTTP streams closed cycles to the client. ?type=<emitter type>
// narrows the stream to one type.
func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := sublist.ALL
	if q := r.URL.Query().Get("type"); q != "" {
		t, err := rfid.ParseEmitterType(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key = sublist.Key(t.String())
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	atomic.AddUint64(&ws.clients, 1)
	defer atomic.AddUint64(&ws.clients, ^uint64(0))

	wsub := &WsSubscriber{srv: ws, cycle: make(chan []byte, ws.config.QueueLen)}
	l, _ := ws.subs.GetSublist(key, true)
	l.Subscribe(wsub)
	defer func() {
		atomic.StoreUint32(&wsub.closed, 1)
		l.Unsubscribe(wsub)
	}()
	ws.log.Info().Str("remote", r.RemoteAddr).Str("sublist", key).Msg("websocket subscribed")

	// client messages are ignored, reading only watches for close
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			ws.log.Info().Str("remote", r.RemoteAddr).Uint64("pushed", atomic.LoadUint64(&wsub.pushed)).Uint64("skipped", atomic.LoadUint64(&wsub.skipped)).Msg("websocket closed")
			return
		case d := <-wsub.cycle:
			wctx, cancel := context.WithTimeout(ctx, ws.config.WriteTimeout)
			err := c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				ws.log.Error().Err(err).Msg("Error while writing to connection")
				return
			}
		}
	}
}
