package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/rflocate/internal/conn"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	SESSION_CLOSED      string = "session_closed"
)

var errNotLoggedIn = errors.New("first frame is not a login")

type ServerConfig struct {
	ListenerAddr  string        `mapstructure:"listen_addr" validate:"required"`
	ProxyProtocol bool          `mapstructure:"proxy_protocol"`
	LoginTimeout  time.Duration `mapstructure:"login_timeout" validate:"gt=0"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	FrameBuffer   int           `mapstructure:"frame_buffer" validate:"gte=64,lte=65540"`
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	ingester    *Ingester
	cid_counter uint64
	listener    net.Listener
	sessions    map[uint64]*session
	closed      bool
}

type session struct {
	s         *Server
	c         *conn.Conn
	device_id string
	msg       FrameMessage
}

func NewServer(ingester *Ingester, config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "collector").Value()
	s.config = config
	s.ingester = ingester
	s.sessions = make(map[uint64]*session)
	return s
}

func (s *Server) Run() error {
	s.log.Info().Msgf("starting collector on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	if s.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	return s.Serve(ln)
}

// Serve accepts scanner connections on ln until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	for {
		_c, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Error().Err(err).Msg("failed to accept new connection")
			ln.Close()
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_c.Close()
			return nil
		}
		s.cid_counter = s.cid_counter + 1
		c := conn.NewConn(_c, s.cid_counter)
		sess := &session{s: s, c: c}
		sess.msg.Buffer = make([]byte, s.config.FrameBuffer)
		s.sessions[c.Cid()] = sess
		s.mu.Unlock()
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		go sess.handle()
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, sess := range s.sessions {
		sess.c.Close()
	}
	return err
}

// Sessions lists live scanner connections ordered by connection id.
func (s *Server) Sessions() []conn.Info {
	s.mu.Lock()
	res := make([]conn.Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		i := sess.c.Info()
		i.DeviceId = sess.device_id
		res = append(res, i)
	}
	s.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Cid < res[j].Cid })
	return res
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.c.Cid())
	s.mu.Unlock()
}

func (sess *session) handle() {
	defer sess.s.remove(sess)
	defer sess.c.Close()
	logger := sess.s.log

	err := sess.login()
	if err != nil {
		logger.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(sess.c).Err(err).Msg("")
		return
	}
	logger.Info().Str("event", LOGIN_MESSAGE).EmbedObject(sess.c).Str("device_id", sess.device_id).Msg("")

	for {
		err = sess.next()
		if err != nil {
			i := sess.c.Info()
			logger.Info().Str("event", SESSION_CLOSED).EmbedObject(sess.c).Err(err).Uint64("byte_in", i.ByteIn).Uint64("byte_out", i.ByteOut).Msg("")
			return
		}
	}
}

func (sess *session) login() error {
	_ = sess.c.SetReadDeadline(time.Now().Add(sess.s.config.LoginTimeout))
	err := ReadMessage(sess.c, &sess.msg)
	if err != nil {
		return err
	}
	sess.s.ingester.metrics.Frames.WithLabelValues(protocolName(sess.msg.Protocol)).Inc()
	if sess.msg.Protocol != LOGIN {
		sess.reply(NACK, nil)
		return errNotLoggedIn
	}
	var login LoginMessage
	if err = json.Unmarshal(sess.msg.Payload, &login); err == nil {
		err = sess.s.ingester.Validate(&login)
	}
	if err != nil {
		sess.reply(NACK, nil)
		return err
	}
	sess.s.mu.Lock()
	sess.device_id = login.DeviceId
	sess.s.mu.Unlock()
	return sess.reply(ACK, nil)
}

func (sess *session) next() error {
	_ = sess.c.SetReadDeadline(time.Now().Add(sess.s.config.IdleTimeout))
	err := ReadMessage(sess.c, &sess.msg)
	if err != nil {
		return err
	}
	sess.s.ingester.metrics.Frames.WithLabelValues(protocolName(sess.msg.Protocol)).Inc()
	switch sess.msg.Protocol {
	case SCAN_REPORT:
		var report ScanReport
		err = json.Unmarshal(sess.msg.Payload, &report)
		if err != nil {
			sess.s.log.Error().Err(err).EmbedObject(sess.c).Msg("error parsing scan report")
			return sess.reply(NACK, nil)
		}
		res, err := sess.s.ingester.Ingest(context.Background(), sess.device_id, &report)
		if err != nil {
			sess.s.log.Error().Err(err).EmbedObject(sess.c).Msg("invalid scan report")
			return sess.reply(NACK, nil)
		}
		d, _ := json.Marshal(res)
		return sess.reply(ACK, d)
	case HEARTBEAT:
		return sess.reply(ACK, nil)
	default:
		sess.s.log.Warn().EmbedObject(sess.c).Uint64("protocol", uint64(sess.msg.Protocol)).Msg("unexpected protocol")
		return sess.reply(NACK, nil)
	}
}

func (sess *session) reply(protocol byte, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, len(payload)+header_len+1), protocol, payload)
	if err != nil {
		return err
	}
	_ = sess.c.SetWriteDeadline(time.Now().Add(sess.s.config.IdleTimeout))
	_, err = sess.c.Write(buf)
	return err
}
