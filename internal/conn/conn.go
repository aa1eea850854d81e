package conn

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn is a buffered net.Conn with byte counters, one per scanner session.
type Conn struct {
	cid      uint64
	tuple    []string
	created  time.Time
	r        *bufio.Reader
	byte_in  uint64
	byte_out uint64
	closed   uint32
	net.Conn
}

type Info struct {
	Cid      uint64    `json:"cid"`
	Remote   string    `json:"remote"`
	Created  time.Time `json:"created"`
	ByteIn   uint64    `json:"byte_in"`
	ByteOut  uint64    `json:"byte_out"`
	DeviceId string    `json:"device_id,omitempty"`
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())

	return &Conn{
		cid:     cid,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		created: time.Now(),
		r:       bufio.NewReader(c),
		Conn:    c,
	}
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) Close() error {
	atomic.StoreUint32(&c.closed, 1)
	return c.Conn.Close()
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) Info() Info {
	return Info{
		Cid:     c.cid,
		Remote:  net.JoinHostPort(c.tuple[0], c.tuple[1]),
		Created: c.created,
		ByteIn:  atomic.LoadUint64(&c.byte_in),
		ByteOut: atomic.LoadUint64(&c.byte_out),
	}
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Strs("socket", c.tuple).Uint64("cid", c.cid)
}
