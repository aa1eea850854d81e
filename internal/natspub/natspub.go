package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/rfid"
)

type Config struct {
	URL           string        `mapstructure:"url" validate:"required"`
	SubjectPrefix string        `mapstructure:"subject_prefix" validate:"required"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type publisher interface {
	Publish(subj string, data []byte) error
	Flush() error
}

// Publisher sends one message per emitter type present in a cycle, on
// <prefix>.<type>, e.g. observations.wlan2.
type Publisher struct {
	nc     publisher
	conn   *nats.Conn
	prefix string
	log    log.Logger
}

func Connect(config *Config) (*Publisher, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", config.URL, err)
	}
	p := newPublisher(nc, config.SubjectPrefix)
	p.conn = nc
	return p, nil
}

func newPublisher(nc publisher, prefix string) *Publisher {
	p := &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
	p.log = log.DefaultLogger
	p.log.Context = log.NewContext(nil).Str("module", "natspub").Value()
	return p
}

func (p *Publisher) Name() string {
	return "nats"
}

func (p *Publisher) Subject(t rfid.EmitterType) string {
	return p.prefix + "." + strings.ToLower(t.String())
}

func (p *Publisher) Consume(ctx context.Context, c *aggregator.Cycle) error {
	groups := c.ByType()
	types := make([]rfid.EmitterType, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		d, err := json.Marshal(c.View(groups[t]))
		if err != nil {
			return err
		}
		if err = p.nc.Publish(p.Subject(t), d); err != nil {
			return fmt.Errorf("publish %s: %w", p.Subject(t), err)
		}
	}
	return p.nc.Flush()
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
