package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"dreamfield.world/internal/protocol"
)

// Conn is the slice of the message bus the publisher needs. *nats.Conn
// satisfies it; tests use an in-memory fake.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the receiving side, used by the transport to forward deltas
// to connected clients.
type Subscriber interface {
	Subscribe(subject string, fn func(data []byte)) (unsubscribe func() error, err error)
}

// Connect dials the bus with reconnect enabled. A down bus at startup is not
// fatal; the client buffers and retries in the background.
func Connect(url string, logger *log.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("dreamfield-server"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("bus disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("bus reconnected: %s", nc.ConnectedUrl())
		}),
	)
}

// NATSBus adapts *nats.Conn to the Conn and Subscriber interfaces.
type NATSBus struct {
	NC *nats.Conn
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.NC.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, fn func(data []byte)) (func() error, error) {
	sub, err := b.NC.Subscribe(subject, func(m *nats.Msg) { fn(m.Data) })
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Publisher emits versioned world-update events on per-scope subjects.
// Publish failure is logged and swallowed: the committed mutation is the
// source of truth and a lost bus message only costs the client a resync.
type Publisher struct {
	conn   Conn
	prefix string
	logger *log.Logger
}

func NewPublisher(conn Conn, prefix string, logger *log.Logger) *Publisher {
	if prefix == "" {
		prefix = "world"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

func (p *Publisher) PublishUpdate(ev protocol.WorldUpdateEvent) {
	if p.conn == nil {
		p.logger.Printf("bus unavailable, dropping update exp=%s v=%d", ev.Experience, ev.SnapshotVersion)
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		p.logger.Printf("marshal update exp=%s v=%d: %v", ev.Experience, ev.SnapshotVersion, err)
		return
	}
	subj := Subject(p.prefix, ev.Experience, ev.UserID)
	if err := p.conn.Publish(subj, b); err != nil {
		p.logger.Printf("publish %s v=%d: %v", subj, ev.SnapshotVersion, err)
	}
}

// Subject builds the per-scope subject, e.g. world.update.dream_cafe.u_1 or
// world.update.dream_cafe.all for broadcasts.
func Subject(prefix, experience, scope string) string {
	if scope == "" {
		scope = protocol.BroadcastScope
	}
	return fmt.Sprintf("%s.update.%s.%s", prefix, token(experience), token(scope))
}

// token strips characters that are structural in bus subjects.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}
