// Package handoff moves a live Connection from one UI phase to the next
// without losing or duplicating a message.
//
// Like the Connection itself, a Coordinator is driven from the reactor
// goroutine only.
package handoff

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

// record is a connection in transit. At most one exists at a time.
type record struct {
	conn     *transport.Connection
	key      string
	buffered []wire.Message
	claimed  bool
	// the channel was reopened while parked, so no phase identified it
	reopened bool
}

type Coordinator struct {
	log     *zap.Logger
	active  *transport.Connection
	pending *record
}

func New(log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{log: log}
}

// SetActive registers conn as the connection owned by the live phase.
func (c *Coordinator) SetActive(conn *transport.Connection) { c.active = conn }

func (c *Coordinator) Active() *transport.Connection { return c.active }

// ReleaseActive clears the active reference if it still points at conn.
func (c *Coordinator) ReleaseActive(conn *transport.Connection) {
	if c.active == conn {
		c.active = nil
	}
}

// BeginHandoff detaches the active connection from its phase and parks it
// under key, buffering everything that arrives until a successor drains it.
func (c *Coordinator) BeginHandoff(key string) bool {
	conn := c.active
	if conn == nil {
		c.log.Warn("handoff requested without an active connection", zap.String("key", key))
		return false
	}
	if c.pending != nil {
		c.log.Warn("replacing unclaimed handoff", zap.String("stale_key", c.pending.key), zap.String("key", key))
		c.discard()
	}

	rec := &record{conn: conn, key: key}
	conn.Bind(transport.Handlers{
		OnMessage: func(m wire.Message) {
			rec.buffered = append(rec.buffered, m)
		},
		OnStatus: func(s transport.Status) {
			c.log.Debug("status during handoff", zap.String("key", key), zap.Stringer("status", s))
		},
	})
	conn.SetResend(func() {
		rec.reopened = true
		c.log.Info("channel reopened during handoff", zap.String("key", key))
	})
	c.pending = rec
	c.active = nil

	c.log.Info("handoff started", zap.String("key", key), zap.String("address", conn.Address()))
	return true
}

// ConsumeHandoff returns the parked connection when key matches. The record
// stays alive, still buffering, until DrainBufferedMessages. Any mismatch
// discards the record and its connection.
func (c *Coordinator) ConsumeHandoff(key string) (*transport.Connection, bool) {
	rec := c.pending
	if rec == nil {
		return nil, false
	}
	if rec.key != key {
		c.log.Warn("handoff key mismatch, discarding", zap.String("want", rec.key), zap.String("got", key))
		c.discard()
		return nil, false
	}
	rec.claimed = true
	c.active = rec.conn
	return rec.conn, true
}

// DrainBufferedMessages hands over everything buffered and retires the
// record. Call it only after rebinding the connection's handlers.
func (c *Coordinator) DrainBufferedMessages() []wire.Message {
	rec := c.pending
	if rec == nil {
		return nil
	}
	c.pending = nil
	out := rec.buffered
	rec.buffered = nil
	c.log.Info("handoff completed", zap.String("key", rec.key), zap.Int("buffered", len(out)))
	return out
}

// Reopened reports whether the pending record's channel was reopened after
// it was parked. The successor must re-establish identity on it.
func (c *Coordinator) Reopened() bool {
	return c.pending != nil && c.pending.reopened
}

// Discard drops the record parked under key and closes its connection
// unless a successor already claimed it. It reports whether there was one.
func (c *Coordinator) Discard(key string) bool {
	if c.pending == nil || c.pending.key != key {
		return false
	}
	c.log.Info("handoff discarded", zap.String("key", key))
	c.discard()
	return true
}

// IsHandoffPending reports whether a record for key is parked or claimed
// but not yet drained.
func (c *Coordinator) IsHandoffPending(key string) bool {
	return c.pending != nil && c.pending.key == key
}

// Buffered is the number of messages waiting in the pending record.
func (c *Coordinator) Buffered() int {
	if c.pending == nil {
		return 0
	}
	return len(c.pending.buffered)
}

func (c *Coordinator) discard() {
	rec := c.pending
	c.pending = nil
	if rec.claimed {
		return
	}
	rec.conn.Bind(transport.Handlers{})
	rec.conn.Disconnect()
	if c.active == rec.conn {
		c.active = nil
	}
}

// Shutdown closes every connection the coordinator knows about, parked or
// active.
func (c *Coordinator) Shutdown() {
	if rec := c.pending; rec != nil {
		c.pending = nil
		rec.conn.Bind(transport.Handlers{})
		rec.conn.Disconnect()
	}
	if conn := c.active; conn != nil {
		c.active = nil
		conn.Bind(transport.Handlers{})
		conn.Disconnect()
	}
}
