// Package transport owns one physical duplex channel at a time and keeps it
// alive: binary framing, heartbeat and bounded auto-reconnect.
//
// A Connection is not safe for concurrent use. Every method, and every
// handler it invokes, runs on the reactor goroutine.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/reactor"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	defaultOutboxSize        = 64
	writeTimeout             = 3 * time.Second
)

// Handlers are the upward callbacks. Either may be nil, and both can be
// replaced at any time without touching the physical channel.
type Handlers struct {
	OnMessage func(wire.Message)
	OnStatus  func(Status)
}

// link is the identity of one physical channel attempt. Events carry the
// link they came from and are dropped unless it is still current.
type link struct {
	id        uint64
	address   string
	ctx       context.Context
	cancel    context.CancelFunc
	ch        Channel
	open      bool
	outbox    chan []byte
	closing   chan struct{}
	heartbeat *reactor.Timer
}

type reconnectPolicy struct {
	enabled  bool
	address  string
	attempts int
	resend   func()
	timer    *reactor.Timer
}

type Connection struct {
	r        *reactor.Reactor
	dialer   Dialer
	log      *zap.Logger
	handlers Handlers
	status   Status
	address  string
	current  *link
	lastID   uint64
	policy   reconnectPolicy

	backoff        Backoff
	heartbeatEvery time.Duration
	heartbeat      wire.Message
	outboxSize     int
}

type Option func(*Connection)

func WithLogger(log *zap.Logger) Option {
	return func(c *Connection) {
		if log != nil {
			c.log = log
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *Connection) { c.backoff = b }
}

// WithHeartbeat sets the keep-alive period. Zero disables it.
func WithHeartbeat(every time.Duration) Option {
	return func(c *Connection) { c.heartbeatEvery = every }
}

func WithOutboxSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.outboxSize = n
		}
	}
}

func New(r *reactor.Reactor, dialer Dialer, opts ...Option) *Connection {
	c := &Connection{
		r:              r,
		dialer:         dialer,
		log:            zap.NewNop(),
		status:         StatusDisconnected,
		backoff:        DefaultBackoff(),
		heartbeatEvery: DefaultHeartbeatInterval,
		heartbeat:      wire.Named.New(wire.KindPing),
		outboxSize:     defaultOutboxSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) Bind(h Handlers) { c.handlers = h }

func (c *Connection) Handlers() Handlers { return c.handlers }

func (c *Connection) Status() Status { return c.status }

// Address is the target of the most recent Connect.
func (c *Connection) Address() string { return c.address }

// SetHeartbeat replaces the keep-alive message.
func (c *Connection) SetHeartbeat(msg wire.Message) { c.heartbeat = msg }

func (c *Connection) ReconnectAttempts() int { return c.policy.attempts }

func (c *Connection) ReconnectEnabled() bool { return c.policy.enabled }

// Connect supersedes any existing channel and starts dialing address.
func (c *Connection) Connect(address string) {
	c.supersede()

	c.lastID++
	ctx, cancel := context.WithCancel(c.r.Context())
	l := &link{
		id:      c.lastID,
		address: address,
		ctx:     ctx,
		cancel:  cancel,
		outbox:  make(chan []byte, c.outboxSize),
		closing: make(chan struct{}),
	}
	c.current = l
	c.address = address

	c.log.Debug("connecting", zap.String("address", address), zap.Uint64("link", l.id))
	c.setStatus(StatusConnecting)
	if c.current != l {
		return
	}
	go c.run(l)
}

// Send frames msg and queues it on the open channel. It reports false and
// drops the message when no channel is open.
func (c *Connection) Send(msg wire.Message) bool {
	l := c.current
	if l == nil || !l.open {
		c.log.Debug("dropping send while not connected", zap.Stringer("kind", wire.KindOf(msg)))
		return false
	}

	data, err := wire.Encode(msg)
	if err != nil {
		c.log.Warn("encode failed", zap.Error(err))
		return false
	}

	select {
	case l.outbox <- data:
		return true
	default:
		c.log.Warn("outbox full, dropping message",
			zap.Stringer("kind", wire.KindOf(msg)), zap.Uint64("link", l.id))
		return false
	}
}

// Disconnect disables reconnect, stops the heartbeat and closes the channel.
func (c *Connection) Disconnect() {
	c.DisableReconnect()
	if c.current != nil {
		c.log.Debug("disconnecting", zap.String("address", c.address), zap.Uint64("link", c.current.id))
	}
	c.supersede()
	c.setStatus(StatusDisconnected)
}

// EnableReconnect arms auto-reconnect towards address. resend, when set,
// runs after every successful open so the owner can re-establish identity.
func (c *Connection) EnableReconnect(address string, resend func()) {
	c.policy.timer.Stop()
	c.policy = reconnectPolicy{enabled: true, address: address, resend: resend}
}

// SetResend swaps the identity callback without re-arming the policy.
func (c *Connection) SetResend(resend func()) { c.policy.resend = resend }

func (c *Connection) DisableReconnect() {
	c.policy.enabled = false
	c.policy.timer.Stop()
	c.policy.timer = nil
}

// ReconnectPending reports whether a backoff timer is waiting.
func (c *Connection) ReconnectPending() bool { return c.policy.timer.Active() }

// Handle pins the physical channel that is current right now. Sends
// through it are dropped once that channel has been closed or superseded,
// even if the Connection has since reconnected.
type Handle struct {
	c *Connection
	l *link
}

func (c *Connection) Handle() Handle { return Handle{c: c, l: c.current} }

// Live reports whether the pinned channel is still the open, current one.
func (h Handle) Live() bool {
	return h.c != nil && h.l != nil && h.l.open && h.c.current == h.l
}

func (h Handle) Send(msg wire.Message) bool {
	if !h.Live() {
		if h.c != nil {
			h.c.log.Debug("dropping send on stale channel", zap.Stringer("kind", wire.KindOf(msg)))
		}
		return false
	}
	return h.c.Send(msg)
}

func (c *Connection) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(s)
	}
}

// supersede detaches the current link before closing it, so nothing it
// emits afterwards can be mistaken for the next one.
func (c *Connection) supersede() {
	l := c.current
	if l == nil {
		return
	}
	c.current = nil
	c.release(l)
}

func (c *Connection) release(l *link) {
	l.open = false
	l.heartbeat.Stop()
	l.heartbeat = nil
	if l.ch == nil {
		// still dialing
		l.cancel()
		return
	}
	// the writer flushes what was already queued, then closes
	close(l.closing)
}

// run dials and reads on its own goroutine; it never touches state directly.
func (c *Connection) run(l *link) {
	ch, err := c.dialer.Dial(l.ctx, l.address)
	if err != nil {
		c.r.Post(func() { c.onClosed(l, err) })
		return
	}
	if !c.r.Post(func() { c.onOpen(l, ch) }) {
		_ = ch.Close()
		return
	}

	for {
		data, err := ch.Read(l.ctx)
		if err != nil {
			c.r.Post(func() { c.onClosed(l, err) })
			return
		}
		c.r.Post(func() { c.onFrame(l, data) })
	}
}

func (c *Connection) write(l *link, ch Channel) {
	defer l.cancel()
	defer func() {
		if err := ch.Close(); err != nil {
			c.log.Debug("close channel", zap.Uint64("link", l.id), zap.Error(err))
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return
		case data := <-l.outbox:
			c.writeFrame(l, ch, data)
		case <-l.closing:
			for {
				select {
				case data := <-l.outbox:
					c.writeFrame(l, ch, data)
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) writeFrame(l *link, ch Channel, data []byte) {
	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	defer cancel()
	if err := ch.Write(ctx, data); err != nil && l.ctx.Err() == nil {
		c.log.Warn("write failed", zap.Uint64("link", l.id), zap.Error(err))
	}
}

func (c *Connection) onOpen(l *link, ch Channel) {
	if l != c.current {
		// superseded while dialing
		go func() { _ = ch.Close() }()
		return
	}
	l.ch = ch
	l.open = true
	c.policy.attempts = 0
	go c.write(l, ch)

	c.log.Info("connected", zap.String("address", l.address), zap.Uint64("link", l.id))
	c.setStatus(StatusConnected)
	if l != c.current {
		return
	}
	c.armHeartbeat(l)
	if c.policy.enabled && c.policy.resend != nil {
		c.policy.resend()
	}
}

func (c *Connection) onFrame(l *link, data []byte) {
	if l != c.current {
		return
	}
	msg, err := wire.Decode(data)
	if err != nil {
		c.log.Warn("undecodable frame", zap.Uint64("link", l.id), zap.Int("size", len(data)), zap.Error(err))
		msg = wire.DecodeErrorMessage(err, len(data))
	}
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
}

func (c *Connection) onClosed(l *link, err error) {
	if l != c.current {
		return
	}
	c.current = nil
	c.release(l)

	unexpected := !errors.Is(err, io.EOF)
	if unexpected {
		c.log.Warn("connection lost", zap.String("address", l.address), zap.Uint64("link", l.id), zap.Error(err))
		c.setStatus(StatusError)
	} else {
		c.log.Info("connection closed by peer", zap.String("address", l.address), zap.Uint64("link", l.id))
	}
	c.setStatus(StatusDisconnected)

	if unexpected && c.current == nil {
		c.scheduleReconnect()
	}
}

func (c *Connection) armHeartbeat(l *link) {
	if c.heartbeatEvery <= 0 {
		return
	}
	l.heartbeat = c.r.After(c.heartbeatEvery, func() {
		if l != c.current || !l.open {
			return
		}
		c.Send(c.heartbeat)
		c.armHeartbeat(l)
	})
}

func (c *Connection) scheduleReconnect() {
	p := &c.policy
	if !p.enabled {
		return
	}
	if p.attempts >= c.backoff.MaxAttempts {
		c.log.Warn("reconnect budget exhausted", zap.String("address", p.address), zap.Int("attempts", p.attempts))
		return
	}

	delay := c.backoff.Delay(p.attempts)
	p.attempts++
	c.log.Info("reconnect scheduled",
		zap.String("address", p.address), zap.Int("attempt", p.attempts), zap.Duration("delay", delay))

	p.timer.Stop()
	p.timer = c.r.After(delay, func() {
		p.timer = nil
		if !p.enabled || c.current != nil {
			return
		}
		c.Connect(p.address)
	})
}
