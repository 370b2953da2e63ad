// Package session drives the join/resume protocol for one UI phase on top of
// a transport Connection.
//
// A Driver lives on the reactor goroutine: call its methods through
// reactor.Do or from inside a reactor callback.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/handoff"
	"github.com/DoyleJ11/lol-draft-client/internal/reactor"
	"github.com/DoyleJ11/lol-draft-client/internal/store"
	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

var (
	ErrNoSession        = errors.New("session: no reconnection session")
	ErrAlreadyStarted   = errors.New("session: driver already started")
	ErrRetriesExhausted = errors.New("session: resume retries exhausted")
)

// Exit describes why a driver gave up on its session. The application is
// expected to return the user to a safe landing state.
type Exit struct {
	SessionID string
	Phase     Phase
	Code      string
	Err       error
}

func (e Exit) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s (%s): %s: %v", e.SessionID, e.Phase, e.Code, e.Err)
	}
	return fmt.Sprintf("session %s (%s): %s", e.SessionID, e.Phase, e.Code)
}

type Handlers struct {
	OnMessage func(wire.Message)
	OnStatus  func(transport.Status)
	OnExit    func(Exit)
}

type Deps struct {
	Reactor     *reactor.Reactor
	Dialer      transport.Dialer
	Store       store.Store
	Coordinator *handoff.Coordinator
	Logger      *zap.Logger
}

type Config struct {
	RetryDelay   time.Duration
	MaxRetries   int
	AckDelay     time.Duration
	StoreTimeout time.Duration
	Transport    []transport.Option
}

func DefaultConfig() Config {
	return Config{
		RetryDelay:   time.Second,
		MaxRetries:   15,
		AckDelay:     1500 * time.Millisecond,
		StoreTimeout: 2 * time.Second,
	}
}

type Driver struct {
	deps     Deps
	cfg      Config
	phase    Phase
	dialect  wire.Dialect
	handlers Handlers
	log      *zap.Logger

	sessionID string
	session   store.Session
	state     State
	conn      *transport.Connection

	retries    int
	retryTimer *reactor.Timer
	acks       map[*reactor.Timer]struct{}

	started   bool
	closed    bool
	handedOff bool
}

func New(deps Deps, phase Phase, cfg Config, h Handlers) *Driver {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		deps:     deps,
		cfg:      cfg,
		phase:    phase,
		dialect:  phase.Dialect(),
		handlers: h,
		log:      log.With(zap.Stringer("phase", phase)),
		state:    StateJoining,
		acks:     make(map[*reactor.Timer]struct{}),
	}
}

func (d *Driver) Phase() Phase { return d.phase }

func (d *Driver) State() State { return d.state }

func (d *Driver) SessionID() string { return d.sessionID }

func (d *Driver) Retries() int { return d.retries }

// Connection is the connection this driver owns, nil after teardown.
func (d *Driver) Connection() *transport.Connection {
	if d.closed || d.handedOff {
		return nil
	}
	return d.conn
}

func (d *Driver) SetHandlers(h Handlers) { d.handlers = h }

// Start enters the phase for sessionID. It adopts a connection handed off
// by the previous phase when one is parked under the same id, and dials a
// fresh one otherwise.
func (d *Driver) Start(ctx context.Context, sessionID string) error {
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	d.sessionID = sessionID
	d.log = d.log.With(zap.String("session", sessionID))

	sess, ok, err := d.deps.Store.Read(ctx, sessionID)
	if err != nil {
		d.log.Warn("reading reconnection session failed, treating as absent", zap.Error(err))
		ok = false
	}
	if !ok {
		d.closed = true
		if d.deps.Coordinator.Discard(sessionID) {
			d.log.Info("closed parked connection, no session to adopt it")
		}
		return ErrNoSession
	}
	d.session = sess

	if conn, ok := d.deps.Coordinator.ConsumeHandoff(sessionID); ok {
		d.adopt(conn)
		return nil
	}

	opts := append([]transport.Option{transport.WithLogger(d.log)}, d.cfg.Transport...)
	conn := transport.New(d.deps.Reactor, d.deps.Dialer, opts...)
	d.conn = conn
	conn.SetHeartbeat(d.dialect.New(wire.KindPing))
	conn.Bind(d.connHandlers())
	d.deps.Coordinator.SetActive(conn)
	conn.EnableReconnect(sess.Address, d.sendIdentity)
	conn.Connect(sess.Address)
	return nil
}

func (d *Driver) adopt(conn *transport.Connection) {
	d.log.Info("adopting handed-off connection", zap.String("address", conn.Address()))
	d.conn = conn
	conn.SetHeartbeat(d.dialect.New(wire.KindPing))
	conn.Bind(d.connHandlers())
	if conn.ReconnectEnabled() {
		conn.SetResend(d.sendIdentity)
	} else {
		conn.EnableReconnect(d.session.Address, d.sendIdentity)
	}

	reopened := d.deps.Coordinator.Reopened()

	// Replay through the live path, after the handlers are bound.
	for _, m := range d.deps.Coordinator.DrainBufferedMessages() {
		if d.closed {
			return
		}
		d.handleMessage(m)
	}
	if d.closed {
		return
	}
	if d.handlers.OnStatus != nil {
		d.handlers.OnStatus(conn.Status())
	}
	// A channel that reopened while parked was never identified.
	if reopened && conn.Status() == transport.StatusConnected {
		d.sendIdentity()
	}
}

func (d *Driver) connHandlers() transport.Handlers {
	return transport.Handlers{
		OnMessage: d.handleMessage,
		OnStatus:  d.handleStatus,
	}
}

// Send forwards an application message on the owned connection.
func (d *Driver) Send(msg wire.Message) bool {
	if d.closed || d.handedOff || d.conn == nil {
		return false
	}
	return d.conn.Send(msg)
}

// Message builds an outbound message in this phase's dialect.
func (d *Driver) Message(k wire.Kind, kv ...any) wire.Message {
	return d.dialect.New(k, kv...)
}

func (d *Driver) sendIdentity() {
	if d.closed || d.handedOff {
		return
	}
	switch d.state {
	case StateJoining:
		d.log.Debug("sending join")
		d.conn.Send(d.dialect.New(wire.KindJoin, "token", d.session.Ticket))
	case StatePlaying:
		d.sendResume()
	}
}

func (d *Driver) sendResume() {
	d.log.Debug("sending resume", zap.Int("retries", d.retries))
	d.conn.Send(d.dialect.New(wire.KindResume, "ticket", d.session.Ticket, "game", d.sessionID))
}

func (d *Driver) handleStatus(s transport.Status) {
	if d.closed || d.handedOff {
		return
	}
	if d.handlers.OnStatus != nil {
		d.handlers.OnStatus(s)
	}
}

func (d *Driver) handleMessage(m wire.Message) {
	if d.closed || d.handedOff {
		return
	}
	kind := m.Kind()

	if d.state == StateJoining && confirmsJoin(m, kind) {
		d.state = StatePlaying
		d.log.Info("join confirmed", zap.Stringer("by", kind))
	}

	switch kind {
	case wire.KindError:
		d.handleError(m)
	case wire.KindJoined, wire.KindResumed:
		if kind == wire.KindResumed {
			d.retryTimer.Stop()
			d.retryTimer = nil
			d.retries = 0
		}
		d.rotateTicket(m.Str("ticket"))
	case wire.KindTicket:
		d.rotateTicket(m.Str("ticket"))
	case wire.KindRoundComplete:
		d.scheduleAck(m)
	case wire.KindDecodeError:
		d.log.Warn("server frame could not be decoded", zap.String("error", m.Str("error")))
	case wire.KindUnknown:
		d.log.Debug("unknown message", zap.Any("type", m[wire.TypeField]))
	default:
	}

	if d.closed {
		return
	}
	if d.handlers.OnMessage != nil {
		d.handlers.OnMessage(m)
	}
}

// confirmsJoin reports whether m counts as the first substantive reply.
// Transport noise does not.
func confirmsJoin(m wire.Message, kind wire.Kind) bool {
	switch kind {
	case wire.KindPong, wire.KindDecodeError:
		return false
	case wire.KindError:
		return !IsJoinScoped(m.Code())
	default:
		return true
	}
}

func (d *Driver) handleError(m wire.Message) {
	code := m.Code()
	outcome := Classify(code, d.state)
	d.log.Info("server error", zap.String("code", code), zap.Stringer("outcome", outcome), zap.Stringer("state", d.state))

	switch outcome {
	case OutcomeResumeInPlace:
		d.state = StatePlaying
		d.sendResume()
	case OutcomeRetry:
		d.retryResume(code)
	case OutcomePermanent:
		d.fail(code, nil)
	case OutcomeIgnore:
	}
}

func (d *Driver) retryResume(code string) {
	if d.retries >= d.cfg.MaxRetries {
		d.fail(code, ErrRetriesExhausted)
		return
	}
	d.retries++
	d.retryTimer.Stop()

	conn := d.conn
	d.retryTimer = d.deps.Reactor.After(d.cfg.RetryDelay, func() {
		d.retryTimer = nil
		if d.closed || d.handedOff || d.conn != conn {
			return
		}
		d.sendResume()
	})
	d.log.Info("resume retry scheduled", zap.Int("retry", d.retries), zap.Duration("delay", d.cfg.RetryDelay))
}

func (d *Driver) rotateTicket(ticket string) {
	if ticket == "" || ticket == d.session.Ticket {
		return
	}
	d.session.Ticket = ticket
	ctx, cancel := d.storeContext()
	defer cancel()
	if err := d.deps.Store.Write(ctx, d.session); err != nil {
		d.log.Warn("persisting rotated ticket failed", zap.Error(err))
		return
	}
	d.log.Debug("ticket rotated")
}

// scheduleAck acknowledges a completed round after AckDelay, on the channel
// that delivered it.
func (d *Driver) scheduleAck(m wire.Message) {
	round, _ := m.Int("round")
	handle := d.conn.Handle()
	ack := d.dialect.New(wire.KindRoundAck, "round", round)

	var t *reactor.Timer
	t = d.deps.Reactor.After(d.cfg.AckDelay, func() {
		delete(d.acks, t)
		if !handle.Send(ack) {
			d.log.Info("round ack dropped, channel gone", zap.Int64("round", round))
		}
	})
	d.acks[t] = struct{}{}
}

// HandOff parks the connection with the coordinator for the next phase.
func (d *Driver) HandOff() bool {
	if d.closed || d.handedOff || d.conn == nil {
		return false
	}
	d.deps.Coordinator.SetActive(d.conn)
	if !d.deps.Coordinator.BeginHandoff(d.sessionID) {
		return false
	}
	d.handedOff = true
	d.stopTimers()
	d.log.Info("connection handed off")
	return true
}

// Leave is a voluntary exit: tell the server, close, forget the session.
func (d *Driver) Leave(ctx context.Context) {
	if d.closed || d.handedOff {
		return
	}
	if d.conn != nil {
		d.conn.Send(d.dialect.New(wire.KindLeave))
	}
	d.teardown()
	if err := d.deps.Store.Clear(ctx, d.sessionID); err != nil {
		d.log.Warn("clearing session on leave failed", zap.Error(err))
	}
	d.log.Info("left session")
}

// Close tears the phase down. A connection that was handed onward is left
// open for its new owner.
func (d *Driver) Close() {
	if d.closed {
		return
	}
	if d.handedOff || d.deps.Coordinator.IsHandoffPending(d.sessionID) {
		d.stopTimers()
		d.closed = true
		d.log.Debug("closing phase, connection stays with its successor")
		return
	}
	d.teardown()
}

// fail is the single terminal path for permanent protocol errors.
func (d *Driver) fail(code string, cause error) {
	if d.closed {
		return
	}
	d.log.Warn("session failed permanently", zap.String("code", code), zap.Error(cause))
	d.teardown()

	ctx, cancel := d.storeContext()
	defer cancel()
	if err := d.deps.Store.Clear(ctx, d.sessionID); err != nil {
		d.log.Warn("clearing session failed", zap.Error(err))
	}

	if d.handlers.OnExit != nil {
		d.handlers.OnExit(Exit{SessionID: d.sessionID, Phase: d.phase, Code: code, Err: cause})
	}
}

func (d *Driver) teardown() {
	d.closed = true
	d.stopTimers()
	if d.conn == nil {
		return
	}
	conn := d.conn
	conn.DisableReconnect()
	conn.Bind(transport.Handlers{})
	conn.Disconnect()
	d.deps.Coordinator.ReleaseActive(conn)
}

func (d *Driver) stopTimers() {
	d.retryTimer.Stop()
	d.retryTimer = nil
	for t := range d.acks {
		t.Stop()
	}
	clear(d.acks)
}

func (d *Driver) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.deps.Reactor.Context(), d.cfg.StoreTimeout)
}
