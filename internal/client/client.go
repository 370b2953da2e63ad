// Package client wires the reactor, the handoff coordinator and the session
// store into the entry points a game UI calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/handoff"
	"github.com/DoyleJ11/lol-draft-client/internal/reactor"
	"github.com/DoyleJ11/lol-draft-client/internal/session"
	"github.com/DoyleJ11/lol-draft-client/internal/store"
	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

var ErrClosed = errors.New("client: closed")

type Options struct {
	Session session.Config
	Clock   reactor.Clock
	Logger  *zap.Logger
}

// Client is safe for concurrent use. Handlers passed to EnterRoom and
// EnterGame run on the client's event loop and must not call back into the
// Client or a Phase synchronously.
type Client struct {
	r      *reactor.Reactor
	coord  *handoff.Coordinator
	store  store.Store
	dialer transport.Dialer
	cfg    session.Config
	log    *zap.Logger
	closed atomic.Bool
}

func New(ctx context.Context, st store.Store, dialer transport.Dialer, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = reactor.WallClock()
	}
	return &Client{
		r:      reactor.New(ctx, clock, log.Named("reactor")),
		coord:  handoff.New(log.Named("handoff")),
		store:  st,
		dialer: dialer,
		cfg:    opts.Session,
		log:    log,
	}
}

// Grant records the credentials for a seat so a later EnterRoom or
// EnterGame can join or resume it.
func (c *Client) Grant(ctx context.Context, s store.Session) error {
	if err := c.store.Write(ctx, s); err != nil {
		return fmt.Errorf("grant %s: %w", s.ID, err)
	}
	c.log.Info("seat granted", zap.String("session", s.ID), zap.String("address", s.Address))
	return nil
}

func (c *Client) EnterRoom(ctx context.Context, id string, h session.Handlers) (*Phase, error) {
	return c.enter(ctx, session.PhaseRoom, id, h)
}

// EnterGame adopts the connection handed off by the room when there is one.
func (c *Client) EnterGame(ctx context.Context, id string, h session.Handlers) (*Phase, error) {
	return c.enter(ctx, session.PhaseGame, id, h)
}

func (c *Client) enter(ctx context.Context, phase session.Phase, id string, h session.Handlers) (*Phase, error) {
	deps := session.Deps{
		Reactor:     c.r,
		Dialer:      c.dialer,
		Store:       c.store,
		Coordinator: c.coord,
		Logger:      c.log.Named("session"),
	}
	var (
		d        *session.Driver
		startErr error
	)
	err := c.r.Do(func() {
		d = session.New(deps, phase, c.cfg, h)
		startErr = d.Start(ctx, id)
	})
	if err != nil {
		return nil, ErrClosed
	}
	if startErr != nil {
		return nil, fmt.Errorf("enter %s %s: %w", phase, id, startErr)
	}
	return &Phase{r: c.r, d: d}, nil
}

// Close stops the event loop and the store. Open phases are abandoned
// without a leave. Only the first call does any work; later calls return
// ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var err error
	if doErr := c.r.Do(c.coord.Shutdown); doErr != nil {
		err = fmt.Errorf("shut down connections: %w", doErr)
	}
	c.r.Stop()
	if cerr := c.store.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close store: %w", cerr))
	}
	return err
}

// Phase is the application's handle on one running driver.
type Phase struct {
	r *reactor.Reactor
	d *session.Driver
}

func (p *Phase) do(fn func()) bool { return p.r.Do(fn) == nil }

func (p *Phase) Send(k wire.Kind, kv ...any) bool {
	var ok bool
	p.do(func() { ok = p.d.Send(p.d.Message(k, kv...)) })
	return ok
}

func (p *Phase) SendMessage(msg wire.Message) bool {
	var ok bool
	p.do(func() { ok = p.d.Send(msg) })
	return ok
}

func (p *Phase) State() session.State {
	var s session.State
	p.do(func() { s = p.d.State() })
	return s
}

func (p *Phase) Status() transport.Status {
	s := transport.StatusDisconnected
	p.do(func() {
		if conn := p.d.Connection(); conn != nil {
			s = conn.Status()
		}
	})
	return s
}

func (p *Phase) HandOff() bool {
	var ok bool
	p.do(func() { ok = p.d.HandOff() })
	return ok
}

func (p *Phase) Leave(ctx context.Context) {
	p.do(func() { p.d.Leave(ctx) })
}

func (p *Phase) Close() {
	p.do(p.d.Close)
}
