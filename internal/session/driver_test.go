package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lol-draft-client/internal/handoff"
	"github.com/DoyleJ11/lol-draft-client/internal/reactor"
	"github.com/DoyleJ11/lol-draft-client/internal/reactor/reactortest"
	"github.com/DoyleJ11/lol-draft-client/internal/session"
	"github.com/DoyleJ11/lol-draft-client/internal/store"
	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/transport/transporttest"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

const (
	gameID  = "ABC123"
	address = "ws://game.test/ws?code=ABC123"
	ticket  = "T1"
)

type fixture struct {
	t      *testing.T
	clk    *reactortest.Clock
	r      *reactor.Reactor
	dialer *transporttest.Dialer
	store  *store.Memory
	coord  *handoff.Coordinator
	cfg    session.Config
}

type recorder struct {
	t        *testing.T
	msgs     chan wire.Message
	statuses chan transport.Status
	exits    chan session.Exit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := reactortest.NewClock()
	r := reactor.New(context.Background(), clk, nil)
	t.Cleanup(r.Stop)

	f := &fixture{
		t:      t,
		clk:    clk,
		r:      r,
		dialer: transporttest.NewDialer(),
		store:  store.NewMemory(),
		coord:  handoff.New(nil),
		cfg:    session.DefaultConfig(),
	}
	require.NoError(t, f.store.Write(context.Background(), store.Session{ID: gameID, Address: address, Ticket: ticket}))
	return f
}

func (f *fixture) do(fn func()) {
	f.t.Helper()
	require.NoError(f.t, f.r.Do(fn))
}

// barrier waits until everything already queued on the loop has run.
func (f *fixture) barrier() { f.do(func() {}) }

func (f *fixture) newDriver(phase session.Phase) (*session.Driver, *recorder) {
	f.t.Helper()
	rec := &recorder{
		t:        f.t,
		msgs:     make(chan wire.Message, 64),
		statuses: make(chan transport.Status, 64),
		exits:    make(chan session.Exit, 4),
	}
	deps := session.Deps{Reactor: f.r, Dialer: f.dialer, Store: f.store, Coordinator: f.coord}
	var d *session.Driver
	f.do(func() {
		d = session.New(deps, phase, f.cfg, session.Handlers{
			OnMessage: func(m wire.Message) { rec.msgs <- m },
			OnStatus:  func(s transport.Status) { rec.statuses <- s },
			OnExit:    func(e session.Exit) { rec.exits <- e },
		})
	})
	return d, rec
}

func (f *fixture) start(d *session.Driver) {
	f.t.Helper()
	var err error
	f.do(func() { err = d.Start(context.Background(), gameID) })
	require.NoError(f.t, err)
}

// joined starts a room driver and completes the join handshake.
func (f *fixture) joined() (*session.Driver, *recorder, *transporttest.Channel) {
	f.t.Helper()
	d, rec := f.newDriver(session.PhaseRoom)
	f.start(d)
	ch := f.dialer.Next(f.t)
	join := ch.NextWritten(f.t)
	require.Equal(f.t, wire.KindJoin, join.Kind())

	ch.Deliver(f.t, wire.Named.New(wire.KindJoined, "game", gameID))
	rec.recv(wire.KindJoined)
	require.Equal(f.t, session.StatePlaying, f.state(d))
	return d, rec, ch
}

func (f *fixture) state(d *session.Driver) session.State {
	var s session.State
	f.do(func() { s = d.State() })
	return s
}

func (f *fixture) retries(d *session.Driver) int {
	var n int
	f.do(func() { n = d.Retries() })
	return n
}

func (rec *recorder) recv(want wire.Kind) wire.Message {
	rec.t.Helper()
	select {
	case m := <-rec.msgs:
		require.Equal(rec.t, want, m.Kind(), "message %v", m)
		return m
	case <-time.After(time.Second):
		rec.t.Fatalf("timed out waiting for %s", want)
		return nil
	}
}

func (rec *recorder) noMessage(within time.Duration) {
	rec.t.Helper()
	select {
	case m := <-rec.msgs:
		rec.t.Fatalf("expected no message, got %v", m)
	case <-time.After(within):
	}
}

func (rec *recorder) waitStatus(want ...transport.Status) {
	rec.t.Helper()
	for _, w := range want {
		select {
		case got := <-rec.statuses:
			require.Equal(rec.t, w, got)
		case <-time.After(time.Second):
			rec.t.Fatalf("timed out waiting for status %s", w)
		}
	}
}

func (rec *recorder) exit() session.Exit {
	rec.t.Helper()
	select {
	case e := <-rec.exits:
		return e
	case <-time.After(time.Second):
		rec.t.Fatalf("timed out waiting for exit")
		return session.Exit{}
	}
}

func (rec *recorder) noExit() {
	rec.t.Helper()
	select {
	case e := <-rec.exits:
		rec.t.Fatalf("unexpected exit %v", e)
	default:
	}
}

func errorMsg(code string) wire.Message {
	return wire.Named.New(wire.KindError, "code", code)
}

func TestDriver_JoinsOnFirstOpen(t *testing.T) {
	f := newFixture(t)
	d, rec := f.newDriver(session.PhaseRoom)
	f.start(d)

	ch := f.dialer.Next(t)
	assert.Equal(t, address, ch.Address)
	rec.waitStatus(transport.StatusConnecting, transport.StatusConnected)

	join := ch.NextWritten(t)
	assert.Equal(t, wire.KindJoin, join.Kind())
	assert.Equal(t, ticket, join.Str("token"))
	assert.Equal(t, session.StateJoining, f.state(d))
}

func TestDriver_NoiseDoesNotConfirmJoin(t *testing.T) {
	f := newFixture(t)
	d, rec := f.newDriver(session.PhaseRoom)
	f.start(d)
	ch := f.dialer.Next(t)
	ch.NextWritten(t)

	ch.Deliver(t, wire.Named.New(wire.KindPong))
	rec.recv(wire.KindPong)
	ch.DeliverRaw([]byte{0xc1})
	rec.recv(wire.KindDecodeError)
	assert.Equal(t, session.StateJoining, f.state(d))

	ch.Deliver(t, wire.Named.New(wire.KindState, "round", 1))
	rec.recv(wire.KindState)
	assert.Equal(t, session.StatePlaying, f.state(d))
}

func TestDriver_ResumesAfterReconnect(t *testing.T) {
	f := newFixture(t)
	_, rec, ch := f.joined()
	rec.waitStatus(transport.StatusConnecting, transport.StatusConnected)

	ch.Drop(nil)
	rec.waitStatus(transport.StatusError, transport.StatusDisconnected)
	f.barrier()

	f.clk.Advance(time.Second)
	ch2 := f.dialer.Next(t)
	rec.waitStatus(transport.StatusConnecting, transport.StatusConnected)

	resume := ch2.NextWritten(t)
	assert.Equal(t, wire.KindResume, resume.Kind())
	assert.Equal(t, ticket, resume.Str("ticket"))
	assert.Equal(t, gameID, resume.Str("game"))
}

func TestDriver_JoinAlreadyStartedResumesInPlace(t *testing.T) {
	f := newFixture(t)
	d, rec := f.newDriver(session.PhaseRoom)
	f.start(d)
	ch := f.dialer.Next(t)
	ch.NextWritten(t)

	ch.Deliver(t, errorMsg(session.CodeJoinAlreadyStarted))
	rec.recv(wire.KindError)

	resume := ch.NextWritten(t)
	assert.Equal(t, wire.KindResume, resume.Kind())
	assert.Equal(t, session.StatePlaying, f.state(d))
	assert.Len(t, f.dialer.Dials(), 1, "resume goes out on the same channel")
	rec.noExit()
}

func TestDriver_OtherJoinErrorsArePermanent(t *testing.T) {
	f := newFixture(t)
	d, rec := f.newDriver(session.PhaseRoom)
	f.start(d)
	ch := f.dialer.Next(t)
	ch.NextWritten(t)

	ch.Deliver(t, errorMsg("join_game_full"))
	e := rec.exit()
	assert.Equal(t, "join_game_full", e.Code)
	assert.Equal(t, gameID, e.SessionID)

	ch.WaitClosed(t)
	assert.False(t, f.store.Has(gameID))
	assert.Empty(t, f.clk.Pending())
}

func TestDriver_JoinErrorsIgnoredWhilePlaying(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	ch.Deliver(t, errorMsg("join_game_full"))
	rec.recv(wire.KindError)
	ch.NoWrite(t, 50*time.Millisecond)

	assert.Equal(t, session.StatePlaying, f.state(d))
	assert.True(t, f.store.Has(gameID))
	assert.False(t, ch.IsClosed())
	rec.noExit()
}

func TestDriver_RetryLaterSchedulesOneResumeEach(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	for i := 1; i <= 5; i++ {
		ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
		rec.recv(wire.KindError)
		require.Equal(t, 1, f.clk.PendingCount(time.Second), "retry %d", i)

		ch.NoWrite(t, 20*time.Millisecond)
		f.clk.Advance(time.Second)
		resume := ch.NextWritten(t)
		require.Equal(t, wire.KindResume, resume.Kind())
	}

	assert.Equal(t, 5, f.retries(d))
	assert.True(t, f.store.Has(gameID))
	assert.False(t, ch.IsClosed())
	rec.noExit()
}

func TestDriver_RetryLaterReplacesPendingRetry(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
	rec.recv(wire.KindError)
	ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
	rec.recv(wire.KindError)

	assert.Equal(t, 1, f.clk.PendingCount(time.Second))
	assert.Equal(t, 2, f.retries(d))

	f.clk.Advance(time.Second)
	ch.NextWritten(t)
	ch.NoWrite(t, 50*time.Millisecond)
}

func TestDriver_RetriesExhaustedIsPermanent(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxRetries = 2
	_, rec, ch := f.joined()

	for i := 0; i < 2; i++ {
		ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
		rec.recv(wire.KindError)
	}
	ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))

	e := rec.exit()
	assert.Equal(t, session.CodeReconnectRetryLater, e.Code)
	assert.ErrorIs(t, e.Err, session.ErrRetriesExhausted)
	ch.WaitClosed(t)
	assert.False(t, f.store.Has(gameID))
	assert.Empty(t, f.clk.Pending())
}

func TestDriver_ResumedResetsRetries(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
	rec.recv(wire.KindError)
	ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
	rec.recv(wire.KindError)
	require.Equal(t, 2, f.retries(d))

	ch.Deliver(t, wire.Named.New(wire.KindResumed, "game", gameID))
	rec.recv(wire.KindResumed)
	assert.Equal(t, 0, f.retries(d))
	assert.Zero(t, f.clk.PendingCount(time.Second))
}

func TestDriver_PermanentResumeErrors(t *testing.T) {
	codes := []string{
		session.CodeReconnectNoSession,
		session.CodeReconnectSeatUnavailable,
		session.CodeReconnectGameNotFound,
		session.CodeReconnectGameMismatch,
		session.CodeReconnectAlreadyActive,
		session.CodeReconnectSnapshotFailed,
		session.CodeInvalidTicket,
	}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			f := newFixture(t)
			d, rec, ch := f.joined()

			// a retry in flight must not survive the teardown
			ch.Deliver(t, errorMsg(session.CodeReconnectRetryLater))
			rec.recv(wire.KindError)

			ch.Deliver(t, errorMsg(code))
			e := rec.exit()
			assert.Equal(t, code, e.Code)
			assert.NoError(t, e.Err)

			ch.WaitClosed(t)
			assert.False(t, f.store.Has(gameID))
			assert.Empty(t, f.clk.Pending())

			var conn, active *transport.Connection
			f.do(func() { conn, active = d.Connection(), f.coord.Active() })
			assert.Nil(t, conn)
			assert.Nil(t, active)

			f.clk.Advance(time.Minute)
			f.barrier()
			assert.Len(t, f.dialer.Dials(), 1, "no reconnect after a permanent failure")
			rec.noMessage(20 * time.Millisecond)
		})
	}
}

func TestDriver_UnknownErrorCodeIsSurfaced(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	ch.Deliver(t, errorMsg("rate_limited"))
	m := rec.recv(wire.KindError)
	assert.Equal(t, "rate_limited", m.Code())
	assert.Equal(t, session.StatePlaying, f.state(d))
	rec.noExit()
}

func TestDriver_AcksRoundAfterDelay(t *testing.T) {
	f := newFixture(t)
	_, rec, ch := f.joined()

	ch.Deliver(t, wire.Named.New(wire.KindRoundComplete, "round", 3))
	rec.recv(wire.KindRoundComplete)

	f.clk.Advance(1499 * time.Millisecond)
	ch.NoWrite(t, 50*time.Millisecond)

	f.clk.Advance(time.Millisecond)
	ack := ch.NextWritten(t)
	assert.Equal(t, wire.KindRoundAck, ack.Kind())
	round, ok := ack.Int("round")
	require.True(t, ok)
	assert.EqualValues(t, 3, round)
}

func TestDriver_AckDroppedWhenChannelChanged(t *testing.T) {
	f := newFixture(t)
	_, rec, ch := f.joined()
	rec.waitStatus(transport.StatusConnecting, transport.StatusConnected)

	ch.Deliver(t, wire.Named.New(wire.KindRoundComplete, "round", 3))
	rec.recv(wire.KindRoundComplete)

	ch.Drop(nil)
	rec.waitStatus(transport.StatusError, transport.StatusDisconnected)
	f.barrier()

	f.clk.Advance(time.Second)
	ch2 := f.dialer.Next(t)
	require.Equal(t, wire.KindResume, ch2.NextWritten(t).Kind())

	f.clk.Advance(500 * time.Millisecond)
	f.barrier()
	ch2.NoWrite(t, 50*time.Millisecond)
}

func TestDriver_StartWithoutSession(t *testing.T) {
	tests := []struct {
		name string
		prep func(*store.Memory)
	}{
		{name: "absent", prep: func(m *store.Memory) { _ = m.Clear(context.Background(), gameID) }},
		{name: "malformed", prep: func(m *store.Memory) { m.PutRaw(gameID, []byte("{not json")) }},
		{name: "missing ticket", prep: func(m *store.Memory) {
			m.PutRaw(gameID, []byte(`{"id":"ABC123","address":"ws://game.test/ws"}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.prep(f.store)
			d, _ := f.newDriver(session.PhaseGame)

			var err error
			f.do(func() { err = d.Start(context.Background(), gameID) })
			assert.ErrorIs(t, err, session.ErrNoSession)
			assert.Empty(t, f.dialer.Dials())
		})
	}
}

func TestDriver_StartTwice(t *testing.T) {
	f := newFixture(t)
	d, _ := f.newDriver(session.PhaseRoom)
	f.start(d)

	var err error
	f.do(func() { err = d.Start(context.Background(), gameID) })
	assert.ErrorIs(t, err, session.ErrAlreadyStarted)
}

func TestDriver_RotatedTicketIsUsedOnResume(t *testing.T) {
	f := newFixture(t)
	_, rec, ch := f.joined()
	rec.waitStatus(transport.StatusConnecting, transport.StatusConnected)

	ch.Deliver(t, wire.Named.New(wire.KindTicket, "ticket", "T2"))
	rec.recv(wire.KindTicket)

	sess, ok, err := f.store.Read(context.Background(), gameID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "T2", sess.Ticket)

	ch.Drop(nil)
	rec.waitStatus(transport.StatusError, transport.StatusDisconnected)
	f.barrier()
	f.clk.Advance(time.Second)

	resume := f.dialer.Next(t).NextWritten(t)
	assert.Equal(t, "T2", resume.Str("ticket"))
}

func TestDriver_HandOffToGamePhase(t *testing.T) {
	f := newFixture(t)
	room, roomRec, ch := f.joined()

	var ok bool
	f.do(func() { ok = room.HandOff() })
	require.True(t, ok)

	// arrives while nobody owns the connection
	ch.Deliver(t, wire.Numeric.New(wire.KindRoundComplete, "round", 1))
	require.Eventually(t, func() bool {
		var n int
		f.do(func() { n = f.coord.Buffered() })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	f.do(room.Close)
	assert.False(t, ch.IsClosed())

	game, gameRec := f.newDriver(session.PhaseGame)
	f.start(game)
	gameRec.recv(wire.KindRoundComplete)
	assert.Len(t, f.dialer.Dials(), 1, "handoff must not redial")
	assert.Equal(t, session.StatePlaying, f.state(game))

	var pending bool
	f.do(func() { pending = f.coord.IsHandoffPending(gameID) })
	assert.False(t, pending)

	f.clk.Advance(1500 * time.Millisecond)
	ack := ch.NextWritten(t)
	assert.Equal(t, wire.KindRoundAck, ack.Kind())
	_, named := ack[wire.TypeField].(string)
	assert.False(t, named, "game phase writes numeric discriminators")

	roomRec.noMessage(20 * time.Millisecond)
}

func TestDriver_HandOffReidentifiesChannelReopenedWhileParked(t *testing.T) {
	f := newFixture(t)
	room, _, ch := f.joined()
	var ok bool
	f.do(func() { ok = room.HandOff() })
	require.True(t, ok)

	ch.Drop(nil)
	require.Eventually(t, func() bool {
		f.barrier()
		return f.clk.PendingCount(time.Second) == 1
	}, time.Second, 5*time.Millisecond, "reconnect scheduled while parked")
	f.clk.Advance(time.Second)
	ch2 := f.dialer.Next(t)
	require.Eventually(t, func() bool {
		var reopened bool
		f.do(func() { reopened = f.coord.Reopened() })
		return reopened
	}, time.Second, 5*time.Millisecond)
	ch2.NoWrite(t, 20*time.Millisecond)

	game, gameRec := f.newDriver(session.PhaseGame)
	f.start(game)
	join := ch2.NextWritten(t)
	assert.Equal(t, wire.KindJoin, join.Kind())
	assert.Equal(t, ticket, join.Str("token"))
	assert.Len(t, f.dialer.Dials(), 2)

	ch2.Deliver(t, errorMsg(session.CodeJoinAlreadyStarted))
	gameRec.recv(wire.KindError)
	resume := ch2.NextWritten(t)
	assert.Equal(t, wire.KindResume, resume.Kind())
	assert.Equal(t, session.StatePlaying, f.state(game))
}

func TestDriver_StartWithoutSessionClosesParkedConnection(t *testing.T) {
	f := newFixture(t)
	room, _, ch := f.joined()
	var ok bool
	f.do(func() { ok = room.HandOff() })
	require.True(t, ok)
	require.NoError(t, f.store.Clear(context.Background(), gameID))

	game, _ := f.newDriver(session.PhaseGame)
	var err error
	f.do(func() { err = game.Start(context.Background(), gameID) })
	assert.ErrorIs(t, err, session.ErrNoSession)

	ch.WaitClosed(t)
	var pending bool
	f.do(func() { pending = f.coord.IsHandoffPending(gameID) })
	assert.False(t, pending)
	assert.Len(t, f.dialer.Dials(), 1)
}

func TestDriver_HandOffKeyMismatchDialsFresh(t *testing.T) {
	f := newFixture(t)
	room, _, ch := f.joined()
	var ok bool
	f.do(func() { ok = room.HandOff() })
	require.True(t, ok)

	other := store.Session{ID: "ZZZ999", Address: "ws://game.test/ws?code=ZZZ999", Ticket: "T9"}
	require.NoError(t, f.store.Write(context.Background(), other))

	game, _ := f.newDriver(session.PhaseGame)
	var err error
	f.do(func() { err = game.Start(context.Background(), other.ID) })
	require.NoError(t, err)

	ch.WaitClosed(t)
	ch2 := f.dialer.Next(t)
	assert.Equal(t, other.Address, ch2.Address)
	join := ch2.NextWritten(t)
	assert.Equal(t, wire.KindJoin, join.Kind())
	assert.Equal(t, "T9", join.Str("token"))
}

func TestDriver_CloseKeepsSession(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	f.do(d.Close)
	ch.WaitClosed(t)
	assert.True(t, f.store.Has(gameID))
	assert.Empty(t, f.clk.Pending())

	var sent bool
	f.do(func() { sent = d.Send(wire.Named.New(wire.KindPing)) })
	assert.False(t, sent)
	rec.noExit()
}

func TestDriver_LeaveClearsSession(t *testing.T) {
	f := newFixture(t)
	d, rec, ch := f.joined()

	f.do(func() { d.Leave(context.Background()) })
	assert.Equal(t, wire.KindLeave, ch.NextWritten(t).Kind())
	ch.WaitClosed(t)
	assert.False(t, f.store.Has(gameID))
	rec.noExit()
}
