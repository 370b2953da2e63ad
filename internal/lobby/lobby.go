// Package lobby runs one game on the dev server: seats and their tickets,
// who is connected, the started flag and round completion with acks.
package lobby

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/session"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

var (
	ErrStarted    = errors.New("lobby: game already started")
	ErrNotStarted = errors.New("lobby: game not started")
	ErrFull       = errors.New("lobby: no free seats")
)

// Error codes only the dev server sends. The reconnect_* and join_already_started
// codes are shared with the client.
const (
	CodeJoinInvalidToken = "join_invalid_token"
	CodeJoinSeatTaken    = "join_seat_taken"
)

type Msg interface{ isLobbyMsg() }

// Attach registers a socket. Out is closed by the lobby when it drops the
// socket or shuts down.
type Attach struct {
	ConnID string
	Out    chan wire.Message
}

// Detach unregisters a socket; its seat stays reserved for a resume.
type Detach struct{ ConnID string }

type Join struct {
	ConnID string
	Token  string
}

type Resume struct {
	ConnID string
	Ticket string
	Game   string
}

// Leave gives the seat up for good.
type Leave struct{ ConnID string }

type Ack struct {
	ConnID string
	Round  int64
}

type AddSeat struct {
	Reply chan SeatResult
}

type Start struct {
	Reply chan error
}

type CompleteRound struct {
	Reply chan RoundResult
}

// Kick drops whatever socket holds the seat without releasing it.
type Kick struct {
	Seat  int
	Reply chan bool
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Attach) isLobbyMsg()        {}
func (Detach) isLobbyMsg()        {}
func (Join) isLobbyMsg()          {}
func (Resume) isLobbyMsg()        {}
func (Leave) isLobbyMsg()         {}
func (Ack) isLobbyMsg()           {}
func (AddSeat) isLobbyMsg()       {}
func (Start) isLobbyMsg()         {}
func (CompleteRound) isLobbyMsg() {}
func (Kick) isLobbyMsg()          {}
func (GetState) isLobbyMsg()      {}
func (Shutdown) isLobbyMsg()      {}

type SeatResult struct {
	Seat   int
	Ticket string
	Err    error
}

type RoundResult struct {
	Round int
	Err   error
}

type View struct {
	Code      string
	Started   bool
	Round     int
	Seats     int
	Connected int
	Acks      map[int]int
}

type seat struct {
	index  int
	ticket string
	joined bool
	conn   string
}

type Config struct {
	MaxSeats int
	// RotateTickets issues a fresh ticket on every successful resume.
	RotateTickets bool
}

func DefaultConfig() Config {
	return Config{MaxSeats: 10, RotateTickets: true}
}

type Lobby struct {
	code    string
	cfg     Config
	inbox   chan Msg
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	round   int

	seats   map[string]*seat // by ticket
	retired map[string]bool  // tickets of seats given up by Leave
	conns   map[string]chan wire.Message
	seatOf  map[string]*seat // by conn id
	acks    map[int]map[int]bool
	nextIdx int
}

func NewLobby(parent context.Context, code string, cfg Config, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = DefaultConfig().MaxSeats
	}

	l := &Lobby{
		code:    code,
		cfg:     cfg,
		inbox:   make(chan Msg, 64),
		log:     log.With(zap.String("game", code)),
		ctx:     ctx,
		cancel:  cancel,
		seats:   make(map[string]*seat),
		retired: make(map[string]bool),
		conns:   make(map[string]chan wire.Message),
		seatOf:  make(map[string]*seat),
		acks:    make(map[int]map[int]bool),
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby has shut down.
func (l *Lobby) Send(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Attach:
				l.conns[msg.ConnID] = msg.Out

			case Detach:
				l.detach(msg.ConnID)

			case Join:
				l.join(msg)

			case Resume:
				l.resume(msg)

			case Leave:
				if st := l.seatOf[msg.ConnID]; st != nil {
					delete(l.seats, st.ticket)
					delete(l.seatOf, msg.ConnID)
					l.retired[st.ticket] = true
					l.log.Info("seat released", zap.Int("seat", st.index))
				}

			case Ack:
				if st := l.seatOf[msg.ConnID]; st != nil {
					l.ack(st, int(msg.Round))
				}

			case AddSeat:
				msg.Reply <- l.addSeat()

			case Start:
				msg.Reply <- l.start()

			case CompleteRound:
				msg.Reply <- l.completeRound()

			case Kick:
				msg.Reply <- l.kick(msg.Seat)

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) addSeat() SeatResult {
	if l.started {
		return SeatResult{Err: ErrStarted}
	}
	if len(l.seats) >= l.cfg.MaxSeats {
		return SeatResult{Err: ErrFull}
	}
	st := &seat{index: l.nextIdx, ticket: uuid.NewString()}
	l.nextIdx++
	l.seats[st.ticket] = st
	l.log.Info("seat added", zap.Int("seat", st.index))
	return SeatResult{Seat: st.index, Ticket: st.ticket}
}

func (l *Lobby) join(msg Join) {
	st := l.seats[msg.Token]
	switch {
	case l.started:
		l.replyError(msg.ConnID, session.CodeJoinAlreadyStarted)
		return
	case st == nil:
		l.replyError(msg.ConnID, CodeJoinInvalidToken)
		return
	case st.conn != "" && st.conn != msg.ConnID:
		l.replyError(msg.ConnID, CodeJoinSeatTaken)
		return
	}

	st.joined = true
	l.bind(st, msg.ConnID)
	l.log.Info("seat joined", zap.Int("seat", st.index), zap.String("conn", msg.ConnID))
	l.send(msg.ConnID, wire.Named.New(wire.KindJoined, "game", l.code, "seat", st.index))
	l.send(msg.ConnID, l.stateMessage())
}

func (l *Lobby) resume(msg Resume) {
	if msg.Game != l.code {
		l.replyError(msg.ConnID, session.CodeReconnectGameMismatch)
		return
	}
	st := l.seats[msg.Ticket]
	switch {
	case st == nil && l.retired[msg.Ticket]:
		l.replyError(msg.ConnID, session.CodeReconnectNoSession)
		return
	case st == nil:
		l.replyError(msg.ConnID, session.CodeInvalidTicket)
		return
	case !st.joined:
		l.replyError(msg.ConnID, session.CodeReconnectSeatUnavailable)
		return
	case st.conn != "" && st.conn != msg.ConnID:
		// the old socket has not been reaped yet
		l.replyError(msg.ConnID, session.CodeReconnectRetryLater)
		return
	}

	l.bind(st, msg.ConnID)
	resumed := wire.Named.New(wire.KindResumed, "game", l.code, "seat", st.index, "round", l.round)
	if l.cfg.RotateTickets {
		delete(l.seats, st.ticket)
		st.ticket = uuid.NewString()
		l.seats[st.ticket] = st
		resumed["ticket"] = st.ticket
	}
	l.log.Info("seat resumed", zap.Int("seat", st.index), zap.String("conn", msg.ConnID))
	l.send(msg.ConnID, resumed)
	l.send(msg.ConnID, l.stateMessage())
}

func (l *Lobby) bind(st *seat, connID string) {
	if prev := l.seatOf[connID]; prev != nil && prev != st {
		prev.conn = ""
	}
	st.conn = connID
	l.seatOf[connID] = st
}

func (l *Lobby) detach(connID string) {
	delete(l.conns, connID)
	if st := l.seatOf[connID]; st != nil {
		if st.conn == connID {
			st.conn = ""
		}
		delete(l.seatOf, connID)
	}
}

func (l *Lobby) kick(index int) bool {
	for connID, st := range l.seatOf {
		if st.index != index {
			continue
		}
		if out, ok := l.conns[connID]; ok {
			close(out)
		}
		l.detach(connID)
		l.log.Info("seat kicked", zap.Int("seat", index), zap.String("conn", connID))
		return true
	}
	return false
}

func (l *Lobby) start() error {
	if l.started {
		return ErrStarted
	}
	l.started = true
	l.log.Info("game starting", zap.Int("seats", len(l.seats)))
	l.broadcast(wire.Named.New(wire.KindGameStarting, "game", l.code))
	return nil
}

func (l *Lobby) completeRound() RoundResult {
	if !l.started {
		return RoundResult{Err: ErrNotStarted}
	}
	l.round++
	l.acks[l.round] = make(map[int]bool)
	l.broadcast(wire.Named.New(wire.KindRoundComplete, "round", l.round))
	return RoundResult{Round: l.round}
}

func (l *Lobby) ack(st *seat, round int) {
	got, ok := l.acks[round]
	if !ok {
		l.log.Debug("ack for unknown round", zap.Int("round", round), zap.Int("seat", st.index))
		return
	}
	got[st.index] = true
}

func (l *Lobby) stateMessage() wire.Message {
	return wire.Named.New(wire.KindState, "round", l.round, "started", l.started, "seats", len(l.seats))
}

func (l *Lobby) replyError(connID, code string) {
	l.log.Info("rejecting", zap.String("conn", connID), zap.String("code", code))
	l.send(connID, wire.Named.New(wire.KindError, "code", code))
}

func (l *Lobby) send(connID string, m wire.Message) {
	out, ok := l.conns[connID]
	if !ok {
		return
	}
	select {
	case out <- m:
	default:
		l.drop(connID, out)
	}
}

// broadcast reaches every seated socket. Slow sockets are dropped.
func (l *Lobby) broadcast(m wire.Message) {
	for connID := range l.seatOf {
		l.send(connID, m)
	}
}

func (l *Lobby) drop(connID string, out chan wire.Message) {
	l.log.Warn("socket too slow, dropping", zap.String("conn", connID))
	close(out)
	l.detach(connID)
}

func (l *Lobby) view() View {
	acks := make(map[int]int, len(l.acks))
	for round, seats := range l.acks {
		acks[round] = len(seats)
	}
	return View{
		Code:      l.code,
		Started:   l.started,
		Round:     l.round,
		Seats:     len(l.seats),
		Connected: len(l.seatOf),
		Acks:      acks,
	}
}

func (l *Lobby) shutdown() {
	for id, out := range l.conns {
		close(out)
		delete(l.conns, id)
	}
	clear(l.seatOf)
	l.cancel()
}
