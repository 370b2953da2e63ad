// Package ws serves the dev server's binary WebSocket endpoint.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-draft-client/internal/hub"
	"github.com/DoyleJ11/lol-draft-client/internal/lobby"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 30 * time.Second
	outboxSize   = 32

	CodeBadFrame    = "bad_frame"
	CodeUnknownType = "unknown_type"
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		lb := h.Lookup(r.Context(), code)
		if lb == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// dev only
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}

		s := &socket{
			id:     uuid.NewString(),
			conn:   conn,
			lb:     lb,
			out:    make(chan wire.Message, outboxSize),
			direct: make(chan wire.Message, outboxSize),
			log:    log.With(zap.String("game", code)),
		}
		s.serve(r.Context())
	}
}

type socket struct {
	id     string
	conn   *websocket.Conn
	lb     *lobby.Lobby
	out    chan wire.Message // owned by the lobby
	direct chan wire.Message // replies the handler makes itself
	log    *zap.Logger
	// dialect of the last inbound frame; outbound frames follow it
	dialect atomic.Uint32
}

func (s *socket) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !s.lb.Send(lobby.Attach{ConnID: s.id, Out: s.out}) {
		_ = s.conn.Close(websocket.StatusGoingAway, "game over")
		return
	}
	defer s.lb.Send(lobby.Detach{ConnID: s.id})
	s.log.Debug("socket attached", zap.String("conn", s.id))

	go s.write(ctx, cancel)

	for {
		rctx, rcancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := s.conn.Read(rctx)
		rcancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.log.Debug("socket closed", zap.String("conn", s.id))
			default:
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("socket read failed", zap.String("conn", s.id), zap.Error(err))
				}
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			s.reply(wire.Named.New(wire.KindError, "code", CodeBadFrame, "message", err.Error()))
			continue
		}
		s.dialect.Store(uint32(wire.DialectOf(msg)))
		s.dispatch(msg)
	}
}

func (s *socket) dispatch(msg wire.Message) {
	switch msg.Kind() {
	case wire.KindPing:
		s.reply(wire.Named.New(wire.KindPong))
	case wire.KindJoin:
		s.lb.Send(lobby.Join{ConnID: s.id, Token: msg.Str("token")})
	case wire.KindResume:
		s.lb.Send(lobby.Resume{ConnID: s.id, Ticket: msg.Str("ticket"), Game: msg.Str("game")})
	case wire.KindLeave:
		s.lb.Send(lobby.Leave{ConnID: s.id})
	case wire.KindRoundAck:
		round, _ := msg.Int("round")
		s.lb.Send(lobby.Ack{ConnID: s.id, Round: round})
	default:
		s.reply(wire.Named.New(wire.KindError, "code", CodeUnknownType))
	}
}

func (s *socket) reply(m wire.Message) {
	select {
	case s.direct <- m:
	default:
		s.log.Warn("reply dropped, socket backed up", zap.String("conn", s.id))
	}
}

// write owns every frame going out. It ends the socket when the lobby
// closes the outbox, so a kicked client sees an abnormal close.
func (s *socket) write(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		var m wire.Message
		select {
		case <-ctx.Done():
			_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case m = <-s.direct:
		case msg, ok := <-s.out:
			if !ok {
				_ = s.conn.Close(websocket.StatusTryAgainLater, "dropped")
				return
			}
			m = msg
		}

		dialect := wire.Dialect(s.dialect.Load())
		data, err := wire.Encode(dialect.Rewrite(m))
		if err != nil {
			s.log.Warn("encode failed", zap.Error(err))
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		err = s.conn.Write(wctx, websocket.MessageBinary, data)
		wcancel()
		if err != nil {
			return
		}
	}
}
