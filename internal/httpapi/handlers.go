package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lol-draft-client/internal/hub"
	"github.com/DoyleJ11/lol-draft-client/internal/lobby"
)

const (
	codeLength   = 6
	codeAttempts = 16
	replyTimeout = 2 * time.Second
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type GameResponse struct {
	Code string `json:"code"`
}

type SeatResponse struct {
	Code   string `json:"code"`
	Seat   int    `json:"seat"`
	Ticket string `json:"ticket"`
}

type RoundResponse struct {
	Round int `json:"round"`
}

type StateResponse struct {
	Code      string      `json:"code"`
	Started   bool        `json:"started"`
	Round     int         `json:"round"`
	Seats     int         `json:"seats"`
	Connected int         `json:"connected"`
	Acks      map[int]int `json:"acks"`
}

func CreateGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < codeAttempts; i++ {
			code, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *lobby.Lobby, 1)
			h.Inbox() <- hub.CreateLobby{Code: code, Reply: reply}
			if <-reply == nil {
				// collision on code, regenerate
				continue
			}
			writeJSON(w, http.StatusCreated, GameResponse{Code: code})
			return
		}
		http.Error(w, "failed to create game", http.StatusInternalServerError)
	}
}

func AddSeat(h *hub.Hub) http.HandlerFunc {
	return withLobby(h, func(w http.ResponseWriter, r *http.Request, lb *lobby.Lobby) {
		reply := make(chan lobby.SeatResult, 1)
		res, ok := ask(r.Context(), lb, lobby.AddSeat{Reply: reply}, reply)
		if !ok {
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
			return
		}
		switch {
		case errors.Is(res.Err, lobby.ErrStarted), errors.Is(res.Err, lobby.ErrFull):
			http.Error(w, res.Err.Error(), http.StatusConflict)
		case res.Err != nil:
			http.Error(w, res.Err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusCreated, SeatResponse{Code: lb.Code(), Seat: res.Seat, Ticket: res.Ticket})
		}
	})
}

func StartGame(h *hub.Hub) http.HandlerFunc {
	return withLobby(h, func(w http.ResponseWriter, r *http.Request, lb *lobby.Lobby) {
		reply := make(chan error, 1)
		err, ok := ask(r.Context(), lb, lobby.Start{Reply: reply}, reply)
		if !ok {
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func CompleteRound(h *hub.Hub) http.HandlerFunc {
	return withLobby(h, func(w http.ResponseWriter, r *http.Request, lb *lobby.Lobby) {
		reply := make(chan lobby.RoundResult, 1)
		res, ok := ask(r.Context(), lb, lobby.CompleteRound{Reply: reply}, reply)
		if !ok {
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
			return
		}
		if res.Err != nil {
			http.Error(w, res.Err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, RoundResponse{Round: res.Round})
	})
}

func KickSeat(h *hub.Hub) http.HandlerFunc {
	return withLobby(h, func(w http.ResponseWriter, r *http.Request, lb *lobby.Lobby) {
		seat, err := strconv.Atoi(chi.URLParam(r, "seat"))
		if err != nil {
			http.Error(w, "bad seat", http.StatusBadRequest)
			return
		}
		reply := make(chan bool, 1)
		kicked, ok := ask(r.Context(), lb, lobby.Kick{Seat: seat, Reply: reply}, reply)
		switch {
		case !ok:
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
		case !kicked:
			http.Error(w, "seat not connected", http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func GameState(h *hub.Hub) http.HandlerFunc {
	return withLobby(h, func(w http.ResponseWriter, r *http.Request, lb *lobby.Lobby) {
		reply := make(chan lobby.View, 1)
		v, ok := ask(r.Context(), lb, lobby.GetState{Reply: reply}, reply)
		if !ok {
			http.Error(w, "game unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse(v))
	})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func withLobby(h *hub.Hub, next func(http.ResponseWriter, *http.Request, *lobby.Lobby)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := h.Lookup(r.Context(), chi.URLParam(r, "code"))
		if lb == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		next(w, r, lb)
	}
}

// ask sends msg to the lobby and waits for its reply.
func ask[T any](ctx context.Context, lb *lobby.Lobby, msg lobby.Msg, reply chan T) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if !lb.Send(msg) {
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-ctx.Done():
		return zero, false
	case <-lb.Done():
		return zero, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
