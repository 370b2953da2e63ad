package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DoyleJ11/lol-draft-client/internal/store"
)

var ErrSeatRefused = errors.New("client: seat refused")

// SocketAddress derives the WebSocket endpoint of game code from the HTTP
// base URL of its server.
func SocketAddress(serverURL, code string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"code": {code}}.Encode()
	return u.String(), nil
}

// RequestSeat asks the server for a seat in game code and returns the
// session record to Grant.
func RequestSeat(ctx context.Context, hc *http.Client, serverURL, code string) (store.Session, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	address, err := SocketAddress(serverURL, code)
	if err != nil {
		return store.Session{}, err
	}

	endpoint := strings.TrimRight(serverURL, "/") + "/games/" + url.PathEscape(code) + "/seats"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return store.Session{}, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return store.Session{}, fmt.Errorf("request seat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return store.Session{}, fmt.Errorf("%w: %s: %s", ErrSeatRefused, resp.Status, strings.TrimSpace(string(body)))
	}

	var seat struct {
		Code   string `json:"code"`
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&seat); err != nil {
		return store.Session{}, fmt.Errorf("decode seat: %w", err)
	}
	s := store.Session{ID: code, Address: address, Ticket: seat.Ticket}
	if !s.Valid() {
		return store.Session{}, fmt.Errorf("%w: incomplete seat response", ErrSeatRefused)
	}
	return s, nil
}

// CreateGame asks the server for a new game and returns its code.
func CreateGame(ctx context.Context, hc *http.Client, serverURL string) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/games", nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("create game: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create game: %s", resp.Status)
	}
	var game struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&game); err != nil {
		return "", fmt.Errorf("decode game: %w", err)
	}
	return game.Code, nil
}
