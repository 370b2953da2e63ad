// Package store persists ReconnectionSession records so a session can be
// resumed after the client process restarts.
package store

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidSession = errors.New("store: invalid session")

// Session is the durable record that lets a client resume a game.
type Session struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Ticket  string `json:"ticket"`
}

// Valid reports whether s is complete enough to reconnect with.
func (s Session) Valid() bool {
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Ticket) == "" {
		return false
	}
	u, err := url.Parse(s.Address)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return u.Host != ""
	default:
		return false
	}
}

// Store is the durable session interface. Read treats malformed records as
// absent; only backend failures are returned as errors.
type Store interface {
	Read(ctx context.Context, id string) (Session, bool, error)
	Write(ctx context.Context, s Session) error
	Clear(ctx context.Context, id string) error
	Close() error
}

// Open returns a Postgres-backed store for a DSN, or an in-memory one when
// dsn is empty.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemory(), nil
	}
	return OpenGorm(ctx, dsn)
}
