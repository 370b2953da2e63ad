package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps each record as a raw JSON blob, the same shape a browser
// would keep in local storage.
type Memory struct {
	mu   sync.Mutex
	blob map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{blob: make(map[string][]byte)}
}

func (m *Memory) Read(_ context.Context, id string) (Session, bool, error) {
	m.mu.Lock()
	raw, ok := m.blob[id]
	m.mu.Unlock()
	if !ok {
		return Session{}, false, nil
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, nil
	}
	if s.ID != id || !s.Valid() {
		return Session{}, false, nil
	}
	return s, true, nil
}

func (m *Memory) Write(_ context.Context, s Session) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSession, s.ID)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal %q: %w", s.ID, err)
	}
	m.PutRaw(s.ID, raw)
	return nil
}

func (m *Memory) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blob, id)
	return nil
}

// PutRaw stores an arbitrary blob under id, bypassing validation.
func (m *Memory) PutRaw(id string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob[id] = append([]byte(nil), raw...)
}

// Has reports whether any blob, valid or not, is stored under id.
func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blob[id]
	return ok
}

func (m *Memory) Close() error { return nil }
