package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when DRAFT_TEST_POSTGRES_DSN is set.
func TestGorm_RoundTrip(t *testing.T) {
	dsn := os.Getenv("DRAFT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DRAFT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	g, err := OpenGorm(ctx, dsn)
	require.NoError(t, err)
	defer g.Close()

	s := Session{ID: "GORM01", Address: "ws://localhost:8080/ws?code=GORM01", Ticket: "t-1"}
	require.NoError(t, g.Clear(ctx, s.ID))
	require.NoError(t, g.Write(ctx, s))

	s.Ticket = "t-2"
	require.NoError(t, g.Write(ctx, s))

	got, ok, err := g.Read(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s, got)

	// A row that no longer parses is treated as absent.
	require.NoError(t, g.db.Model(&sessionRow{}).Where("session_id = ?", s.ID).Update("address", "::bad").Error)
	_, ok, err = g.Read(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Clear(ctx, s.ID))
	_, ok, err = g.Read(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
