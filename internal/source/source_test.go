package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateGuardLifecycle(t *testing.T) {
	var g StateGuard
	assert.Equal(t, Disconnected, g.State())
	assert.ErrorIs(t, g.Check(), ErrClosed)

	g.Open()
	assert.Equal(t, Connected, g.State())
	assert.NoError(t, g.Check())

	assert.True(t, g.Release())
	assert.False(t, g.Release(), "second release is a no-op")
	assert.ErrorIs(t, g.Check(), ErrClosed)
	assert.Equal(t, "disconnected", g.State().String())
}

func TestRangeContainsComparesDatesOnly(t *testing.T) {
	r := Range{
		From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, r.Contains(time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)))
}
