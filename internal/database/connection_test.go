package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithQueryTimeout_BoundsUnboundedContext(t *testing.T) {
	db := &DB{queryTimeout: 250 * time.Millisecond}

	ctx, cancel := db.WithQueryTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok, "durable calls must never run without a deadline")
	assert.WithinDuration(t, time.Now().Add(250*time.Millisecond), deadline, 100*time.Millisecond)
}

func TestWithQueryTimeout_DefaultsWhenUnset(t *testing.T) {
	db := &DB{}

	ctx, cancel := db.WithQueryTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(defaultQueryTimeout), deadline, 100*time.Millisecond)
}

func TestWithQueryTimeout_KeepsTighterCallerDeadline(t *testing.T) {
	db := &DB{queryTimeout: time.Hour}

	parent, parentCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer parentCancel()

	ctx, cancel := db.WithQueryTimeout(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
}
