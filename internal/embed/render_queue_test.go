package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQueueTurns(t *testing.T) {
	q := &renderQueue{}
	a, b, c := q.enqueue(), q.enqueue(), q.enqueue()
	assert.Equal(t, 3, q.Len())

	require.NoError(t, a.wait(context.Background()))

	short := func() context.Context {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		t.Cleanup(cancel)
		return ctx
	}
	assert.ErrorIs(t, b.wait(short()), context.DeadlineExceeded)

	// b leaves early, but c still waits for a.
	b.release()
	assert.Equal(t, 2, q.Len())
	assert.ErrorIs(t, c.wait(short()), context.DeadlineExceeded)

	a.release()
	a.release()
	require.NoError(t, c.wait(context.Background()))
	assert.Equal(t, 1, q.Len())

	c.release()
	assert.Zero(t, q.Len())
	d := q.enqueue()
	require.NoError(t, d.wait(context.Background()))
}
