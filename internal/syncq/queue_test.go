package syncq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestLoadEmptyQueue(t *testing.T) {
	useTempHome(t)
	cmds, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestPushKeepsOrderAndStampsTime(t *testing.T) {
	useTempHome(t)
	require.NoError(t, Push(Command{Method: "POST", Path: "/v1/admin/users/2/ban", IdempotencyKey: "a"}))
	require.NoError(t, Push(Command{Method: "POST", Path: "/v1/admin/users/2/reward", Body: map[string]any{"amount": 50}, IdempotencyKey: "b"}))

	cmds, err := Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "a", cmds[0].IdempotencyKey)
	assert.Equal(t, "b", cmds[1].IdempotencyKey)
	assert.False(t, cmds[0].QueuedAt.IsZero())
	assert.Equal(t, float64(50), cmds[1].Body["amount"])
}

var errDuplicate = errors.New("duplicate")

func TestReplayDropsSentAndDuplicates(t *testing.T) {
	useTempHome(t)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, Push(Command{Method: "POST", Path: "/x", IdempotencyKey: key}))
	}

	var seen []string
	res, err := Replay(context.Background(), func(_ context.Context, cmd Command) error {
		seen = append(seen, cmd.IdempotencyKey)
		if cmd.IdempotencyKey == "b" {
			return errDuplicate
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errDuplicate) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, Result{Sent: 3}, res)

	cmds, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestReplayStopsAtFirstFailure(t *testing.T) {
	useTempHome(t)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, Push(Command{Method: "POST", Path: "/x", IdempotencyKey: key}))
	}
	offline := errors.New("connection refused")

	res, err := Replay(context.Background(), func(_ context.Context, cmd Command) error {
		if cmd.IdempotencyKey == "b" {
			return offline
		}
		return nil
	}, nil)
	assert.ErrorIs(t, err, offline)
	assert.Equal(t, Result{Sent: 1, Remaining: 2}, res)

	cmds, err := Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "b", cmds[0].IdempotencyKey)
}
