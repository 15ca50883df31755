package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cl "empires/internal/cli"
	"empires/internal/syncq"
)

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestWriteQueuesUnreachableRequests(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := &globals{apiBase: url, token: "tok"}
	req := cl.RewardRequest(9, 75)
	var sentKey string
	err := g.write(testCmd(), req, func(ctx context.Context, client *cl.Client, idem string) error {
		sentKey = idem
		_, err := client.Reward(ctx, 9, 75, idem)
		return err
	})
	require.NoError(t, err)

	queued, err := syncq.Load()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "/v1/admin/users/9/reward", queued[0].Path)
	assert.Equal(t, http.MethodPost, queued[0].Method)
	assert.Equal(t, sentKey, queued[0].IdempotencyKey)
	assert.Equal(t, float64(75), queued[0].Body["amount"])
}

func TestWriteReturnsAPIErrorsWithoutQueueing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"auction 5 not found","code":"not_found"}`))
	}))
	defer srv.Close()

	g := &globals{apiBase: srv.URL, token: "tok"}
	err := g.write(testCmd(), cl.SettleAuctionRequest(5), func(ctx context.Context, client *cl.Client, idem string) error {
		_, err := client.SettleAuction(ctx, 5, idem)
		return err
	})
	require.Error(t, err)
	assert.False(t, cl.IsTransport(err))

	queued, err := syncq.Load()
	require.NoError(t, err)
	assert.Empty(t, queued)
}
