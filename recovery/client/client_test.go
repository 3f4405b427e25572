package client_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recoverylabs/recoveryd/recovery/api"
	"github.com/recoverylabs/recoveryd/recovery/client"
	"github.com/recoverylabs/recoveryd/testutil"
)

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithRetry(5, time.Millisecond))
	require.NoError(t, err)

	r := rand.New(rand.NewSource(10))
	err = c.RemoveRecovery(context.Background(), api.RemoveRecoveryRequest{
		Caller: testutil.GenRandomAccountID(r).MarshalHex(),
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryProtocolErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			Codespace: "recovery",
			Code:      3,
			Message:   "account is not recoverable",
		})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithRetry(5, time.Millisecond))
	require.NoError(t, err)

	r := rand.New(rand.NewSource(10))
	err = c.ClaimRecovery(context.Background(), api.ClaimRecoveryRequest{
		Rescuer:     testutil.GenRandomAccountID(r).MarshalHex(),
		LostAccount: testutil.GenRandomAccountID(r).MarshalHex(),
	})

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "recovery", apiErr.Codespace)
	require.Equal(t, uint32(3), apiErr.Code)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientSignsRequests(t *testing.T) {
	t.Parallel()

	const key = "shared-key"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mac := r.Header.Get(api.HMACHeaderKey)
		require.NotEmpty(t, mac)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithHMACKey(key))
	require.NoError(t, err)

	r := rand.New(rand.NewSource(10))
	require.NoError(t, c.RemoveRecovery(context.Background(), api.RemoveRecoveryRequest{
		Caller: testutil.GenRandomAccountID(r).MarshalHex(),
	}))
}

func TestClientInvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := client.New("://bad")
	require.Error(t, err)
}
