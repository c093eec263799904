package collyfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
	"github.com/hemdata/listingharvester/internal/policy/ratelimit"
)

func newTestFetcher(t *testing.T, baseURL string) *Fetcher {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{Capacity: 1000, Window: time.Second})
	f, err := New(Config{
		BaseURL:     baseURL,
		MaxAttempts: 2,
		RetryDelay:  10 * time.Millisecond,
		Timeout:     2 * time.Second,
	}, limiter, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Capacity: 10, Window: time.Second})
	_, err := New(Config{BaseURL: "booli.se"}, limiter, zap.NewNop())
	require.Error(t, err)
}

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bostad/1234", r.URL.Path)
		w.Write([]byte("<html>listing</html>"))
	}))
	defer srv.Close()

	body, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "bostad/1234")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>listing</html>"), body)
}

func TestFetchNoContentIsSuccessWithEmptyPayload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	body, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "sok/slutpriser?page=99")
	require.NoError(t, err)
	require.Empty(t, body)
	require.EqualValues(t, 1, hits.Load(), "a 204 must not consume retries")
}

func TestFetchRetriesThenReportsHTTPStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "bostad/1")
	var fetchErr *harvest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, harvest.FetchHTTPStatus, fetchErr.Kind)
	require.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	require.Equal(t, 2, fetchErr.Attempts)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchReportsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "bostad/1")
	var fetchErr *harvest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, harvest.FetchNetwork, fetchErr.Kind)
}

func TestFetchReportsEmptyResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "bostad/1")
	var fetchErr *harvest.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, harvest.FetchEmptyResponse, fetchErr.Kind)
	require.EqualValues(t, 2, hits.Load(), "an empty body is transient and consumes the retry budget")
}

func TestFetchMalformedEndpointFailsWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "bostad/%zz")
	require.Error(t, err)
	var fetchErr *harvest.FetchError
	require.False(t, errors.As(err, &fetchErr))
	require.EqualValues(t, 0, hits.Load())
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(t, srv.URL).Fetch(ctx, "bostad/1")
	require.Error(t, err)
}
