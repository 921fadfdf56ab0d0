package alpaca

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &Config{DataURL: srv.URL, TradingURL: srv.URL + "/trading", KeyID: "kid", SecretKey: "sk"}
	return NewClient(cfg, WithHTTPClient(srv.Client()))
}

func TestFetchSendsCredentialsAndQuery(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotSecret string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		gotKey, gotSecret = r.Header.Get(headerKeyID), r.Header.Get(headerSecretKey)
		_, _ = w.Write([]byte(`{"bars":{},"next_page_token":null}`))
	})

	req := NewRequestBuilder(nil).Bars(StockBars, BarsQuery{
		Symbol:    "AAPL",
		Timeframe: "1Day",
		Start:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		PageToken: "tok",
	})
	body, err := client.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bars":{},"next_page_token":null}`, string(body))
	assert.Equal(t, "/v2/stocks/bars", gotPath)
	assert.Contains(t, gotQuery, "symbols=AAPL")
	assert.Contains(t, gotQuery, "page_token=tok")
	assert.Contains(t, gotQuery, "start=2024-01-02T00%3A00%3A00Z")
	assert.Equal(t, "kid", gotKey)
	assert.Equal(t, "sk", gotSecret)
}

func TestFetchRoutesTradingHost(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := client.Fetch(context.Background(), NewRequestBuilder(nil).Assets(AssetsQuery{Status: "active"}))
	require.NoError(t, err)
	assert.Equal(t, "/trading/v2/assets", gotPath)
}

func TestFetchClassifiesErrors(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()
	tests := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "429 with retry-after",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "7"},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
				assert.True(t, IsTransient(err))
			},
		},
		{
			name:   "429 with reset header",
			status: http.StatusTooManyRequests,
			header: map[string]string{"X-RateLimit-Reset": strconv.FormatInt(reset, 10)},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, reset, rl.ResetAt.Unix())
				assert.Greater(t, rl.RetryDelay(time.Now()), time.Duration(0))
			},
		},
		{
			name:   "401 is auth",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuth(err))
				assert.False(t, IsTransient(err))
			},
		},
		{
			name:   "503 is transient",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.True(t, IsTransient(err))
			},
		},
		{
			name:   "422 is permanent",
			status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, err error) {
				assert.False(t, IsTransient(err))
				assert.False(t, IsAuth(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})
			_, err := client.Fetch(context.Background(), NewRequestBuilder(nil).News(NewsQuery{}))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	body := `{"bars":{},"next_page_token":null}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	cfg := &Config{DataURL: srv.URL, TradingURL: srv.URL}
	req := Request{Host: HostData, Path: "/v2/stocks/bars"}

	exact := NewClient(cfg, WithHTTPClient(srv.Client()), WithMaxBodyBytes(int64(len(body))))
	got, err := exact.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	small := NewClient(cfg, WithHTTPClient(srv.Client()), WithMaxBodyBytes(int64(len(body)-1)))
	_, err = small.Fetch(context.Background(), req)
	var tooLarge *BodyTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, http.StatusOK, tooLarge.StatusCode)
	assert.Equal(t, int64(len(body)-1), tooLarge.Limit)
	assert.False(t, IsTransient(err))
}

func TestFetchNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := NewClient(&Config{DataURL: srv.URL, TradingURL: srv.URL})

	_, err := client.Fetch(context.Background(), Request{Host: HostData, Path: "/v1beta1/news"})
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, IsTransient(err))
}

func TestFetchTimeoutIsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, Request{Host: HostData, Path: "/v2/stocks/bars"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
