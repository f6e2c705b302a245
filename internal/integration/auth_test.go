package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer issues numbered bearer tokens
type tokenServer struct {
	*httptest.Server
	requests  atomic.Int32
	expiresIn int
	delay     time.Duration
	status    int
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: expiresIn, status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)
		if r.FormValue("grant_type") != "client_credentials" || r.FormValue("client_id") != "client" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":%d}`, n, ts.expiresIn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *OAuth2Config {
	return &OAuth2Config{ClientID: "client", ClientSecret: "secret", TokenURL: ts.URL + "/oauth/token"}
}

func TestAccessTokenMissingCredentials(t *testing.T) {
	auth := NewAuthenticator(&OAuth2Config{ClientID: "client"}, time.Minute, 0, nil)

	_, err := auth.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.Zero(t, auth.Fetches())
}

func TestAccessTokenCached(t *testing.T) {
	ts := newTokenServer(t, 3600)
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	for i := 0; i < 3; i++ {
		tok, err := auth.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.EqualValues(t, 1, ts.requests.Load())

	headers, err := auth.AuthHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Accept"))
}

// TestAccessTokenSingleFlight tests that concurrent callers share one fetch
func TestAccessTokenSingleFlight(t *testing.T) {
	ts := newTokenServer(t, 3600)
	ts.delay = 50 * time.Millisecond
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := auth.AccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ts.requests.Load())
	assert.EqualValues(t, 1, auth.Fetches())
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

// TestAccessTokenRefreshMargin tests that a token is replaced once it is
// within the margin of its expiry
func TestAccessTokenRefreshMargin(t *testing.T) {
	ts := newTokenServer(t, 120)
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	base := time.Now()
	var offset time.Duration
	auth.now = func() time.Time { return base.Add(offset) }

	tok, err := auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	offset = 30 * time.Second
	tok, err = auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	offset = 90 * time.Second
	tok, err = auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, ts.requests.Load())
}

func TestAccessTokenShortLifetime(t *testing.T) {
	ts := newTokenServer(t, 30)
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	base := time.Now()
	var offset time.Duration
	auth.now = func() time.Time { return base.Add(offset) }

	for i := 0; i < 5; i++ {
		tok, err := auth.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok, "a token shorter than the margin is still reused")
	}

	offset = 20 * time.Second
	tok, err := auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok, "refreshed past half its lifetime")
	assert.EqualValues(t, 2, ts.requests.Load())
}

func TestAccessTokenReset(t *testing.T) {
	ts := newTokenServer(t, 3600)
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	_, err := auth.AccessToken(context.Background())
	require.NoError(t, err)
	auth.Reset()

	tok, err := auth.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestAccessTokenEndpointFailure(t *testing.T) {
	ts := newTokenServer(t, 3600)
	ts.status = http.StatusInternalServerError
	auth := NewAuthenticator(ts.config(), time.Minute, 0, nil)

	_, err := auth.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthentication))

	kind, code := Describe(err)
	assert.Equal(t, KindAuthentication, kind)
	assert.Equal(t, CodeTokenRequestFailed, code)
}

func TestAuthenticatorStringHidesSecret(t *testing.T) {
	auth := NewAuthenticator(&OAuth2Config{ClientID: "client", ClientSecret: "hunter2"}, 0, 0, nil)
	assert.NotContains(t, auth.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", auth), "hunter2")
}
