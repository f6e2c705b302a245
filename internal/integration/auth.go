package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Authenticator acquires and caches a Habu bearer token via the OAuth2
// client-credentials flow. Concurrent callers share one in-flight refresh.
type Authenticator struct {
	config     *OAuth2Config
	margin     time.Duration
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	token    *oauth2.Token
	lifetime time.Duration

	fetches atomic.Int64
}

// NewAuthenticator creates an authenticator. httpClient may be nil.
func NewAuthenticator(config *OAuth2Config, margin, timeout time.Duration, httpClient *http.Client) *Authenticator {
	if config == nil {
		config = &OAuth2Config{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Authenticator{
		config:     config,
		margin:     margin,
		timeout:    timeout,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// AccessToken returns a valid bearer token, fetching a new one when none is
// cached or the cached one is within the refresh margin of expiry.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	if a.config.ClientID == "" || a.config.ClientSecret == "" {
		return "", NewConfigurationError("HABU_CLIENT_ID and HABU_CLIENT_SECRET must be set")
	}

	if tok := a.cached(); tok != nil {
		return tok.AccessToken, nil
	}

	v, err, _ := a.group.Do("token", func() (interface{}, error) {
		if tok := a.cached(); tok != nil {
			return tok, nil
		}

		// The refresh is shared, so one caller's cancellation must not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		tok, err := a.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		a.mu.Lock()
		a.token = tok
		a.lifetime = 0
		if !tok.Expiry.IsZero() {
			a.lifetime = tok.Expiry.Sub(a.now())
		}
		a.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}

	return v.(*oauth2.Token).AccessToken, nil
}

// AuthHeaders composes the bearer header with JSON content negotiation
func (a *Authenticator) AuthHeaders(ctx context.Context) (http.Header, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h, nil
}

// Reset clears the cached token, forcing the next call to re-authenticate
func (a *Authenticator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
}

// Fetches returns how many token requests have been issued
func (a *Authenticator) Fetches() int64 {
	return a.fetches.Load()
}

func (a *Authenticator) cached() *oauth2.Token {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tok := a.token
	if tok == nil || tok.AccessToken == "" {
		return nil
	}
	// Tokens without an expiry stay valid until Reset.
	if tok.Expiry.IsZero() {
		return tok
	}
	// Short-lived tokens refresh at half their lifetime instead of on every call.
	margin := min(a.margin, a.lifetime/2)
	if !a.now().Add(margin).Before(tok.Expiry) {
		return nil
	}
	return tok
}

func (a *Authenticator) fetch(ctx context.Context) (*oauth2.Token, error) {
	a.fetches.Add(1)

	cc := &clientcredentials.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		TokenURL:     a.config.TokenURL,
		Scopes:       a.config.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, NewAuthenticationError("token request failed", err)
	}
	if tok.AccessToken == "" {
		return nil, NewAuthenticationError("token endpoint returned no access token", nil)
	}

	return tok, nil
}

// String hides the secret when the authenticator is logged
func (a *Authenticator) String() string {
	return fmt.Sprintf("Authenticator{client_id=%q token_url=%q}", a.config.ClientID, a.config.TokenURL)
}
