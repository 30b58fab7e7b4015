// Package google drives the authorization code flow against Google's OAuth2
// endpoints for mailbox access.
package google

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/credential"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"github.com/pysugar/mail-watch-broker/internal/secrets"
	"golang.org/x/oauth2"
)

// ConfigSource supplies the OAuth client registration.
type ConfigSource interface {
	OAuthConfig(ctx context.Context) (secrets.ClientConfig, error)
}

// ProfileLookup resolves the mailbox address that owns a token.
type ProfileLookup interface {
	EmailAddress(ctx context.Context, ts oauth2.TokenSource) (string, error)
}

// StateHolder keeps the pending state token of one browser session.
type StateHolder interface {
	SetOAuthState(state string)
	OAuthState() string
	ClearOAuthState()
}

// Result is a completed authorization.
type Result struct {
	AccountID  string
	Credential credential.Credential
}

// Flow implements the authorize and callback halves of the code flow.
type Flow struct {
	config       ConfigSource
	profiles     ProfileLookup
	timeout      time.Duration
	forceConsent bool
	httpClient   *http.Client
}

type FlowOption func(*Flow)

// WithForceConsent makes every authorization request prompt=consent so the
// provider always returns a fresh refresh token.
func WithForceConsent(force bool) FlowOption {
	return func(f *Flow) { f.forceConsent = force }
}

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) FlowOption {
	return func(f *Flow) { f.httpClient = c }
}

func NewFlow(config ConfigSource, profiles ProfileLookup, timeout time.Duration, opts ...FlowOption) *Flow {
	f := &Flow{config: config, profiles: profiles, timeout: timeout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BeginAuthorization stores a fresh state token in st and returns the
// provider URL the browser must be sent to.
func (f *Flow) BeginAuthorization(ctx context.Context, st StateHolder, redirectURI string) (authURL, state string, err error) {
	client, err := f.config.OAuthConfig(ctx)
	if err != nil {
		return "", "", err
	}

	state, err = newStateToken()
	if err != nil {
		return "", "", failure.New(failure.ConfigUnavailable, "generate state", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if f.forceConsent {
		opts = append(opts, oauth2.ApprovalForce)
	}

	cfg := NewOAuthConfig(client, redirectURI)
	st.SetOAuthState(state)
	return cfg.AuthCodeURL(state, opts...), state, nil
}

// CompleteAuthorization validates the callback against the pending state,
// exchanges the code and resolves the account id. The pending state is
// consumed whatever the outcome.
func (f *Flow) CompleteAuthorization(ctx context.Context, st StateHolder, callbackURL string) (*Result, error) {
	expected := st.OAuthState()
	st.ClearOAuthState()

	cb, err := url.Parse(callbackURL)
	if err != nil {
		return nil, failure.New(failure.StateMismatch, "parse callback", err)
	}
	query := cb.Query()

	got := query.Get("state")
	if expected == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return nil, failure.New(failure.StateMismatch, "verify state", errors.New("state does not match the pending authorization"))
	}

	if denied := query.Get("error"); denied != "" {
		return nil, failure.New(failure.TokenExchangeFailed, "authorize", &oauth2.RetrieveError{ErrorCode: denied, ErrorDescription: query.Get("error_description")})
	}
	code := query.Get("code")
	if code == "" {
		return nil, failure.Newf(failure.TokenExchangeFailed, "authorize", "callback carries no authorization code")
	}

	client, err := f.config.OAuthConfig(ctx)
	if err != nil {
		return nil, err
	}

	// The redirect URI sent to the token endpoint must match the one used to
	// authorize, which is the callback URL without its query.
	redirect := *cb
	redirect.RawQuery = ""
	redirect.Fragment = ""
	cfg := NewOAuthConfig(client, redirect.String())

	tok, err := f.exchange(ctx, cfg, code)
	if err != nil {
		return nil, err
	}

	email, err := f.lookupProfile(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken == "" {
		log.Printf("[OAuth] No refresh token returned for %s (repeat consent)", email)
	}
	return &Result{AccountID: email, Credential: credential.FromToken(tok, cfg)}, nil
}

func (f *Flow) exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, failure.New(failure.TokenExchangeFailed, "exchange code", err)
	}
	if tok.AccessToken == "" {
		return nil, failure.Newf(failure.TokenExchangeFailed, "exchange code", "token response has no access token")
	}
	return tok, nil
}

func (f *Flow) lookupProfile(ctx context.Context, ts oauth2.TokenSource) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	email, err := f.profiles.EmailAddress(ctx, ts)
	if err != nil {
		return "", failure.New(failure.ProfileLookupFailed, "get profile", err)
	}
	if email == "" {
		return "", failure.Newf(failure.ProfileLookupFailed, "get profile", "profile has no email address")
	}
	return email, nil
}

func newStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
