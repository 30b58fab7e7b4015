// Package session maps browser sessions to authenticated accounts.
//
// A Session is loaded once per request by Gate.Middleware and handed to the
// handlers explicitly. Nothing is written back until Gate.Save is called.
package session

import "context"

// Data is the server-side state of one browser session.
type Data struct {
	AccountID  string `json:"account_id,omitempty"`
	OAuthState string `json:"oauth_state,omitempty"`
}

// Session is the request-scoped view of a browser session. It is not safe
// for use by more than one request at a time.
type Session struct {
	id      string
	data    Data
	dirty   bool
	rotate  bool
	cleared bool
}

// New returns an empty session that has not been stored yet.
func New() *Session {
	return &Session{}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) SetOAuthState(state string) {
	s.data.OAuthState = state
	s.cleared = false
	s.dirty = true
}

func (s *Session) OAuthState() string {
	if s.cleared {
		return ""
	}
	return s.data.OAuthState
}

func (s *Session) ClearOAuthState() {
	if s.data.OAuthState == "" {
		return
	}
	s.data.OAuthState = ""
	s.dirty = true
}

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session loaded by the middleware, or a fresh empty
// session when there is none.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
		return s
	}
	return New()
}
