package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName   = "broker_session"
	DefaultStoreTimeout = 5 * time.Second
	issuer              = "mail-watch-broker"
)

// Gate tracks which account a browser session is signed in as. The cookie
// carries only a signed session id; the data lives in the Store.
type Gate struct {
	store      Store
	secret     []byte
	ttl        time.Duration
	timeout    time.Duration
	cookieName string
}

type GateOption func(*Gate)

// WithStoreTimeout bounds each session store call.
func WithStoreTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func NewGate(store Store, secret string, ttl time.Duration, opts ...GateOption) *Gate {
	g := &Gate{store: store, secret: []byte(secret), ttl: ttl, timeout: DefaultStoreTimeout, cookieName: DefaultCookieName}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware loads the request's session into its context. Requests without
// a valid cookie get an empty session.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := g.Load(r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// Load resolves the session named by the request cookie.
func (g *Gate) Load(r *http.Request) *Session {
	c, err := r.Cookie(g.cookieName)
	if err != nil || c.Value == "" {
		return New()
	}
	id, err := g.parse(c.Value)
	if err != nil {
		return New()
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()
	data, err := g.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[Session] Failed to load session: %v", err)
		}
		return New()
	}
	return &Session{id: id, data: data}
}

// Start marks the session as signed in to accountID. The session id is
// replaced on the next Save.
func (g *Gate) Start(s *Session, accountID string) {
	s.data.AccountID = accountID
	s.cleared = false
	s.dirty = true
	s.rotate = true
}

// CurrentAccount returns the account the session is signed in as.
func (g *Gate) CurrentAccount(s *Session) (string, bool) {
	if s == nil || s.cleared || s.data.AccountID == "" {
		return "", false
	}
	return s.data.AccountID, true
}

// End signs the session out. It is safe on an empty or nil session.
func (g *Gate) End(s *Session) {
	if s == nil {
		return
	}
	s.data = Data{}
	s.cleared = true
	s.dirty = true
	s.rotate = false
}

// Save writes pending changes to the store and sets or clears the cookie.
// It must be called before the response is written.
func (g *Gate) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if !s.dirty {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if s.cleared {
		// The cookie is cleared even when the store delete fails.
		var err error
		if s.id != "" {
			if derr := g.store.Delete(ctx, s.id); derr != nil {
				err = fmt.Errorf("delete session: %w", derr)
			}
			s.id = ""
		}
		http.SetCookie(w, g.cookie(r, "", -1))
		s.dirty = false
		return err
	}

	if s.rotate || s.id == "" {
		if s.id != "" {
			if err := g.store.Delete(ctx, s.id); err != nil {
				log.Printf("[Session] Failed to drop replaced session: %v", err)
			}
		}
		s.id = uuid.NewString()
	}
	if err := g.store.Put(ctx, s.id, s.data, g.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	value, err := g.sign(s.id)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, g.cookie(r, value, int(g.ttl.Seconds())))
	s.dirty, s.rotate = false, false
	return nil
}

func (g *Gate) sign(id string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func (g *Gate) parse(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("session id missing")
	}
	return claims.ID, nil
}

func (g *Gate) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     g.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	}
}
