// Package handlers serves the browser login flow and the operator API.
package handlers

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/auth/google"
	"github.com/pysugar/mail-watch-broker/internal/credential"
	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"github.com/pysugar/mail-watch-broker/internal/logging"
	"github.com/pysugar/mail-watch-broker/internal/session"
)

const CallbackPath = "/oauth2callback"

// OAuthFlow is the authorization code flow driven by the login routes.
type OAuthFlow interface {
	BeginAuthorization(ctx context.Context, st google.StateHolder, redirectURI string) (authURL, state string, err error)
	CompleteAuthorization(ctx context.Context, st google.StateHolder, callbackURL string) (*google.Result, error)
}

// WatchRegistrar subscribes a freshly authorized mailbox to notifications.
type WatchRegistrar interface {
	Register(ctx context.Context, accountID string, cred credential.Credential) (*models.WatchSubscription, error)
}

// IndexHandler greets the signed in account or offers the login link.
func IndexHandler(gate *session.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if account, ok := gate.CurrentAccount(session.FromContext(r.Context())); ok {
			fmt.Fprintf(w, `Welcome %s! <a href="/logout">Logout</a>`, html.EscapeString(account))
			return
		}
		fmt.Fprint(w, `Welcome! <a href="/authorize">Login with Gmail</a>`)
	}
}

// AuthorizeHandler starts the flow and redirects the browser to the provider.
func AuthorizeHandler(flow OAuthFlow, gate *session.Gate, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)

		authURL, _, err := flow.BeginAuthorization(ctx, sess, BaseURL(r, publicURL)+CallbackPath)
		if err != nil {
			log.Printf("%s[OAuth] Authorize failed: %v", logging.Prefix(ctx), err)
			http.Error(w, failure.Public(err), http.StatusInternalServerError)
			return
		}
		if err := gate.Save(ctx, w, r, sess); err != nil {
			log.Printf("%s[OAuth] Failed to store session: %v", logging.Prefix(ctx), err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow, stores the credential, registers the
// mailbox watch when enabled and signs the session in. registrar may be nil.
// storeTimeout bounds the credential write.
func CallbackHandler(flow OAuthFlow, creds credential.Store, registrar WatchRegistrar, gate *session.Gate, publicURL string, storeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		prefix := logging.Prefix(ctx)

		if sess.OAuthState() == "" {
			log.Printf("%s[OAuth] Callback without a pending authorization", prefix)
			http.Error(w, "missing OAuth state", http.StatusBadRequest)
			return
		}

		result, err := flow.CompleteAuthorization(ctx, sess, BaseURL(r, publicURL)+r.URL.RequestURI())
		if err != nil {
			// The pending state is spent either way.
			if saveErr := gate.Save(ctx, w, r, sess); saveErr != nil {
				log.Printf("%s[OAuth] Failed to store session: %v", prefix, saveErr)
			}
			log.Printf("%s[OAuth] Callback failed: %v", prefix, err)
			status := http.StatusInternalServerError
			if failure.Is(err, failure.StateMismatch) {
				status = http.StatusBadRequest
			}
			http.Error(w, failure.Public(err), status)
			return
		}

		if err := saveCredential(ctx, creds, result, storeTimeout); err != nil {
			log.Printf("%s[OAuth] Could not persist credential for %s: %v", prefix, result.AccountID, err)
			if saveErr := gate.Save(ctx, w, r, sess); saveErr != nil {
				log.Printf("%s[OAuth] Failed to store session: %v", prefix, saveErr)
			}
			http.Error(w, failure.Public(err), http.StatusInternalServerError)
			return
		}
		log.Printf("%s[OAuth] Stored credential for %s", prefix, result.AccountID)

		if registrar != nil {
			// Failures are recorded and reported by the registrar; the login stands.
			if _, err := registrar.Register(ctx, result.AccountID, result.Credential); err != nil {
				log.Printf("%s[OAuth] Continuing login for %s without a watch", prefix, result.AccountID)
			}
		}

		gate.Start(sess, result.AccountID)
		if err := gate.Save(ctx, w, r, sess); err != nil {
			log.Printf("%s[OAuth] Failed to store session for %s: %v", prefix, result.AccountID, err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

func saveCredential(ctx context.Context, creds credential.Store, result *google.Result, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := creds.Save(ctx, result.AccountID, result.Credential)
	if err == nil || failure.Is(err, failure.CredentialPersistFailed) {
		return err
	}
	return failure.New(failure.CredentialPersistFailed, "save credential", err).WithAccount(result.AccountID)
}

// LogoutHandler always clears the session.
func LogoutHandler(gate *session.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		gate.End(sess)
		if err := gate.Save(ctx, w, r, sess); err != nil {
			log.Printf("%s[Session] Logout could not delete session: %v", logging.Prefix(ctx), err)
		}
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// BaseURL is the externally visible origin of the broker. A configured
// public URL wins over the request's own scheme and host.
func BaseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
