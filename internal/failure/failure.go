// Package failure defines the error taxonomy shared by the OAuth, storage and
// watch components. Every external call is wrapped into an *Error so callers
// can branch on Kind and on whether a retry could help.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Kind identifies the failing step class.
type Kind int

const (
	Unknown Kind = iota
	ConfigUnavailable
	StateMismatch
	TokenExchangeFailed
	ProfileLookupFailed
	CredentialPersistFailed
	WatchSetupFailed
	NotFound
)

func (k Kind) String() string {
	switch k {
	case ConfigUnavailable:
		return "ConfigUnavailable"
	case StateMismatch:
		return "StateMismatch"
	case TokenExchangeFailed:
		return "TokenExchangeFailed"
	case ProfileLookupFailed:
		return "ProfileLookupFailed"
	case CredentialPersistFailed:
		return "CredentialPersistFailed"
	case WatchSetupFailed:
		return "WatchSetupFailed"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. Err may carry provider detail and must not be
// shown to end users verbatim; use Public for that.
type Error struct {
	Kind      Kind
	Step      string
	AccountID string
	Temporary bool
	TimedOut  bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Step != "" {
		b.WriteString(" (" + e.Step + ")")
	}
	if e.AccountID != "" {
		b.WriteString(" account=" + e.AccountID)
	}
	if e.TimedOut {
		b.WriteString(" timed out")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a failure of the given kind and classifies it.
func New(kind Kind, step string, err error) *Error {
	temporary, timedOut := Classify(err)
	return &Error{Kind: kind, Step: step, Temporary: temporary, TimedOut: timedOut, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, step, format string, args ...any) *Error {
	return New(kind, step, fmt.Errorf(format, args...))
}

// WithAccount returns a copy of e annotated with the account id.
func (e *Error) WithAccount(accountID string) *Error {
	cp := *e
	cp.AccountID = accountID
	return &cp
}

// Is reports whether any error in err's chain is a failure of kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsTemporary reports whether a retry of the failed call may succeed.
func IsTemporary(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Temporary
	}
	temporary, _ := Classify(err)
	return temporary
}

var permanentMarkers = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"invalid_scope",
	"access_denied",
	"token has been expired or revoked",
	"revoked",
}

// Classify reports whether err looks transient and whether it was a deadline expiry.
func Classify(err error) (temporary, timedOut bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, true
	}
	// The caller went away; the call itself may well succeed next time.
	if errors.Is(err, context.Canceled) {
		return true, false
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return classifyRetrieve(re), false
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return temporaryStatus(ge.Code), false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false, false
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true, ne.Timeout()
	}
	return false, false
}

// transientOAuthCodes are the RFC 6749 error codes that ask the client to retry.
var transientOAuthCodes = map[string]bool{
	"temporarily_unavailable": true,
	"server_error":            true,
}

func classifyRetrieve(re *oauth2.RetrieveError) bool {
	if re.ErrorCode != "" {
		code := strings.ToLower(re.ErrorCode)
		for _, marker := range permanentMarkers {
			if code == marker {
				return false
			}
		}
		if transientOAuthCodes[code] {
			return true
		}
	}
	if re.Response == nil {
		return false
	}
	return temporaryStatus(re.Response.StatusCode)
}

func temporaryStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// Public returns text safe to show to an end user.
func Public(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return "internal error"
	}
	switch fe.Kind {
	case ConfigUnavailable:
		return "OAuth configuration is unavailable"
	case StateMismatch:
		return "invalid or missing state parameter"
	case TokenExchangeFailed:
		if fe.TimedOut {
			return "token exchange timed out"
		}
		var re *oauth2.RetrieveError
		if errors.As(fe.Err, &re) && re.ErrorCode != "" {
			return "token exchange with the mail provider failed: " + re.ErrorCode
		}
		return "token exchange with the mail provider failed"
	case ProfileLookupFailed:
		return "could not resolve the mailbox profile"
	case CredentialPersistFailed:
		return "could not store credentials"
	case WatchSetupFailed:
		return "mailbox watch setup failed"
	case NotFound:
		return "not found"
	}
	return "internal error"
}
