package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		temporary bool
		timedOut  bool
	}{
		{name: "nil", err: nil},
		{name: "deadline", err: fmt.Errorf("exchange: %w", context.DeadlineExceeded), temporary: true, timedOut: true},
		{name: "canceled", err: context.Canceled, temporary: true},
		{name: "invalid grant", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}},
		{name: "invalid grant on 500", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant", Response: &http.Response{StatusCode: 500}}},
		{name: "access denied", err: &oauth2.RetrieveError{ErrorCode: "access_denied"}},
		{name: "temporarily unavailable", err: &oauth2.RetrieveError{ErrorCode: "temporarily_unavailable", Response: &http.Response{StatusCode: 503}}, temporary: true},
		{name: "server error", err: &oauth2.RetrieveError{ErrorCode: "server_error", Response: &http.Response{StatusCode: 500}}, temporary: true},
		{name: "temporarily unavailable without response", err: &oauth2.RetrieveError{ErrorCode: "temporarily_unavailable"}, temporary: true},
		{name: "unknown code on 400", err: &oauth2.RetrieveError{ErrorCode: "invalid_request", Response: &http.Response{StatusCode: 400}}},
		{name: "unknown code on 502", err: &oauth2.RetrieveError{ErrorCode: "upstream_failure", Response: &http.Response{StatusCode: 502}}, temporary: true},
		{name: "token endpoint 503", err: &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, temporary: true},
		{name: "gmail 429", err: &googleapi.Error{Code: 429}, temporary: true},
		{name: "gmail 403", err: &googleapi.Error{Code: 403}},
		{name: "revoked text", err: errors.New("token has been expired or revoked")},
		{name: "net timeout", err: timeoutErr{}, temporary: true, timedOut: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			temporary, timedOut := Classify(tt.err)
			if temporary != tt.temporary || timedOut != tt.timedOut {
				t.Fatalf("Classify() = (%v, %v), want (%v, %v)", temporary, timedOut, tt.temporary, tt.timedOut)
			}
		})
	}
}

func TestIsAndKindOf(t *testing.T) {
	err := fmt.Errorf("callback: %w", New(StateMismatch, "verify state", errors.New("mismatch")))
	if !Is(err, StateMismatch) {
		t.Fatal("expected StateMismatch in chain")
	}
	if Is(err, TokenExchangeFailed) {
		t.Fatal("did not expect TokenExchangeFailed")
	}
	if KindOf(err) != StateMismatch {
		t.Fatalf("KindOf() = %v", KindOf(err))
	}
	if KindOf(errors.New("x")) != Unknown {
		t.Fatal("expected Unknown for plain error")
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := New(WatchSetupFailed, "watch", errors.New("403")).WithAccount("user@x.com")
	msg := err.Error()
	for _, want := range []string{"WatchSetupFailed", "watch", "user@x.com", "403"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestPublicNeverLeaksCause(t *testing.T) {
	secret := "ya29.super-secret-access-token"
	err := New(TokenExchangeFailed, "exchange", fmt.Errorf("bad token %s", secret))
	if strings.Contains(Public(err), secret) {
		t.Fatalf("Public() leaked cause: %q", Public(err))
	}

	err = New(TokenExchangeFailed, "exchange", &oauth2.RetrieveError{ErrorCode: "invalid_grant"})
	if got := Public(err); !strings.HasSuffix(got, "invalid_grant") {
		t.Fatalf("Public() = %q, want provider error code", got)
	}

	if got := Public(errors.New(secret)); got != "internal error" {
		t.Fatalf("Public(plain) = %q", got)
	}
}
