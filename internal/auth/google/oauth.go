package google

import (
	"github.com/pysugar/mail-watch-broker/internal/secrets"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Scopes are exactly the mailbox capabilities the broker relies on downstream.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailReadonlyScope,
	gmail.GmailLabelsScope,
}

// NewOAuthConfig returns the OAuth2 config for the given client registration.
// Endpoints from the registration override Google's defaults.
func NewOAuthConfig(client secrets.ClientConfig, redirectURL string) *oauth2.Config {
	endpoint := googleOAuth.Endpoint
	if client.AuthURI != "" {
		endpoint.AuthURL = client.AuthURI
	}
	if client.TokenURI != "" {
		endpoint.TokenURL = client.TokenURI
	}

	scopes := make([]string, len(Scopes))
	copy(scopes, Scopes)

	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}
