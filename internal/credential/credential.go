// Package credential persists OAuth credential sets per mailbox account.
package credential

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is everything needed to mint access tokens for an account later.
type Credential struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scopes        []string
}

// Store is the single source of truth for account credentials.
type Store interface {
	// Save upserts the credential. A stored refresh token is never replaced
	// by an empty one.
	Save(ctx context.Context, accountID string, cred Credential) error
	// Load returns a failure.NotFound error for unknown accounts.
	Load(ctx context.Context, accountID string) (Credential, error)
	Ping(ctx context.Context) error
}

// FromToken builds a Credential from an exchanged token and the client that obtained it.
func FromToken(tok *oauth2.Token, cfg *oauth2.Config) Credential {
	cred := Credential{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		Expiry:        tok.Expiry,
		TokenEndpoint: cfg.Endpoint.TokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		Scopes:        cfg.Scopes,
	}
	// Providers report the granted set, which can differ from the requested one
	// under incremental consent.
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		cred.Scopes = strings.Fields(granted)
	}
	return cred
}

// Token returns the oauth2 token view of the credential.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// OAuthConfig rebuilds the client config the credential was issued to.
func (c Credential) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenEndpoint},
		Scopes:       c.Scopes,
	}
}

// Merge overlays the fields present in next onto prev.
func Merge(prev, next Credential) Credential {
	out := prev
	if next.AccessToken != "" {
		out.AccessToken = next.AccessToken
	}
	if next.RefreshToken != "" {
		out.RefreshToken = next.RefreshToken
	}
	if next.TokenType != "" {
		out.TokenType = next.TokenType
	}
	if !next.Expiry.IsZero() {
		out.Expiry = next.Expiry
	}
	if next.TokenEndpoint != "" {
		out.TokenEndpoint = next.TokenEndpoint
	}
	if next.ClientID != "" {
		out.ClientID = next.ClientID
	}
	if next.ClientSecret != "" {
		out.ClientSecret = next.ClientSecret
	}
	if len(next.Scopes) > 0 {
		out.Scopes = next.Scopes
	}
	return out
}
