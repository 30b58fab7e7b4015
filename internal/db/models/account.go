package models

import "time"

// Account stores the OAuth credential set of one mailbox, keyed by its email address.
type Account struct {
	ID            string `gorm:"primaryKey"` // email address as reported by the profile lookup
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scopes        string // space separated granted scopes
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
