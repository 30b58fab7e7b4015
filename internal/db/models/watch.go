package models

import "time"

const (
	WatchStatusActive = "active"
	WatchStatusFailed = "failed"
)

// WatchSubscription is the receipt of the latest push-notification
// registration for an account.
type WatchSubscription struct {
	AccountID  string `gorm:"primaryKey"`
	Topic      string
	LabelIDs   string // comma separated
	HistoryID  uint64
	Expiration time.Time
	Status     string `gorm:"index"`
	LastError  string
	Retryable  bool
	RenewedAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
