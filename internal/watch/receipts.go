package watch

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptStore records the outcome of watch registrations.
type ReceiptStore interface {
	// SaveReceipt upserts an active subscription.
	SaveReceipt(ctx context.Context, sub models.WatchSubscription) error
	// MarkFailed records a failed attempt without discarding the expiration
	// of a subscription that may still be live.
	MarkFailed(ctx context.Context, sub models.WatchSubscription) error
	Get(ctx context.Context, accountID string) (models.WatchSubscription, error)
	List(ctx context.Context) ([]models.WatchSubscription, error)
	// ListDue returns active subscriptions expiring before the cutoff and
	// failed ones whose failure was transient.
	ListDue(ctx context.Context, before time.Time) ([]models.WatchSubscription, error)
}

// GormReceipts stores receipts in the watch_subscriptions table.
type GormReceipts struct {
	db *gorm.DB
}

func NewGormReceipts(db *gorm.DB) *GormReceipts {
	return &GormReceipts{db: db}
}

func (s *GormReceipts) SaveReceipt(ctx context.Context, sub models.WatchSubscription) error {
	sub.LastError = ""
	sub.Retryable = false
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"topic", "label_ids", "history_id", "expiration", "status", "last_error", "retryable", "renewed_at", "updated_at",
		}),
	}).Create(&sub).Error
}

func (s *GormReceipts) MarkFailed(ctx context.Context, sub models.WatchSubscription) error {
	sub.Status = models.WatchStatusFailed
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_error", "retryable", "updated_at"}),
	}).Create(&sub).Error
}

func (s *GormReceipts) Get(ctx context.Context, accountID string) (models.WatchSubscription, error) {
	var sub models.WatchSubscription
	err := s.db.WithContext(ctx).First(&sub, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, failure.Newf(failure.NotFound, "load watch", "no watch recorded").WithAccount(accountID)
	}
	return sub, err
}

func (s *GormReceipts) List(ctx context.Context) ([]models.WatchSubscription, error) {
	var subs []models.WatchSubscription
	err := s.db.WithContext(ctx).Order("account_id").Find(&subs).Error
	return subs, err
}

func (s *GormReceipts) ListDue(ctx context.Context, before time.Time) ([]models.WatchSubscription, error) {
	var subs []models.WatchSubscription
	err := s.db.WithContext(ctx).
		Where("(status = ? AND expiration < ?) OR (status = ? AND retryable = ?)",
			models.WatchStatusActive, before, models.WatchStatusFailed, true).
		Order("expiration").
		Find(&subs).Error
	return subs, err
}
