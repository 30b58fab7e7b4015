package watch

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ ReceiptStore = &MongoReceipts{}

// MongoReceipts stores receipts in the watches collection, one document per account.
type MongoReceipts struct {
	watches *mongo.Collection
}

type mongoReceipt struct {
	AccountID  string    `bson:"_id"`
	Topic      string    `bson:"topic"`
	LabelIDs   string    `bson:"label_ids"`
	HistoryID  uint64    `bson:"history_id"`
	Expiration time.Time `bson:"expiration"`
	Status     string    `bson:"status"`
	LastError  string    `bson:"last_error"`
	Retryable  bool      `bson:"retryable"`
	RenewedAt  time.Time `bson:"renewed_at"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func NewMongoReceipts(db *mongo.Database) *MongoReceipts {
	return &MongoReceipts{watches: db.Collection("watches")}
}

func (s *MongoReceipts) SaveReceipt(ctx context.Context, sub models.WatchSubscription) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"topic":      sub.Topic,
			"label_ids":  sub.LabelIDs,
			"history_id": sub.HistoryID,
			"expiration": sub.Expiration,
			"status":     models.WatchStatusActive,
			"last_error": "",
			"retryable":  false,
			"renewed_at": sub.RenewedAt,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := s.watches.UpdateOne(ctx, bson.M{"_id": sub.AccountID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoReceipts) MarkFailed(ctx context.Context, sub models.WatchSubscription) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"status":     models.WatchStatusFailed,
			"last_error": sub.LastError,
			"retryable":  sub.Retryable,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"topic":      sub.Topic,
			"label_ids":  sub.LabelIDs,
			"created_at": now,
		},
	}
	_, err := s.watches.UpdateOne(ctx, bson.M{"_id": sub.AccountID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoReceipts) Get(ctx context.Context, accountID string) (models.WatchSubscription, error) {
	var doc mongoReceipt
	err := s.watches.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.WatchSubscription{}, failure.Newf(failure.NotFound, "load watch", "no watch recorded").WithAccount(accountID)
	}
	if err != nil {
		return models.WatchSubscription{}, err
	}
	return doc.model(), nil
}

func (s *MongoReceipts) List(ctx context.Context) ([]models.WatchSubscription, error) {
	return s.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *MongoReceipts) ListDue(ctx context.Context, before time.Time) ([]models.WatchSubscription, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": models.WatchStatusActive, "expiration": bson.M{"$lt": before}},
		bson.M{"status": models.WatchStatusFailed, "retryable": true},
	}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "expiration", Value: 1}}))
}

func (s *MongoReceipts) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.WatchSubscription, error) {
	cur, err := s.watches.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []mongoReceipt
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	subs := make([]models.WatchSubscription, 0, len(docs))
	for _, d := range docs {
		subs = append(subs, d.model())
	}
	return subs, nil
}

func (d mongoReceipt) model() models.WatchSubscription {
	return models.WatchSubscription{
		AccountID:  d.AccountID,
		Topic:      d.Topic,
		LabelIDs:   d.LabelIDs,
		HistoryID:  d.HistoryID,
		Expiration: d.Expiration,
		Status:     d.Status,
		LastError:  d.LastError,
		Retryable:  d.Retryable,
		RenewedAt:  d.RenewedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
