package credential

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/failure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = &MongoStore{}

// MongoStore keeps one document per account in the users collection.
// Every save is a single-document update, which MongoDB applies atomically.
type MongoStore struct {
	users *mongo.Collection
	locks *accountLocks
}

type mongoCredential struct {
	Token        string    `bson:"token"`
	RefreshToken string    `bson:"refresh_token"`
	TokenType    string    `bson:"token_type"`
	Expiry       time.Time `bson:"expiry"`
	TokenURI     string    `bson:"token_uri"`
	ClientID     string    `bson:"client_id"`
	ClientSecret string    `bson:"client_secret"`
	Scopes       []string  `bson:"scopes"`
}

type mongoUser struct {
	ID          string          `bson:"_id"`
	Email       string          `bson:"email"`
	Credentials mongoCredential `bson:"credentials"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{users: db.Collection("users"), locks: newAccountLocks()}
}

// credentialUpdate builds the $set document. Empty fields are left out so a
// re-authorization without a refresh token keeps the stored one.
func credentialUpdate(accountID string, c Credential, now time.Time) bson.M {
	set := bson.M{
		"email":      accountID,
		"updated_at": now,
	}
	put := func(key, val string) {
		if val != "" {
			set["credentials."+key] = val
		}
	}
	put("token", c.AccessToken)
	put("refresh_token", c.RefreshToken)
	put("token_type", c.TokenType)
	put("token_uri", c.TokenEndpoint)
	put("client_id", c.ClientID)
	put("client_secret", c.ClientSecret)
	if !c.Expiry.IsZero() {
		set["credentials.expiry"] = c.Expiry
	}
	if len(c.Scopes) > 0 {
		set["credentials.scopes"] = c.Scopes
	}
	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
}

func (s *MongoStore) Save(ctx context.Context, accountID string, cred Credential) error {
	unlock := s.locks.lock(accountID)
	defer unlock()

	update := credentialUpdate(accountID, cred, time.Now().UTC())
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": accountID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return failure.New(failure.CredentialPersistFailed, "save credential", err).WithAccount(accountID)
	}
	return nil
}

func (s *MongoStore) Load(ctx context.Context, accountID string) (Credential, error) {
	var doc mongoUser
	err := s.users.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Credential{}, failure.Newf(failure.NotFound, "load credential", "no credential stored").WithAccount(accountID)
	}
	if err != nil {
		return Credential{}, failure.New(failure.CredentialPersistFailed, "load credential", err).WithAccount(accountID)
	}
	c := doc.Credentials
	return Credential{
		AccessToken:   c.Token,
		RefreshToken:  c.RefreshToken,
		TokenType:     c.TokenType,
		Expiry:        c.Expiry,
		TokenEndpoint: c.TokenURI,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Scopes:        c.Scopes,
	}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.users.Database().Client().Ping(ctx, nil)
}
