package credential

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"gorm.io/gorm"
)

// GormStore keeps credentials in the accounts table.
type GormStore struct {
	db    *gorm.DB
	locks *accountLocks
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, locks: newAccountLocks()}
}

func (s *GormStore) Save(ctx context.Context, accountID string, cred Credential) error {
	unlock := s.locks.lock(accountID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Account
		err := tx.First(&existing, "id = ?", accountID).Error
		switch {
		case err == nil:
			merged := Merge(fromModel(existing), cred)
			if existing.RefreshToken != "" && cred.RefreshToken == "" {
				log.Printf("[Credential] Provider omitted refresh token for %s, keeping stored one", accountID)
			}
			row := toModel(accountID, merged)
			row.CreatedAt = existing.CreatedAt
			return tx.Save(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := toModel(accountID, cred)
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	if err != nil {
		return failure.New(failure.CredentialPersistFailed, "save credential", err).WithAccount(accountID)
	}
	return nil
}

func (s *GormStore) Load(ctx context.Context, accountID string) (Credential, error) {
	var row models.Account
	err := s.db.WithContext(ctx).First(&row, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, failure.Newf(failure.NotFound, "load credential", "no credential stored").WithAccount(accountID)
	}
	if err != nil {
		return Credential{}, failure.New(failure.CredentialPersistFailed, "load credential", err).WithAccount(accountID)
	}
	return fromModel(row), nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toModel(accountID string, c Credential) models.Account {
	return models.Account{
		ID:            accountID,
		AccessToken:   c.AccessToken,
		RefreshToken:  c.RefreshToken,
		TokenType:     c.TokenType,
		Expiry:        c.Expiry,
		TokenEndpoint: c.TokenEndpoint,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Scopes:        strings.Join(c.Scopes, " "),
	}
}

func fromModel(a models.Account) Credential {
	return Credential{
		AccessToken:   a.AccessToken,
		RefreshToken:  a.RefreshToken,
		TokenType:     a.TokenType,
		Expiry:        a.Expiry,
		TokenEndpoint: a.TokenEndpoint,
		ClientID:      a.ClientID,
		ClientSecret:  a.ClientSecret,
		Scopes:        strings.Fields(a.Scopes),
	}
}
