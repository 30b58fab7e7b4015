package watch

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/credential"
	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"github.com/pysugar/mail-watch-broker/internal/util"
	"golang.org/x/oauth2"
)

// Renewer keeps subscriptions alive by re-registering them before the
// provider expires them. Access tokens are refreshed from the stored refresh
// token and rotated tokens are written back.
type Renewer struct {
	registrar   *Registrar
	creds       credential.Store
	receipts    ReceiptStore
	interval    time.Duration
	renewBefore time.Duration
	timeout     time.Duration
	httpClient  *http.Client

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type RenewerConfig struct {
	Interval    time.Duration
	RenewBefore time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
}

func NewRenewer(registrar *Registrar, creds credential.Store, receipts ReceiptStore, cfg RenewerConfig) *Renewer {
	return &Renewer{
		registrar:   registrar,
		creds:       creds,
		receipts:    receipts,
		interval:    cfg.Interval,
		renewBefore: cfg.RenewBefore,
		timeout:     cfg.Timeout,
		httpClient:  cfg.HTTPClient,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the renewal loop in the background until Stop is called.
func (r *Renewer) Start() {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RenewDue(context.Background())
			case <-r.stop:
				return
			}
		}
	}()
	log.Printf("[Watch] Renewal loop started (interval: %s, renew before: %s)", r.interval, r.renewBefore)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (r *Renewer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

// RenewDue renews every subscription that is close to expiry or failed
// transiently, and returns how many succeeded.
func (r *Renewer) RenewDue(ctx context.Context) int {
	due, err := r.receipts.ListDue(ctx, time.Now().Add(r.renewBefore))
	if err != nil {
		log.Printf("[Watch] Failed to list due subscriptions: %v", err)
		return 0
	}

	renewed := 0
	for _, sub := range due {
		if _, err := r.Renew(ctx, sub.AccountID); err != nil {
			continue
		}
		renewed++
	}
	if len(due) > 0 {
		log.Printf("[Watch] Renewed %d/%d due subscriptions", renewed, len(due))
	}
	return renewed
}

// Renew refreshes the account's access token if needed and re-registers its watch.
func (r *Renewer) Renew(ctx context.Context, accountID string) (*models.WatchSubscription, error) {
	cred, err := r.creds.Load(ctx, accountID)
	if err != nil {
		log.Printf("[Watch] Cannot renew %s: %v", accountID, err)
		return nil, err
	}

	cred, err = r.refresh(ctx, accountID, cred)
	if err != nil {
		return nil, r.registrar.fail(ctx, accountID, "refresh token", err)
	}
	return r.registrar.Register(ctx, accountID, cred)
}

func (r *Renewer) refresh(ctx context.Context, accountID string, cred credential.Credential) (credential.Credential, error) {
	if cred.AccessToken != "" && cred.Expiry.After(time.Now().Add(time.Minute)) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return cred, failure.Newf(failure.TokenExchangeFailed, "refresh token", "no refresh token stored, reauthorization required").WithAccount(accountID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	tok, err := cred.OAuthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		fe := failure.New(failure.TokenExchangeFailed, "refresh token", err).WithAccount(accountID)
		if fe.Temporary {
			log.Printf("[Watch] Transient refresh failure for %s, will retry", accountID)
		} else {
			log.Printf("[Watch] Refresh token for %s rejected, reauthorization required", accountID)
		}
		return cred, fe
	}

	next := credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != cred.RefreshToken {
		log.Printf("[Watch] Rotating refresh token for %s (%s)", accountID, util.MaskSecret(tok.RefreshToken))
	}
	if err := r.creds.Save(ctx, accountID, next); err != nil {
		log.Printf("[Watch] Failed to persist refreshed token for %s: %v", accountID, err)
	}
	return credential.Merge(cred, next), nil
}
