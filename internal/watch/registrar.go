// Package watch registers and renews mailbox change notifications.
package watch

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/mail-watch-broker/internal/alerts"
	"github.com/pysugar/mail-watch-broker/internal/credential"
	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"github.com/pysugar/mail-watch-broker/internal/mailbox"
	"github.com/pysugar/mail-watch-broker/internal/util"
	"golang.org/x/oauth2"
)

const (
	maxErrorLen    = 512
	defaultTimeout = 15 * time.Second
)

// Mailbox issues the provider watch call.
type Mailbox interface {
	Watch(ctx context.Context, ts oauth2.TokenSource, req mailbox.WatchRequest) (mailbox.WatchResponse, error)
}

// Registrar subscribes accounts to change notifications on a fixed topic.
type Registrar struct {
	mailbox    Mailbox
	receipts   ReceiptStore
	notifier   alerts.Notifier
	topic      string
	labels     []string
	timeout    time.Duration
	httpClient *http.Client
}

type RegistrarConfig struct {
	Topic   string
	Labels  []string
	Timeout time.Duration
	// HTTPClient is used when the stored access token must be refreshed.
	HTTPClient *http.Client
}

func NewRegistrar(mb Mailbox, receipts ReceiptStore, notifier alerts.Notifier, cfg RegistrarConfig) *Registrar {
	if notifier == nil {
		notifier = alerts.LogNotifier{}
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = []string{"INBOX"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registrar{
		mailbox:    mb,
		receipts:   receipts,
		notifier:   notifier,
		topic:      cfg.Topic,
		labels:     labels,
		timeout:    timeout,
		httpClient: cfg.HTTPClient,
	}
}

// Register requests notifications for the account's mailbox and records the
// receipt. Calling it again on a watched account renews the subscription.
// A failure is recorded and reported to the operator; it never touches the
// stored credential.
func (r *Registrar) Register(ctx context.Context, accountID string, cred credential.Credential) (*models.WatchSubscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.httpClient != nil {
		callCtx = context.WithValue(callCtx, oauth2.HTTPClient, r.httpClient)
	}

	ts := cred.OAuthConfig().TokenSource(callCtx, cred.Token())
	resp, err := r.mailbox.Watch(callCtx, ts, mailbox.WatchRequest{TopicName: r.topic, LabelIDs: r.labels})
	if err != nil {
		return nil, r.fail(ctx, accountID, "watch", err)
	}

	sub := models.WatchSubscription{
		AccountID:  accountID,
		Topic:      r.topic,
		LabelIDs:   strings.Join(r.labels, ","),
		HistoryID:  resp.HistoryID,
		Expiration: resp.Expiration,
		Status:     models.WatchStatusActive,
		RenewedAt:  time.Now(),
	}
	if err := r.saveReceipt(ctx, sub); err != nil {
		return nil, r.fail(ctx, accountID, "record receipt", err)
	}

	log.Printf("[Watch] Registered %s on %s (history %d, expires %s)", accountID, r.topic, resp.HistoryID, resp.Expiration.Format(time.RFC3339))
	return &sub, nil
}

func (r *Registrar) saveReceipt(ctx context.Context, sub models.WatchSubscription) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.receipts.SaveReceipt(ctx, sub)
}

// fail records and reports a failed registration. The record is written even
// when ctx is already cancelled, e.g. by a browser that left mid-callback, so
// the renewal loop can pick the account up later.
func (r *Registrar) fail(ctx context.Context, accountID, step string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	fe := failure.New(failure.WatchSetupFailed, step, cause).WithAccount(accountID)
	var inner *failure.Error
	if errors.As(cause, &inner) {
		// Keep the classification of an already typed cause, e.g. a refresh failure.
		fe.Temporary, fe.TimedOut = inner.Temporary, inner.TimedOut
	}
	detail := util.TruncateLog(cause.Error(), maxErrorLen)
	log.Printf("[Watch] Setup failed for %s at %s: %s", accountID, step, detail)

	if step != "record receipt" {
		failed := models.WatchSubscription{
			AccountID: accountID,
			Topic:     r.topic,
			LabelIDs:  strings.Join(r.labels, ","),
			Status:    models.WatchStatusFailed,
			LastError: detail,
			Retryable: fe.Temporary,
		}
		markCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.receipts.MarkFailed(markCtx, failed)
		cancel()
		if err != nil {
			log.Printf("[Watch] Could not record failure for %s: %v", accountID, err)
		}
	}

	r.notifier.Notify(ctx, alerts.Alert{
		Kind:      failure.WatchSetupFailed.String(),
		AccountID: accountID,
		Step:      step,
		Message:   detail,
		Temporary: fe.Temporary,
		At:        time.Now(),
	})
	return fe
}
