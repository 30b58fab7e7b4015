package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/mail-watch-broker/internal/db/models"
	"github.com/pysugar/mail-watch-broker/internal/failure"
	"github.com/pysugar/mail-watch-broker/internal/logging"
)

// ReceiptLister lists recorded watch subscriptions.
type ReceiptLister interface {
	List(ctx context.Context) ([]models.WatchSubscription, error)
}

// WatchRenewer renews one account's watch on demand.
type WatchRenewer interface {
	Renew(ctx context.Context, accountID string) (*models.WatchSubscription, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type watchView struct {
	AccountID  string     `json:"account_id"`
	Topic      string     `json:"topic"`
	Labels     string     `json:"labels"`
	HistoryID  uint64     `json:"history_id,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	Status     string     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	Retryable  bool       `json:"retryable"`
	RenewedAt  *time.Time `json:"renewed_at,omitempty"`
}

func toView(s models.WatchSubscription) watchView {
	v := watchView{
		AccountID: s.AccountID,
		Topic:     s.Topic,
		Labels:    s.LabelIDs,
		HistoryID: s.HistoryID,
		Status:    s.Status,
		LastError: s.LastError,
		Retryable: s.Retryable,
	}
	if !s.Expiration.IsZero() {
		exp := s.Expiration
		v.Expiration = &exp
	}
	if !s.RenewedAt.IsZero() {
		at := s.RenewedAt
		v.RenewedAt = &at
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WatchesHandler lists every watch receipt.
func WatchesHandler(receipts ReceiptLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := receipts.List(r.Context())
		if err != nil {
			log.Printf("%s[Admin] Failed to list watches: %v", logging.Prefix(r.Context()), err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list watches"})
			return
		}
		views := make([]watchView, 0, len(subs))
		for _, s := range subs {
			views = append(views, toView(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{"watches": views})
	}
}

// RenewWatchHandler refreshes the account's token and re-registers its watch.
func RenewWatchHandler(renewer WatchRenewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := chi.URLParam(r, "account")
		sub, err := renewer.Renew(r.Context(), account)
		if err != nil {
			status := http.StatusBadGateway
			if failure.Is(err, failure.NotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]any{
				"error":     failure.Public(err),
				"retryable": failure.IsTemporary(err),
			})
			return
		}
		writeJSON(w, http.StatusOK, toView(*sub))
	}
}

// HealthHandler reports whether the credential store is reachable.
func HealthHandler(store Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Printf("%s[Health] Store unreachable: %v", logging.Prefix(ctx), err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
