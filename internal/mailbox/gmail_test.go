package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
}

var testToken = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"})

func TestEmailAddress(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/profile" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"emailAddress":"user@x.com","historyId":"42"}`))
	})

	email, err := client.EmailAddress(context.Background(), testToken)
	if err != nil {
		t.Fatalf("EmailAddress() error = %v", err)
	}
	if email != "user@x.com" {
		t.Fatalf("email = %q", email)
	}
}

func TestWatch(t *testing.T) {
	expiration := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Millisecond)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/gmail/v1/users/me/watch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["topicName"] != "projects/p/topics/gmail-notifications" {
			t.Errorf("topicName = %v", body["topicName"])
		}
		labels, _ := body["labelIds"].([]any)
		if len(labels) != 1 || labels[0] != "INBOX" {
			t.Errorf("labelIds = %v", body["labelIds"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"historyId":  "1234",
			"expiration": strconv.FormatInt(expiration.UnixMilli(), 10),
		})
	})

	resp, err := client.Watch(context.Background(), testToken, WatchRequest{
		TopicName: "projects/p/topics/gmail-notifications",
		LabelIDs:  []string{"INBOX"},
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if resp.HistoryID != 1234 {
		t.Fatalf("HistoryID = %d", resp.HistoryID)
	}
	if !resp.Expiration.Equal(expiration) {
		t.Fatalf("Expiration = %v, want %v", resp.Expiration, expiration)
	}
}

func TestWatchProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"User not authorized to perform this action."}}`))
	})

	_, err := client.Watch(context.Background(), testToken, WatchRequest{TopicName: "t"})
	var ge *googleapi.Error
	if !errors.As(err, &ge) || ge.Code != http.StatusForbidden {
		t.Fatalf("expected googleapi 403, got %v", err)
	}
}
