// Package mailbox wraps the Gmail REST calls the broker needs.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const me = "me"

// WatchRequest asks for change notifications on the given labels.
type WatchRequest struct {
	TopicName string
	LabelIDs  []string
}

// WatchResponse is the provider's subscription receipt.
type WatchResponse struct {
	HistoryID  uint64
	Expiration time.Time
}

// Client talks to the Gmail API on behalf of one token at a time.
type Client struct {
	opts []option.ClientOption
}

// NewClient accepts extra options, e.g. option.WithEndpoint in tests.
func NewClient(opts ...option.ClientOption) *Client {
	return &Client{opts: opts}
}

func (c *Client) service(ctx context.Context, ts oauth2.TokenSource) (*gmail.Service, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// EmailAddress returns the address of the mailbox that owns ts.
func (c *Client) EmailAddress(ctx context.Context, ts oauth2.TokenSource) (string, error) {
	svc, err := c.service(ctx, ts)
	if err != nil {
		return "", err
	}
	profile, err := svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("users.getProfile: %w", err)
	}
	return profile.EmailAddress, nil
}

// Watch registers (or renews) push notifications for the mailbox. Gmail
// treats a repeat call on a watched mailbox as a renewal.
func (c *Client) Watch(ctx context.Context, ts oauth2.TokenSource, req WatchRequest) (WatchResponse, error) {
	svc, err := c.service(ctx, ts)
	if err != nil {
		return WatchResponse{}, err
	}
	resp, err := svc.Users.Watch(me, &gmail.WatchRequest{
		TopicName:           req.TopicName,
		LabelIds:            req.LabelIDs,
		LabelFilterBehavior: "include",
	}).Context(ctx).Do()
	if err != nil {
		return WatchResponse{}, fmt.Errorf("users.watch: %w", err)
	}
	return WatchResponse{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}
