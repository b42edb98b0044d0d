// Package shippo is the thin client surface for the shipping provider's
// webhook management API. Only the subscription endpoints are covered;
// tracking data arrives by webhook, never by poll.
package shippo

import (
	"context"

	"github.com/pkg/errors"
)

// ErrWebhookNotFound signals the provider no longer knows the subscription.
var ErrWebhookNotFound = errors.New("webhook not found")

// Webhook is one registered subscription on the provider side.
type Webhook struct {
	ObjectID string `json:"object_id,omitempty"`
	URL      string `json:"url"`
	Event    string `json:"event"`
	Active   bool   `json:"active"`
	IsTest   bool   `json:"is_test"`
}

// EventAll subscribes to every provider event; filtering happens in the
// gateway, not at the subscription.
const EventAll = "all"

type Client interface {
	CreateWebhook(ctx context.Context, w Webhook) (*Webhook, error)
	GetWebhook(ctx context.Context, objectID string) (*Webhook, error)
	DeleteWebhook(ctx context.Context, objectID string) error
}
