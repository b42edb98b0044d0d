package models

import "time"

// WebhookSubscription is one tenant's registration with the shipping
// provider: which provider-side webhook object delivers into our gateway.
type WebhookSubscription struct {
	CompanyID       string
	WebhookObjectID string
	URL             string
	Active          bool
	IsTest          bool
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
