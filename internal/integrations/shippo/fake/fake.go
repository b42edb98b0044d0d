// Package fake is an in-memory provider for local runs and tests: no
// network, deterministic object ids.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/ShipSync/internal/integrations/shippo"
)

type FakeClient struct {
	mu       sync.Mutex
	webhooks map[string]shippo.Webhook
}

func New() *FakeClient {
	return &FakeClient{webhooks: map[string]shippo.Webhook{}}
}

func (f *FakeClient) CreateWebhook(ctx context.Context, w shippo.Webhook) (*shippo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := fnv.New32a()
	_, _ = h.Write([]byte(w.URL))
	w.ObjectID = fmt.Sprintf("wh_%08x", h.Sum32())
	w.Active = true

	f.webhooks[w.ObjectID] = w
	cp := w
	return &cp, nil
}

func (f *FakeClient) GetWebhook(ctx context.Context, objectID string) (*shippo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.webhooks[objectID]
	if !ok {
		return nil, shippo.ErrWebhookNotFound
	}
	cp := w
	return &cp, nil
}

func (f *FakeClient) DeleteWebhook(ctx context.Context, objectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.webhooks, objectID)
	return nil
}
