// Package shippohttp talks to the real provider API. The token decides the
// environment; test and live share the same base URL.
package shippohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/shippo"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.goshippo.com/v1"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CreateWebhook(ctx context.Context, w shippo.Webhook) (*shippo.Webhook, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "marshal webhook")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/webhooks/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doWebhook(req)
}

func (c *Client) GetWebhook(ctx context.Context, objectID string) (*shippo.Webhook, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/webhooks/"+url.PathEscape(objectID), nil)
	if err != nil {
		return nil, err
	}
	return c.doWebhook(req)
}

func (c *Client) DeleteWebhook(ctx context.Context, objectID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(objectID), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	// 404 on delete means the provider already forgot it.
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("provider http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "ShippoToken "+c.token)
	return req, nil
}

func (c *Client) doWebhook(req *http.Request) (*shippo.Webhook, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, shippo.ErrWebhookNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("provider http %d", resp.StatusCode)
	}

	var w shippo.Webhook
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &w, nil
}
