// Package persist pushes completion records to an external content-management
// endpoint. It is the only collaborator the gate engine blocks on; everything
// else in the service is cookie-borne.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pewstudio/accessgate/internal/model"
)

// ErrNotConfigured is returned when the collaborator is required but no
// endpoint or credentials are configured. Misconfiguration fails closed.
var ErrNotConfigured = errors.New("persist: completion endpoint not configured")

const defaultTimeout = 10 * time.Second

// Config holds the collaborator's endpoint and credentials.
type Config struct {
	Endpoint string
	User     string
	Pass     string
	Required bool
}

// Client posts completion records with basic auth. A nil-configured client
// (no endpoint, not required) is a no-op success.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client. httpClient may be nil to use a default with a
// bounded timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Configured reports whether an endpoint and credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.Endpoint != "" && c.cfg.User != "" && c.cfg.Pass != ""
}

// PersistCompletion pushes the record. Unconfigured: nil unless required.
// Any non-2xx response or transport failure is an error; the caller treats
// it as a hard failure blocking the completion transition.
func (c *Client) PersistCompletion(ctx context.Context, rec model.CompletionRecord) error {
	if !c.Configured() {
		if c.cfg.Required {
			return ErrNotConfigured
		}
		return nil
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal completion record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.Pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push completion record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}
	return nil
}
