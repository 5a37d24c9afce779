package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client registers an agent process against a remote gateway's registry
// endpoints. Agents register on start and deregister on clean shutdown.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a registration client for the gateway at baseURL
// (e.g. "http://gateway:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Register announces info to the gateway. Retries are the caller's concern;
// an id conflict is a hard error.
func (c *Client) Register(ctx context.Context, info AgentInfo) error {
	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registry client: marshal registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/registry/agents", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry client: register %q: %w", info.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("registry client: register %q: status %d: %s",
			info.ID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Deregister removes the agent's registration. Best-effort on shutdown.
func (c *Client) Deregister(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/registry/agents/"+id, nil)
	if err != nil {
		return fmt.Errorf("registry client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry client: deregister %q: %w", id, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("registry client: deregister %q: status %d", id, resp.StatusCode)
	}
	return nil
}
