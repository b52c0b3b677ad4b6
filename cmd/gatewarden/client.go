package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient provides HTTP client functionality to communicate with the
// gatewarden daemon.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8481/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *APIClient) do(method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("API error: status %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Healthz fetches the health-gate view of the local state directory.
func (c *APIClient) Healthz() (map[string]any, error) {
	var out map[string]any
	// healthz reports unhealthy via 503 with a JSON body, not an API error
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureGateway asks the daemon to start the gateway if it is not running.
func (c *APIClient) EnsureGateway() error {
	return c.do(http.MethodPost, "/gateway/ensure", nil, nil)
}

// GatewayProcess fetches the discovered gateway process, if any.
func (c *APIClient) GatewayProcess() (map[string]any, error) {
	var out map[string]any
	if err := c.do(http.MethodGet, "/gateway/process", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RestartGateway kills and relaunches the gateway.
func (c *APIClient) RestartGateway() (map[string]any, error) {
	var out map[string]any
	if err := c.do(http.MethodPost, "/gateway/restart", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sync triggers a state sync to the durable volume.
func (c *APIClient) Sync() (map[string]any, error) {
	var out map[string]any
	if err := c.do(http.MethodPost, "/sync", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Backups lists versioned and golden backups, keyed by namespace.
func (c *APIClient) Backups() (map[string][]map[string]any, error) {
	var out map[string][]map[string]any
	if err := c.do(http.MethodGet, "/backups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GoldenBackup takes a manual full snapshot.
func (c *APIClient) GoldenBackup() (map[string]any, error) {
	var out map[string]any
	if err := c.do(http.MethodPost, "/backups/golden", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Restore replaces the live state from the named backup in the given
// namespace (versioned or golden).
func (c *APIClient) Restore(kind, name string) error {
	return c.do(http.MethodPost, "/backups/restore", map[string]string{"kind": kind, "name": name}, nil)
}
