// Package identity provides an HTTP client for the external agent-identity
// registry, implementing the identity resolver port.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/verdikt-labs/verdikt/internal/resilience"
)

// Client talks to the identity registry's read API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a registry client for the given base URL. The breaker
// opens after maxFailures consecutive failures and half-opens after timeout.
func NewClient(baseURL string, maxFailures int, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: resilience.NewBreaker(maxFailures, timeout),
	}
}

type agentRecord struct {
	AgentID uint64 `json:"agent_id"`
	Owner   string `json:"owner"`
	Revoked bool   `json:"revoked"`
}

// OwnerOf returns the controlling account of an agent identifier, or an
// empty string when the registry does not know it.
func (c *Client) OwnerOf(ctx context.Context, agentID uint64) (string, error) {
	rec, err := c.getAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("owner of agent %d: %w", agentID, err)
	}
	if rec == nil {
		return "", nil
	}
	return rec.Owner, nil
}

// IsRevoked reports whether the agent identifier has been revoked. Unknown
// identifiers are treated as revoked.
func (c *Client) IsRevoked(ctx context.Context, agentID uint64) (bool, error) {
	rec, err := c.getAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("revocation check for agent %d: %w", agentID, err)
	}
	if rec == nil {
		return true, nil
	}
	return rec.Revoked, nil
}

// getAgent fetches an agent record; a 404 yields (nil, nil).
func (c *Client) getAgent(ctx context.Context, agentID uint64) (*agentRecord, error) {
	var rec *agentRecord

	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/agents/"+strconv.FormatUint(agentID, 10), nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("registry request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("registry status %d: %s", resp.StatusCode, body)
		}

		var r agentRecord
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return fmt.Errorf("decode agent record: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
