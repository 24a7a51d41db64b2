// Package compute talks to the compute agent that provisions and reclaims
// the actual server resources.
package compute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orbitpanel/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const apiKeyHeader = "X-Agent-Key"

// AgentClient implements billing.ServerLifecycle against the compute agent's
// HTTP API.
type AgentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAgentClient creates a new compute agent client
func NewAgentClient(cfg config.ComputeConfig, logger *zap.Logger) (*AgentClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("compute agent base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &AgentClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// DeleteServer tears down a server on the agent. A 404 from the agent counts
// as success so retried teardowns stay idempotent.
func (c *AgentClient) DeleteServer(ctx context.Context, serverID uuid.UUID) error {
	url := fmt.Sprintf("%s/v1/servers/%s", c.baseURL, serverID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("compute agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info("Server deleted on compute agent",
			zap.String("server_id", serverID.String()))
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already gone; a retried teardown must not fail here.
		c.logger.Debug("Server already absent on compute agent",
			zap.String("server_id", serverID.String()))
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("compute agent returned %d: %s", resp.StatusCode, string(body))
	}
}
