package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
)

// HTTPClient performs stateless JSON-RPC calls against a node with failover support.
// It maintains a primary endpoint and switches to backup endpoints when the primary
// is unavailable.
type HTTPClient struct {
	httpClient     *http.Client
	primaryURL     string
	backupURLs     []string
	currentURL     string
	mu             sync.RWMutex
	nextID         atomic.Uint64
	healthChecker  *healthChecker
	failoverConfig FailoverConfig
}

// FailoverConfig controls failover behavior
type FailoverConfig struct {
	// MaxRetries is the number of times to retry a failed request on the current endpoint
	MaxRetries int
	// RetryDelay is the initial delay between retries (doubles with each retry)
	RetryDelay time.Duration
	// HealthCheckInterval is how often to check if the primary endpoint is back up
	HealthCheckInterval time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// DefaultFailoverConfig returns sensible defaults for failover behavior
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		Timeout:             10 * time.Second,
	}
}

type healthChecker struct {
	client    *HTTPClient
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewHTTPClient creates a client with the first url as primary and the rest as backups
func NewHTTPClient(urls []string, config FailoverConfig) (*HTTPClient, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no node http endpoints", models.ErrConnectionUnavailable)
	}
	if _, err := url.Parse(urls[0]); err != nil {
		return nil, fmt.Errorf("invalid primary node url %s: %w", urls[0], err)
	}

	validBackups := make([]string, 0, len(urls)-1)
	for _, u := range urls[1:] {
		if _, err := url.Parse(u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Invalid backup URL, skipping")
			continue
		}
		validBackups = append(validBackups, u)
	}

	client := &HTTPClient{
		httpClient:     &http.Client{Timeout: config.Timeout},
		primaryURL:     urls[0],
		backupURLs:     validBackups,
		currentURL:     urls[0],
		failoverConfig: config,
	}
	if len(validBackups) > 0 {
		client.healthChecker = &healthChecker{
			client:    client,
			stopCh:    make(chan struct{}),
			stoppedCh: make(chan struct{}),
		}
		go client.healthChecker.run()
	}

	log.Info().
		Str("primary", client.primaryURL).
		Int("backups", len(validBackups)).
		Msg("Node HTTP client initialized")
	return client, nil
}

func (h *healthChecker) run() {
	defer close(h.stoppedCh)
	ticker := time.NewTicker(h.client.failoverConfig.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkAndRestore()
		}
	}
}

// checkAndRestore moves back to the primary endpoint once it is healthy again
func (h *healthChecker) checkAndRestore() {
	current := h.client.getCurrentURL()
	if current == h.client.primaryURL {
		return
	}
	if h.client.isEndpointHealthy(context.Background(), h.client.primaryURL) {
		h.client.mu.Lock()
		h.client.currentURL = h.client.primaryURL
		h.client.mu.Unlock()
		log.Info().Str("url", h.client.primaryURL).Msg("Restored primary endpoint")
	}
}

func (c *HTTPClient) isEndpointHealthy(ctx context.Context, endpoint string) bool {
	var health struct {
		IsSyncing bool `json:"isSyncing"`
	}
	if err := c.post(ctx, endpoint, "system_health", nil, &health); err != nil {
		log.Debug().Err(err).Str("url", endpoint).Msg("Health check failed")
		return false
	}
	return !health.IsSyncing
}

func (c *HTTPClient) getCurrentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentURL
}

// failover switches to the next healthy endpoint
func (c *HTTPClient) failover(ctx context.Context) bool {
	c.mu.RLock()
	current := c.currentURL
	c.mu.RUnlock()

	allURLs := append([]string{c.primaryURL}, c.backupURLs...)
	currentIdx := 0
	for i, u := range allURLs {
		if u == current {
			currentIdx = i
			break
		}
	}
	for i := 1; i < len(allURLs); i++ {
		next := allURLs[(currentIdx+i)%len(allURLs)]
		if c.isEndpointHealthy(ctx, next) {
			c.mu.Lock()
			c.currentURL = next
			c.mu.Unlock()
			log.Info().Str("url", next).Msg("Failover to endpoint")
			return true
		}
	}
	log.Warn().Str("url", current).Msg("All endpoints unhealthy, staying on current")
	return false
}

// Close stops the health checker
func (c *HTTPClient) Close() {
	if c.healthChecker != nil {
		close(c.healthChecker.stopCh)
		<-c.healthChecker.stoppedCh
	}
}

func (c *HTTPClient) post(ctx context.Context, endpoint, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(payload))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Call performs a JSON-RPC request with retry and failover logic. Node side errors are
// returned as *RPCError without retrying.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any, result any) error {
	var lastErr error
	retryDelay := c.failoverConfig.RetryDelay

	for attempt := 0; attempt <= c.failoverConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		err := c.post(ctx, c.getCurrentURL(), method, params, result)
		if err == nil {
			return nil
		}
		if rpcErr, ok := err.(*RPCError); ok {
			return fmt.Errorf("%s: %w", method, rpcErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	if len(c.backupURLs) > 0 && c.failover(ctx) {
		if err := c.post(ctx, c.getCurrentURL(), method, params, result); err != nil {
			return fmt.Errorf("%s: failover request failed: %w (original: %v)", method, err, lastErr)
		}
		return nil
	}

	return fmt.Errorf("%s: %w: request failed after %d retries: %v",
		method, models.ErrConnectionUnavailable, c.failoverConfig.MaxRetries+1, lastErr)
}
