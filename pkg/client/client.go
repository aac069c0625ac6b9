// Package client talks to a botregistry daemon over its HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

var (
	// ErrNotFound is returned when the daemon has no such bot record or no
	// completed run.
	ErrNotFound = errors.New("not found")
	// ErrRunInProgress is returned when a triggered run collides with an active one.
	ErrRunInProgress = errors.New("registry run already in progress")
)

// Client provides HTTP client functionality to communicate with the botregistry daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Timeout bounds every request except TriggerRun with wait, which is
	// bounded by its context only.
	Timeout time.Duration
	Logger  *slog.Logger
	TLS     *TLSClientConfig
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a botregistry API client. A TLS setup error is returned rather
// than falling back to an unverified connection.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil {
		tlsConfig, err := setupClientTLS(*config.TLS)
		if err != nil {
			return nil, fmt.Errorf("client tls: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Transport: transport, Timeout: config.Timeout},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, c.client, http.MethodGet, "/health", nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return true
}

// State returns the controller state.
func (c *Client) State(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, c.client, http.MethodGet, "/state", &st)
	return st, err
}

// TriggerRun starts a registry run. With wait the call blocks until the run
// completes and returns its summary; otherwise the summary is zero.
func (c *Client) TriggerRun(ctx context.Context, wait bool) (RunSummary, error) {
	var sum RunSummary
	if !wait {
		return sum, c.do(ctx, c.client, http.MethodPost, "/runs", nil)
	}
	c.logger.Debug("Triggering registry run", "url", c.baseURL)
	// a run may take far longer than the request timeout
	long := *c.client
	long.Timeout = 0
	err := c.do(ctx, &long, http.MethodPost, "/runs?wait=true", &sum)
	return sum, err
}

// LastRun returns the summary of the most recent completed run.
func (c *Client) LastRun(ctx context.Context) (RunSummary, error) {
	var sum RunSummary
	err := c.do(ctx, c.client, http.MethodGet, "/runs/last", &sum)
	return sum, err
}

// ListBots returns every integrity record.
func (c *Client) ListBots(ctx context.Context) ([]BotRecord, error) {
	var recs []BotRecord
	err := c.do(ctx, c.client, http.MethodGet, "/bots", &recs)
	return recs, err
}

// GetBot returns one bot's integrity record.
func (c *Client) GetBot(ctx context.Context, name string) (BotRecord, error) {
	var rec BotRecord
	err := c.do(ctx, c.client, http.MethodGet, "/bots/"+url.PathEscape(name), &rec)
	return rec, err
}

// ForgetBot removes a bot's integrity baseline.
func (c *Client) ForgetBot(ctx context.Context, name string) error {
	c.logger.Debug("Forgetting bot", "name", name)
	return c.do(ctx, c.client, http.MethodDelete, "/bots/"+url.PathEscape(name), nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config TLSClientConfig) (*tls.Config, error) {
	// #nosec G402 SkipVerify is an explicit operator choice
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         config.ServerName,
		InsecureSkipVerify: config.SkipVerify,
	}
	if config.CACert != "" {
		if err := loadCACert(tlsConfig, config.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.ClientCert != "" && config.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCert, config.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// handleErrorResponse maps an error status to an error, keeping the daemon's message.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrRunInProgress
	}

	var errorResp ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(b, &errorResp); err != nil || errorResp.Error == "" {
		if sentinel != nil {
			return fmt.Errorf("HTTP %d: %w", resp.StatusCode, sentinel)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, errorResp.Error)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
