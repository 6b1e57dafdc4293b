package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the stackd daemon
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// TLSConfig is used for https base URLs; nil means system defaults.
	TLSConfig *tls.Config
	// Token is sent as a bearer token. Otherwise Username and Password are
	// sent as basic credentials when set.
	Token    string
	Username string
	Password string
}

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:7420/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 2 * time.Minute,
	}
}

// New creates a new stackd API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := &http.Client{Timeout: config.Timeout}
	if config.TLSConfig != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = config.TLSConfig
		hc.Transport = tr
	}
	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		client:   hc,
		token:    config.Token,
		username: config.Username,
		password: config.Password,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	State      *ServiceState
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsReachable checks if the daemon is running and reachable. An API error
// such as 401 still means the daemon answered.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/services", nil, nil)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// List returns the state of every service.
func (c *Client) List(ctx context.Context) ([]ServiceState, error) {
	var out []ServiceState
	err := c.do(ctx, http.MethodGet, "/services", nil, &out)
	return out, err
}

// Start starts a service. A nil override uses the daemon's persisted configuration.
func (c *Client) Start(ctx context.Context, id string, o *Override) (ServiceState, error) {
	return c.stateCall(ctx, "/services/"+url.PathEscape(id)+"/start", o)
}

// Stop stops a service.
func (c *Client) Stop(ctx context.Context, id string) (ServiceState, error) {
	return c.stateCall(ctx, "/services/"+url.PathEscape(id)+"/stop", nil)
}

// Restart restarts a service. A nil override uses the daemon's persisted configuration.
func (c *Client) Restart(ctx context.Context, id string, o *Override) (ServiceState, error) {
	return c.stateCall(ctx, "/services/"+url.PathEscape(id)+"/restart", o)
}

// ApplyConfig hands a configuration to the daemon without restarting the service.
func (c *Client) ApplyConfig(ctx context.Context, id string, o Override) (ServiceState, error) {
	return c.stateCall(ctx, "/services/"+url.PathEscape(id)+"/config", &o)
}

// Health runs a single probe and returns "ok" on success.
func (c *Client) Health(ctx context.Context, id string) (string, error) {
	var out healthResponse
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/health", nil, &out)
	return out.Status, err
}

// Logs returns the newest tail entries of a service; tail 0 means all buffered.
func (c *Client) Logs(ctx context.Context, id string, tail int) ([]LogEntry, error) {
	p := "/services/" + url.PathEscape(id) + "/logs"
	if tail > 0 {
		p += "?tail=" + strconv.Itoa(tail)
	}
	var out []LogEntry
	err := c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

// LogPath returns the log file of a service on the daemon host.
func (c *Client) LogPath(ctx context.Context, id string) (string, error) {
	var out pathResponse
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/logpath", nil, &out)
	return out.Path, err
}

// Usage samples CPU and memory of a live service.
func (c *Client) Usage(ctx context.Context, id string) (Usage, error) {
	var out Usage
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/usage", nil, &out)
	return out, err
}

// ExportLogs writes a filtered export on the daemon host and returns its path.
func (c *Client) ExportLogs(ctx context.Context, service, level string, limit int) (string, error) {
	q := url.Values{}
	if service != "" {
		q.Set("service", service)
	}
	if level != "" {
		q.Set("level", level)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out pathResponse
	err := c.do(ctx, http.MethodPost, withQuery("/logs/export", q), nil, &out)
	return out.Path, err
}

// ClearLogs clears one service's logs, or every service's when service is empty.
func (c *Client) ClearLogs(ctx context.Context, service string) error {
	q := url.Values{}
	if service != "" {
		q.Set("service", service)
	}
	return c.do(ctx, http.MethodDelete, withQuery("/logs", q), nil, nil)
}

// Tick runs one supervision pass.
func (c *Client) Tick(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/tick", nil, nil)
}

// Snapshot returns host usage and the ports of live services.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.do(ctx, http.MethodGet, "/snapshot", nil, &out)
	return out, err
}

func (c *Client) stateCall(ctx context.Context, path string, o *Override) (ServiceState, error) {
	var body []byte
	if o != nil {
		data, err := json.Marshal(o)
		if err != nil {
			return ServiceState{}, fmt.Errorf("marshal override: %w", err)
		}
		body = data
	}
	var out ServiceState
	err := c.do(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// Login exchanges the configured username and password for a bearer token.
func (c *Client) Login(ctx context.Context) (Token, error) {
	var out Token
	if c.username == "" {
		return out, errors.New("login requires a username")
	}
	err := c.do(ctx, http.MethodPost, "/auth/token", nil, &out)
	return out, err
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

// do performs an HTTP request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
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
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error, State: errorResp.State}
}
