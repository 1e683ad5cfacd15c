package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	neturl "net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/httpclient"
	"github.com/wuTims/tau2-bench-agent/pkg/metrics"
)

// ============================================================================
// PROTOCOL CLIENT
// Discovery plus message/send against a remote agent endpoint. One Client is
// built per endpoint configuration; its pooled http.Client is safe for
// concurrent use across task sessions.
// ============================================================================

// Client speaks the agent protocol against a single endpoint.
type Client struct {
	cfg      ClientConfig
	client   *http.Client
	recorder *metrics.Recorder
	counter  *metrics.TokenCounter
	logger   *slog.Logger

	mu   sync.Mutex
	card *AgentCard
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTokenCounter installs a model tokenizer for metric token counts.
// Without one, counts fall back to a character estimate.
func WithTokenCounter(tc *metrics.TokenCounter) ClientOption {
	return func(c *Client) {
		c.counter = tc
	}
}

// WithRecorder shares an external metrics recorder.
func WithRecorder(rec *metrics.Recorder) ClientOption {
	return func(c *Client) {
		c.recorder = rec
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient validates the configuration and builds a client for its endpoint.
func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		recorder: metrics.NewRecorder(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout()}
		if !cfg.VerifySSL {
			transport, err := httpclient.ConfigureTLS(&httpclient.TLSConfig{InsecureSkipVerify: true})
			if err != nil {
				return nil, fmt.Errorf("failed to configure TLS: %w", err)
			}
			c.logger.Warn("TLS certificate verification disabled", "endpoint", cfg.Endpoint)
			c.client.Transport = transport
		}
	}

	return c, nil
}

// Endpoint returns the configured agent endpoint.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// Recorder exposes the client's metrics recorder.
func (c *Client) Recorder() *metrics.Recorder {
	return c.recorder
}

// Metrics returns a snapshot of all request metrics collected so far.
func (c *Client) Metrics() []*metrics.Request {
	return c.recorder.Snapshot()
}

// ClearMetrics discards collected request metrics.
func (c *Client) ClearMetrics() {
	c.recorder.Clear()
}

// Card returns the agent card cached by a prior Discover, or nil when
// discovery has not run yet.
func (c *Client) Card() *AgentCard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.card
}

// Close releases pooled connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// ============================================================================
// DISCOVERY
// ============================================================================

// Discover fetches and caches the agent card from the well-known path.
func (c *Client) Discover(ctx context.Context) (*AgentCard, error) {
	c.mu.Lock()
	if c.card != nil {
		card := c.card
		c.mu.Unlock()
		return card, nil
	}
	c.mu.Unlock()

	url := c.cfg.Endpoint + AgentCardPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	c.setHeaders(req)

	c.logger.Debug("Discovering agent", "endpoint", c.cfg.Endpoint)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Agent discovery failed", "endpoint", c.cfg.Endpoint, "error", err)
		return nil, &DiscoveryError{Kind: DiscoveryUnreachable, Endpoint: c.cfg.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Agent discovery returned error status",
			"endpoint", c.cfg.Endpoint, "status_code", resp.StatusCode)
		return nil, &DiscoveryError{Kind: DiscoveryHTTPStatus, Endpoint: c.cfg.Endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DiscoveryError{Kind: DiscoveryUnreachable, Endpoint: c.cfg.Endpoint, Err: err}
	}

	var card AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		c.logger.Error("Failed to parse agent card", "endpoint", c.cfg.Endpoint, "error", err)
		return nil, &DiscoveryError{Kind: DiscoveryMalformed, Endpoint: c.cfg.Endpoint, Err: err}
	}
	if card.Name == "" {
		return nil, &DiscoveryError{
			Kind:     DiscoveryMalformed,
			Endpoint: c.cfg.Endpoint,
			Err:      errors.New("agent card has no name"),
		}
	}
	if u, err := neturl.Parse(card.URL); err != nil || !u.IsAbs() {
		return nil, &DiscoveryError{
			Kind:     DiscoveryMalformed,
			Endpoint: c.cfg.Endpoint,
			Err:      fmt.Errorf("agent card url %q is not absolute", card.URL),
		}
	}

	c.mu.Lock()
	c.card = &card
	c.mu.Unlock()

	c.logger.Info("Discovered agent",
		"agent_name", card.Name,
		"agent_version", card.Version,
		"endpoint", c.cfg.Endpoint)

	return &card, nil
}

// ============================================================================
// MESSAGE SEND
// ============================================================================

// Send posts one message/send call and normalises the reply. The returned
// metric is always populated, including on failure, and is also appended to
// the client's recorder. The string result is the context ID issued or
// echoed by the server.
func (c *Client) Send(ctx context.Context, msg *Message) (*Message, string, *metrics.Request, error) {
	requestID := uuid.NewString()
	metric := metrics.NewRequest(requestID, c.cfg.Endpoint, http.MethodPost)
	metric.InputTokens = c.counter.Count(msg.TextContent())
	metric.ContextID = msg.ContextID

	params, err := json.Marshal(MessageSendParams{Message: *msg})
	if err != nil {
		metric.Error = "failed to encode message"
		c.finish(metric)
		return nil, "", metric, &ProtocolError{Kind: ProtocolMalformed, Detail: "failed to encode message", Err: err}
	}

	rpcReq := Request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  MethodMessageSend,
		Params:  params,
	}
	payload, err := json.Marshal(rpcReq)
	if err != nil {
		metric.Error = "failed to encode request"
		c.finish(metric)
		return nil, "", metric, &ProtocolError{Kind: ProtocolMalformed, Detail: "failed to encode request", Err: err}
	}

	c.logger.Debug("Sending message",
		"request_id", requestID,
		"endpoint", c.cfg.Endpoint,
		"context_id", msg.ContextID,
		"input_tokens", metric.InputTokens)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		metric.Error = "failed to create request"
		c.finish(metric)
		return nil, "", metric, &ProtocolError{Kind: ProtocolUnreachable, Detail: "failed to create request", Err: err}
	}
	c.setHeaders(httpReq)

	start := time.Now()

	resp, err := c.client.Do(httpReq)
	metric.LatencyMs = msSince(start)
	if err != nil {
		if isTimeout(err) {
			return c.fail(metric, "timeout", &ProtocolError{
				Kind:   ProtocolTimeout,
				Detail: fmt.Sprintf("no reply within %d seconds", c.cfg.TimeoutSeconds),
				Err:    err,
			})
		}
		return c.fail(metric, "failed to send message", &ProtocolError{
			Kind:   ProtocolUnreachable,
			Detail: "failed to send message",
			Err:    err,
		})
	}
	defer resp.Body.Close()

	metric.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return c.fail(metric, "authentication failed", &ProtocolError{
			Kind:       ProtocolUnauthorized,
			Detail:     "authentication failed",
			StatusCode: resp.StatusCode,
		})

	case resp.StatusCode == http.StatusRequestTimeout:
		return c.fail(metric, "timeout", &ProtocolError{
			Kind:       ProtocolTimeout,
			Detail:     "agent response timeout",
			StatusCode: resp.StatusCode,
		})

	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(resp.Body)
		detail := fmt.Sprintf("message send failed with status %d", resp.StatusCode)
		return c.fail(metric, detail, &ProtocolError{
			Kind:       ProtocolBadStatus,
			Detail:     detail + ": " + truncate(string(body), 1000),
			StatusCode: resp.StatusCode,
		})
	}

	body, err := io.ReadAll(resp.Body)
	metric.LatencyMs = msSince(start)
	if err != nil {
		if isTimeout(err) {
			return c.fail(metric, "timeout", &ProtocolError{
				Kind:   ProtocolTimeout,
				Detail: fmt.Sprintf("no reply within %d seconds", c.cfg.TimeoutSeconds),
				Err:    err,
			})
		}
		return c.fail(metric, "failed to read response", &ProtocolError{
			Kind:   ProtocolUnreachable,
			Detail: "failed to read response",
			Err:    err,
		})
	}

	var rpcResp Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		detail := "invalid response format: " + truncate(string(body), 500)
		return c.fail(metric, "invalid response format", &ProtocolError{
			Kind:   ProtocolMalformed,
			Detail: detail,
			Err:    err,
		})
	}

	if rpcResp.Error != nil {
		detail := fmt.Sprintf("agent returned error: %s", rpcResp.Error.Message)
		return c.fail(metric, detail, &ProtocolError{
			Kind:    ProtocolRPCError,
			Detail:  detail,
			RPCCode: rpcResp.Error.Code,
		})
	}

	reply, err := ParseReply(rpcResp.Result)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return c.fail(metric, perr.Detail, perr)
		}
		return c.fail(metric, "invalid response format", err)
	}

	newContextID := reply.ContextID
	metric.OutputTokens = c.counter.Count(reply.TextContent())
	metric.ContextID = newContextID
	metric.LatencyMs = msSince(start)

	c.recorder.Record(metric)

	c.logger.Info("Message exchange completed",
		"request_id", metric.RequestID,
		"endpoint", c.cfg.Endpoint,
		"status_code", metric.StatusCode,
		"latency_ms", metric.LatencyMs,
		"input_tokens", metric.InputTokens,
		"output_tokens", metric.OutputTokens,
		"context_id", newContextID)

	return reply, newContextID, metric, nil
}

// setHeaders applies content negotiation and, when configured, bearer
// authentication. This is the only place the token is read.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

// fail records the metric, emits the single per-request error log, and
// returns the metric alongside the error.
func (c *Client) fail(metric *metrics.Request, errMsg string, err error) (*Message, string, *metrics.Request, error) {
	metric.Error = errMsg
	c.finish(metric)
	return nil, "", metric, err
}

func (c *Client) finish(metric *metrics.Request) {
	c.recorder.Record(metric)
	c.logger.Error("Message exchange failed",
		"request_id", metric.RequestID,
		"endpoint", c.cfg.Endpoint,
		"error", metric.Error,
		"status_code", metric.StatusCode,
		"latency_ms", metric.LatencyMs,
		"input_tokens", metric.InputTokens)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// isTimeout reports whether err is a deadline expiry rather than some other
// transport failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
