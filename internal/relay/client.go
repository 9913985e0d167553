package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mixerSync/internal/model"
)

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultReceiptAttempts = 60
	DefaultReceiptDelay    = time.Second
	DefaultHTTPTimeout     = 30 * time.Second
)

// Config controls relay polling.
type Config struct {
	PollInterval time.Duration
	// PollTimeout bounds job polling; zero polls until the context ends.
	PollTimeout     time.Duration
	ReceiptAttempts int
	ReceiptDelay    time.Duration
	HTTPTimeout     time.Duration
}

// Deps are the collaborators of a withdrawal. Prover and Oracle are only
// needed by Withdraw; Receipts only by WaitForReceipt.
type Deps struct {
	Prover   Prover
	Oracle   FeeOracle
	Receipts ReceiptSource
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Client talks to one relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        Config
	prover     Prover
	oracle     FeeOracle
	receipts   ReceiptSource
	clock      clock.Clock
	logger     *zap.Logger
}

// NormalizeURL reduces a relay URL to its origin. ENS names are rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("relay url cannot be empty")
	}
	if strings.HasSuffix(strings.TrimRight(raw, "/"), ".eth") {
		return "", fmt.Errorf("ENS name resolving is not supported, use the DNS name of the relay: %s", raw)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported relay url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("relay url %q has no host", raw)
	}
	if strings.HasSuffix(parsed.Hostname(), ".eth") {
		return "", fmt.Errorf("ENS name resolving is not supported, use the DNS name of the relay: %s", raw)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func NewClient(relayURL string, cfg Config, deps Deps) (*Client, error) {
	baseURL, err := NormalizeURL(relayURL)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReceiptAttempts <= 0 {
		cfg.ReceiptAttempts = DefaultReceiptAttempts
	}
	if cfg.ReceiptDelay <= 0 {
		cfg.ReceiptDelay = DefaultReceiptDelay
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:        cfg,
		prover:     deps.Prover,
		oracle:     deps.Oracle,
		receipts:   deps.Receipts,
		clock:      deps.Clock,
		logger:     deps.Logger.With(zap.String("relay", baseURL)),
	}, nil
}

// BaseURL returns the relay origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	code, err := c.do(ctx, http.MethodGet, "/status", nil, &status)
	if err != nil {
		return Status{}, err
	}
	if code != http.StatusOK {
		return Status{}, fmt.Errorf("%w: relay status returned %d", model.ErrSourceUnavailable, code)
	}
	if !common.IsHexAddress(status.RewardAccount) {
		return Status{}, fmt.Errorf("relay status has invalid reward account %q", status.RewardAccount)
	}
	return status, nil
}

// Submit posts a withdrawal to the relay and returns the job id.
func (c *Client) Submit(ctx context.Context, instance common.Address, proof Proof) (string, error) {
	body := submitRequest{Contract: instance.Hex(), Proof: proof.Proof, Args: proof.Args}
	var resp submitResponse
	code, err := c.do(ctx, http.MethodPost, "/v1/tornadoWithdraw", body, &resp)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK && code != http.StatusCreated {
		return "", fmt.Errorf("%w: relay rejected submission with status %d", model.ErrRelayRejected, code)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("relay response without job id")
	}
	return resp.ID, nil
}

// Job fetches the job resource once. ok is false when the relay answered
// with a non-200 status.
func (c *Client) Job(ctx context.Context, id string) (model.RelayJob, bool, error) {
	var job model.RelayJob
	code, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &job)
	if err != nil {
		return model.RelayJob{}, false, err
	}
	if code != http.StatusOK {
		return model.RelayJob{}, false, nil
	}
	if job.ID == "" {
		job.ID = id
	}
	return job, true, nil
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", model.ErrSourceUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read %s response: %v", model.ErrSourceUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("relay returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))),
		)
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parse %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
