package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mixerSync/internal/model"
)

const depositsQuery = `
query($currency: String, $amount: String, $block: BigInt, $first: Int) {
  deposits(first: $first, orderBy: blockNumber, orderDirection: asc, where: {currency: $currency, amount: $amount, blockNumber_gt: $block}) {
    blockNumber
    transactionHash
    commitment
    index
    timestamp
  }
}`

const withdrawalsQuery = `
query($currency: String, $amount: String, $block: BigInt, $first: Int) {
  withdrawals(first: $first, orderBy: blockNumber, orderDirection: asc, where: {currency: $currency, amount: $amount, blockNumber_gt: $block}) {
    blockNumber
    transactionHash
    nullifier
    to
    fee
  }
}`

const latestDepositQuery = `
query($currency: String, $amount: String) {
  deposits(first: 1, orderBy: blockNumber, orderDirection: desc, where: {currency: $currency, amount: $amount}) {
    blockNumber
  }
}`

const latestWithdrawalQuery = `
query($currency: String, $amount: String) {
  withdrawals(first: 1, orderBy: blockNumber, orderDirection: desc, where: {currency: $currency, amount: $amount}) {
    blockNumber
  }
}`

const metaQuery = `
query {
  _meta {
    block {
      number
    }
  }
}`

// Client queries a pool subgraph over GraphQL.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("subgraph endpoint cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors"`
}

type depositRow struct {
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	Commitment      string `json:"commitment"`
	Index           string `json:"index"`
	Timestamp       string `json:"timestamp"`
}

type withdrawalRow struct {
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	Nullifier       string `json:"nullifier"`
	To              string `json:"to"`
	Fee             string `json:"fee"`
}

// IndexedHead returns the last block the subgraph has processed.
func (c *Client) IndexedHead(ctx context.Context) (uint64, error) {
	var data struct {
		Meta *struct {
			Block struct {
				Number uint64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := c.query(ctx, metaQuery, nil, &data); err != nil {
		return 0, err
	}
	if data.Meta == nil {
		return 0, fmt.Errorf("subgraph response without _meta")
	}
	return data.Meta.Block.Number, nil
}

// LatestEventBlock returns the block of the newest indexed event for key.
// found is false when the subgraph has no events for the pool.
func (c *Client) LatestEventBlock(ctx context.Context, key model.CacheKey) (uint64, bool, error) {
	query, field, err := latestQueryFor(key.Kind)
	if err != nil {
		return 0, false, err
	}

	var data map[string][]struct {
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.query(ctx, query, poolVariables(key), &data); err != nil {
		return 0, false, err
	}

	rows := data[field]
	if len(rows) == 0 {
		return 0, false, nil
	}
	block, err := parseUint(rows[0].BlockNumber, "blockNumber")
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

// EventsAfter returns at most first events for key with block number
// strictly greater than afterBlock, in ascending block order.
func (c *Client) EventsAfter(ctx context.Context, key model.CacheKey, afterBlock uint64, first int) ([]model.Event, error) {
	if first <= 0 {
		return nil, fmt.Errorf("page size must be greater than zero")
	}
	variables := poolVariables(key)
	variables["block"] = strconv.FormatUint(afterBlock, 10)
	variables["first"] = first

	switch key.Kind {
	case model.KindDeposit:
		var data struct {
			Deposits []depositRow `json:"deposits"`
		}
		if err := c.query(ctx, depositsQuery, variables, &data); err != nil {
			return nil, err
		}
		return mapDeposits(data.Deposits)
	case model.KindWithdrawal:
		var data struct {
			Withdrawals []withdrawalRow `json:"withdrawals"`
		}
		if err := c.query(ctx, withdrawalsQuery, variables, &data); err != nil {
			return nil, err
		}
		return mapWithdrawals(data.Withdrawals)
	default:
		return nil, fmt.Errorf("unsupported event kind: %s", key.Kind)
	}
}

func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: query subgraph: %v", model.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read subgraph response: %v", model.ErrSourceUnavailable, err)
	}
	c.logger.Debug("subgraph response", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: subgraph returned status %d: %s", model.ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope graphResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse subgraph response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("subgraph errors: %s", strings.Join(messages, "; "))
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("subgraph response without data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("parse subgraph data: %w", err)
	}
	return nil
}

func poolVariables(key model.CacheKey) map[string]interface{} {
	return map[string]interface{}{
		"currency": strings.ToLower(key.Currency),
		"amount":   strings.ToLower(key.Amount),
	}
}

func latestQueryFor(kind model.EventKind) (string, string, error) {
	switch kind {
	case model.KindDeposit:
		return latestDepositQuery, "deposits", nil
	case model.KindWithdrawal:
		return latestWithdrawalQuery, "withdrawals", nil
	default:
		return "", "", fmt.Errorf("unsupported event kind: %s", kind)
	}
}

func mapDeposits(rows []depositRow) ([]model.Event, error) {
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		block, err := parseUint(row.BlockNumber, "blockNumber")
		if err != nil {
			return nil, err
		}
		index, err := parseUint(row.Index, "index")
		if err != nil {
			return nil, err
		}
		if index > uint64(^uint32(0)) {
			return nil, fmt.Errorf("deposit index out of range: %d", index)
		}
		timestamp, err := parseUint(row.Timestamp, "timestamp")
		if err != nil {
			return nil, err
		}
		if row.TransactionHash == "" || row.Commitment == "" {
			return nil, fmt.Errorf("deposit at block %d missing transaction hash or commitment", block)
		}
		events = append(events, model.Event{
			BlockNumber:     block,
			TransactionHash: row.TransactionHash,
			Commitment:      row.Commitment,
			LeafIndex:       uint32(index),
			Timestamp:       timestamp,
		})
	}
	return events, nil
}

func mapWithdrawals(rows []withdrawalRow) ([]model.Event, error) {
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		block, err := parseUint(row.BlockNumber, "blockNumber")
		if err != nil {
			return nil, err
		}
		if row.TransactionHash == "" || row.Nullifier == "" {
			return nil, fmt.Errorf("withdrawal at block %d missing transaction hash or nullifier", block)
		}
		events = append(events, model.Event{
			BlockNumber:     block,
			TransactionHash: row.TransactionHash,
			NullifierHash:   row.Nullifier,
			To:              row.To,
			Fee:             row.Fee,
		})
	}
	return events, nil
}

func parseUint(value, field string) (uint64, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return parsed, nil
}
