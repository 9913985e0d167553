package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"mixerSync/internal/model"
)

// WaitForJob polls the job every PollInterval until the relay reports a
// terminal status. It returns the final job and the number of polls made.
// Non-200 responses are treated as "not ready yet".
func (c *Client) WaitForJob(ctx context.Context, id string) (model.RelayJob, int, error) {
	var deadline <-chan time.Time
	if c.cfg.PollTimeout > 0 {
		timer := c.clock.Timer(c.cfg.PollTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	polls := 0
	for {
		job, ok, err := c.Job(ctx, id)
		polls++
		if err != nil {
			return model.RelayJob{}, polls, fmt.Errorf("poll job %s: %w", id, err)
		}
		if ok {
			c.logger.Info("relay job status",
				zap.String("job", id),
				zap.String("status", string(job.Status)),
				zap.Int64("confirmations", job.Confirmations),
				zap.String("tx", job.TxHash),
			)
			switch job.Status {
			case model.JobFailed:
				return job, polls, fmt.Errorf("%w: %s", model.ErrRelayRejected, job.FailedReason)
			case model.JobConfirmed:
				return job, polls, nil
			}
		}

		select {
		case <-ctx.Done():
			return model.RelayJob{}, polls, ctx.Err()
		case <-deadline:
			return model.RelayJob{}, polls, fmt.Errorf("job %s not confirmed after %s: %w", id, c.cfg.PollTimeout, context.DeadlineExceeded)
		case <-c.clock.After(c.cfg.PollInterval):
		}
	}
}

// WaitForReceipt looks the transaction up every ReceiptDelay, at most
// ReceiptAttempts times.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.receipts == nil {
		return nil, fmt.Errorf("no receipt source configured")
	}

	for attempt := 1; attempt <= c.cfg.ReceiptAttempts; attempt++ {
		receipt, err := c.receipts.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: transaction %s reverted", model.ErrRelayRejected, txHash.Hex())
			}
			return receipt, nil
		}
		if err != nil {
			c.logger.Debug("receipt not available",
				zap.String("tx", txHash.Hex()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		if attempt == c.cfg.ReceiptAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.cfg.ReceiptDelay):
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", model.ErrReceiptTimeout, txHash.Hex(), c.cfg.ReceiptAttempts)
}
