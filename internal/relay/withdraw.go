package relay

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mixerSync/internal/chain"
	"mixerSync/internal/model"
)

// Withdraw negotiates the relay fee, submits the final proof and tracks the
// job until the transaction is mined locally.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	if c.prover == nil || c.oracle == nil {
		return WithdrawResult{}, fmt.Errorf("relay withdrawal needs a prover and a fee oracle")
	}
	refund := orZero(req.Refund)
	if req.Native && refund.Sign() != 0 {
		return WithdrawResult{}, fmt.Errorf("cannot use refund option with native %s withdrawals", req.Currency)
	}
	amount, err := ParseUnits(req.Amount, req.Decimals)
	if err != nil {
		return WithdrawResult{}, err
	}

	status, err := c.Status(ctx)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("relay status: %w", err)
	}
	if !status.NetID.Accepts(req.NetID) {
		c.logger.Error("relay network mismatch",
			zap.String("kind", model.ErrorKind(model.ErrRelayNetworkMismatch)),
			zap.String("relay_net_id", status.NetID.String()),
			zap.Uint64("net_id", req.NetID),
		)
		return WithdrawResult{}, fmt.Errorf("%w: relay serves %s, expected %d", model.ErrRelayNetworkMismatch, status.NetID, req.NetID)
	}
	relayer := common.HexToAddress(status.RewardAccount)

	relayerFee, err := ProvisionalFee(status.ServiceFee, req.Amount, req.Decimals)
	if err != nil {
		return WithdrawResult{}, err
	}

	input := ProofInput{
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       relayer,
		Fee:           relayerFee,
		Refund:        refund,
		Nullifier:     req.Nullifier,
		Secret:        req.Secret,
		PathElements:  req.PathElements,
		PathIndices:   req.PathIndices,
	}
	dummy, err := c.prover.Prove(ctx, input)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("dummy proof: %w", err)
	}

	data, err := chain.EncodeProxyWithdraw(chain.ProxyWithdraw{
		Instance:      req.Instance,
		Proof:         dummy.Proof,
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Relayer:       relayer,
		Fee:           relayerFee,
		Refund:        refund,
	})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("encode withdraw call: %w", err)
	}

	totalFee, err := c.oracle.WithdrawalFee(ctx, FeeQuery{
		Tx:                Transaction{To: req.Proxy, Data: data, Value: refund},
		Currency:          req.Currency,
		Amount:            req.Amount,
		Decimals:          req.Decimals,
		RelayerFeePercent: status.ServiceFee,
		Refund:            refund,
		TokenPriceInEth:   status.TokenPriceInEth(req.Currency),
	})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdrawal fee: %w", err)
	}
	if totalFee == nil || totalFee.Sign() < 0 {
		return WithdrawResult{}, fmt.Errorf("fee oracle returned invalid fee %v", totalFee)
	}
	if totalFee.Cmp(amount) > 0 {
		return WithdrawResult{}, fmt.Errorf("relay fee %s %s exceeds withdrawal amount %s",
			FormatUnits(totalFee, req.Decimals), req.Currency, req.Amount)
	}

	input.Fee = totalFee
	final, err := c.prover.Prove(ctx, input)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("final proof: %w", err)
	}

	toReceive := new(big.Int).Sub(amount, totalFee)
	c.logger.Info("withdrawal summary",
		zap.String("relayer_fee", FormatUnits(relayerFee, req.Decimals)),
		zap.String("total_fee", FormatUnits(totalFee, req.Decimals)),
		zap.String("to_receive", FormatUnits(toReceive, req.Decimals)),
		zap.String("currency", req.Currency),
		zap.String("relayer", relayer.Hex()),
	)

	jobID, err := c.Submit(ctx, req.Instance, final)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("submit withdrawal: %w", err)
	}
	c.logger.Info("withdrawal submitted", zap.String("job_id", jobID))

	result := WithdrawResult{
		JobID:      jobID,
		RelayerFee: relayerFee,
		TotalFee:   totalFee,
		ToReceive:  toReceive,
	}

	job, polls, err := c.WaitForJob(ctx, jobID)
	result.Polls = polls
	if err != nil {
		c.logger.Error("relay job did not confirm",
			zap.String("kind", model.ErrorKind(err)),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return result, err
	}
	txHash, err := parseTxHash(job.TxHash)
	if err != nil {
		c.logger.Error("relay job confirmed without transaction",
			zap.String("job_id", jobID),
			zap.String("tx", job.TxHash),
		)
		return result, fmt.Errorf("%w: job %s confirmed with %v", model.ErrRelayRejected, jobID, err)
	}
	result.TxHash = txHash

	receipt, err := c.WaitForReceipt(ctx, result.TxHash)
	if err != nil {
		c.logger.Error("withdrawal not mined",
			zap.String("kind", model.ErrorKind(err)),
			zap.String("tx", result.TxHash.Hex()),
			zap.Error(err),
		)
		return result, err
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	c.logger.Info("withdrawal mined",
		zap.String("tx", result.TxHash.Hex()),
		zap.Uint64("block", result.BlockNumber),
	)
	return result, nil
}

func parseTxHash(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Hash{}, fmt.Errorf("no transaction hash")
	}
	data, err := hexutil.Decode(raw)
	if err != nil || len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", raw)
	}
	return common.BytesToHash(data), nil
}

func orZero(value *big.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value
}
