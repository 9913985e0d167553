package relay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

// GasEstimator prices a transaction on the current chain.
type GasEstimator interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// GasOracle charges the gas cost of the relay transaction plus the relay
// service fee. Token withdrawals convert the gas cost, and the refund, with
// the relay's token price.
type GasOracle struct {
	estimator GasEstimator
	native    func(currency string) bool
}

func NewGasOracle(estimator GasEstimator, native func(currency string) bool) (*GasOracle, error) {
	if estimator == nil {
		return nil, fmt.Errorf("gas estimator is nil")
	}
	if native == nil {
		native = func(string) bool { return true }
	}
	return &GasOracle{estimator: estimator, native: native}, nil
}

func (o *GasOracle) WithdrawalFee(ctx context.Context, query FeeQuery) (*big.Int, error) {
	gasPrice, err := o.estimator.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	to := query.Tx.To
	gasLimit, err := o.estimator.EstimateGas(ctx, ethereum.CallMsg{
		To:    &to,
		Data:  query.Tx.Data,
		Value: query.Tx.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	serviceFee, err := ProvisionalFee(query.RelayerFeePercent, query.Amount, query.Decimals)
	if err != nil {
		return nil, err
	}
	expense := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))

	if o.native(query.Currency) {
		return expense.Add(expense, serviceFee), nil
	}

	if !query.TokenPriceInEth.IsPositive() {
		return nil, fmt.Errorf("relay has no %s price", query.Currency)
	}
	cost := decimal.NewFromBigInt(expense, 0).Add(decimal.NewFromBigInt(orZero(query.Refund), 0))
	inToken := cost.Shift(query.Decimals).Div(query.TokenPriceInEth).Truncate(0).BigInt()
	return inToken.Add(inToken, serviceFee), nil
}
