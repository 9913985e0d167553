package relay

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// NetID is the network a relay serves. Any is set for "*".
type NetID struct {
	ID  uint64
	Any bool
}

// Accepts reports whether the relay serves netID.
func (n NetID) Accepts(netID uint64) bool {
	return n.Any || n.ID == netID
}

func (n NetID) String() string {
	if n.Any {
		return "*"
	}
	return strconv.FormatUint(n.ID, 10)
}

func (n *NetID) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "*" {
		*n = NetID{Any: true}
		return nil
	}
	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid netId %s", string(data))
	}
	*n = NetID{ID: id}
	return nil
}

func (n NetID) MarshalJSON() ([]byte, error) {
	if n.Any {
		return []byte(`"*"`), nil
	}
	return []byte(strconv.FormatUint(n.ID, 10)), nil
}

// Status is the relay's GET /status document.
type Status struct {
	RewardAccount string                     `json:"rewardAccount"`
	NetID         NetID                      `json:"netId"`
	EthPrices     map[string]decimal.Decimal `json:"ethPrices"`
	ServiceFee    decimal.Decimal            `json:"tornadoServiceFee"`
}

// TokenPriceInEth returns the relay's price of currency in wei, or zero.
func (s Status) TokenPriceInEth(currency string) decimal.Decimal {
	if price, ok := s.EthPrices[strings.ToLower(currency)]; ok {
		return price
	}
	return decimal.Zero
}

type submitRequest struct {
	Contract string   `json:"contract"`
	Proof    string   `json:"proof"`
	Args     []string `json:"args"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// ProofInput holds the public and private inputs of a withdrawal proof.
type ProofInput struct {
	Root          *big.Int
	NullifierHash *big.Int
	Recipient     common.Address
	Relayer       common.Address
	Fee           *big.Int
	Refund        *big.Int

	Nullifier    *big.Int
	Secret       *big.Int
	PathElements []*big.Int
	PathIndices  []int
}

// Proof is a solidity-encoded proof and its six public arguments.
type Proof struct {
	Proof string
	Args  []string
}

// Prover generates withdrawal proofs.
type Prover interface {
	Prove(ctx context.Context, input ProofInput) (Proof, error)
}

// Transaction is an unsigned call used for fee estimation.
type Transaction struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// FeeQuery describes a withdrawal whose relay fee must be priced.
type FeeQuery struct {
	Tx                Transaction
	Currency          string
	Amount            string
	Decimals          int32
	RelayerFeePercent decimal.Decimal
	Refund            *big.Int
	TokenPriceInEth   decimal.Decimal
}

// FeeOracle returns the total withdrawal fee, in the smallest unit of the
// withdrawn currency, charged by a relay for the query.
type FeeOracle interface {
	WithdrawalFee(ctx context.Context, query FeeQuery) (*big.Int, error)
}

// ReceiptSource looks up mined transactions.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WithdrawRequest is everything needed to withdraw one note via a relay.
type WithdrawRequest struct {
	NetID     uint64
	Instance  common.Address
	Proxy     common.Address
	Currency  string
	Amount    string
	Decimals  int32
	Native    bool
	Recipient common.Address
	Refund    *big.Int

	Root          *big.Int
	PathElements  []*big.Int
	PathIndices   []int
	Nullifier     *big.Int
	Secret        *big.Int
	NullifierHash *big.Int
}

// WithdrawResult reports a confirmed relay withdrawal.
type WithdrawResult struct {
	JobID       string
	TxHash      common.Hash
	BlockNumber uint64
	RelayerFee  *big.Int
	TotalFee    *big.Int
	ToReceive   *big.Int
	Polls       int
}
