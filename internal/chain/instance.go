package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"mixerSync/internal/model"
)

// Backend is the subset of Client used by Instance.
type Backend interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Instance reads events and state of one fixed-denomination pool contract.
type Instance struct {
	backend Backend
	address common.Address
	abi     abi.ABI
}

func NewInstance(backend Backend, address common.Address) (*Instance, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is nil")
	}
	parsed, err := InstanceABI()
	if err != nil {
		return nil, err
	}
	return &Instance{backend: backend, address: address, abi: parsed}, nil
}

// Address returns the pool contract address.
func (i *Instance) Address() common.Address {
	return i.address
}

// LatestBlockNumber returns the chain head.
func (i *Instance) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return i.backend.LatestBlockNumber(ctx)
}

// FetchEvents returns the decoded events of kind emitted in [from, to].
// Removed logs are skipped.
func (i *Instance) FetchEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]model.Event, error) {
	event, ok := i.abi.Events[kind.ContractEvent()]
	if !ok {
		return nil, fmt.Errorf("unsupported event kind: %s", kind)
	}

	logs, err := i.backend.FilterLogs(ctx, from, to, []common.Address{i.address}, []common.Hash{event.ID})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		decoded, err := i.DecodeLog(kind, log)
		if err != nil {
			return nil, err
		}
		events = append(events, decoded)
	}
	return events, nil
}

// DecodeLog converts a raw Deposit or Withdrawal log into a cache record.
func (i *Instance) DecodeLog(kind model.EventKind, log types.Log) (model.Event, error) {
	switch kind {
	case model.KindDeposit:
		return i.decodeDeposit(log)
	case model.KindWithdrawal:
		return i.decodeWithdrawal(log)
	default:
		return model.Event{}, fmt.Errorf("unsupported event kind: %s", kind)
	}
}

func (i *Instance) decodeDeposit(log types.Log) (model.Event, error) {
	event := i.abi.Events["Deposit"]
	if len(log.Topics) != 2 || log.Topics[0] != event.ID {
		return model.Event{}, fmt.Errorf("deposit log %s: unexpected topics", log.TxHash.Hex())
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("unpack deposit %s: %w", log.TxHash.Hex(), err)
	}
	if len(values) != 2 {
		return model.Event{}, fmt.Errorf("unexpected deposit values: %d", len(values))
	}

	leafIndex, ok := values[0].(uint32)
	if !ok {
		return model.Event{}, fmt.Errorf("unexpected leafIndex type %T", values[0])
	}
	timestamp, err := asBigInt(values[1])
	if err != nil {
		return model.Event{}, err
	}
	if !timestamp.IsUint64() {
		return model.Event{}, fmt.Errorf("deposit timestamp out of range: %s", timestamp)
	}

	return model.Event{
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash.Hex(),
		Commitment:      log.Topics[1].Hex(),
		LeafIndex:       leafIndex,
		Timestamp:       timestamp.Uint64(),
	}, nil
}

func (i *Instance) decodeWithdrawal(log types.Log) (model.Event, error) {
	event := i.abi.Events["Withdrawal"]
	if len(log.Topics) != 2 || log.Topics[0] != event.ID {
		return model.Event{}, fmt.Errorf("withdrawal log %s: unexpected topics", log.TxHash.Hex())
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("unpack withdrawal %s: %w", log.TxHash.Hex(), err)
	}
	if len(values) != 3 {
		return model.Event{}, fmt.Errorf("unexpected withdrawal values: %d", len(values))
	}

	to, ok := values[0].(common.Address)
	if !ok {
		return model.Event{}, fmt.Errorf("unexpected to type %T", values[0])
	}
	nullifierHash, ok := values[1].([32]byte)
	if !ok {
		return model.Event{}, fmt.Errorf("unexpected nullifierHash type %T", values[1])
	}
	fee, err := asBigInt(values[2])
	if err != nil {
		return model.Event{}, err
	}

	return model.Event{
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash.Hex(),
		NullifierHash:   common.Hash(nullifierHash).Hex(),
		To:              to.Hex(),
		Fee:             fee.String(),
	}, nil
}

// IsKnownRoot reports whether root is in the contract's root history.
func (i *Instance) IsKnownRoot(ctx context.Context, root *big.Int) (bool, error) {
	return i.callBool(ctx, "isKnownRoot", root)
}

// IsSpent reports whether nullifierHash was already used for a withdrawal.
func (i *Instance) IsSpent(ctx context.Context, nullifierHash *big.Int) (bool, error) {
	return i.callBool(ctx, "isSpent", nullifierHash)
}

func (i *Instance) callBool(ctx context.Context, method string, value *big.Int) (bool, error) {
	word, err := ToBytes32(value)
	if err != nil {
		return false, err
	}
	input, err := i.abi.Pack(method, word)
	if err != nil {
		return false, fmt.Errorf("pack %s: %w", method, err)
	}

	to := i.address
	output, err := i.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := i.abi.Unpack(method, output)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	result, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return result, nil
}

// ProxyWithdraw holds the arguments of the proxy withdraw call.
type ProxyWithdraw struct {
	Instance      common.Address
	Proof         string
	Root          *big.Int
	NullifierHash *big.Int
	Recipient     common.Address
	Relayer       common.Address
	Fee           *big.Int
	Refund        *big.Int
}

// EncodeProxyWithdraw returns calldata for the proxy withdraw method.
func EncodeProxyWithdraw(args ProxyWithdraw) ([]byte, error) {
	parsed, err := ProxyABI()
	if err != nil {
		return nil, err
	}

	proof, err := hexutil.Decode(args.Proof)
	if err != nil {
		return nil, fmt.Errorf("invalid proof: %w", err)
	}
	root, err := ToBytes32(args.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	nullifierHash, err := ToBytes32(args.NullifierHash)
	if err != nil {
		return nil, fmt.Errorf("nullifier hash: %w", err)
	}

	return parsed.Pack("withdraw",
		args.Instance,
		proof,
		root,
		nullifierHash,
		args.Recipient,
		args.Relayer,
		orZero(args.Fee),
		orZero(args.Refund),
	)
}

// ToBytes32 left-pads value into a 32-byte word.
func ToBytes32(value *big.Int) ([32]byte, error) {
	var word [32]byte
	if value == nil {
		return word, fmt.Errorf("value is nil")
	}
	if value.Sign() < 0 || value.BitLen() > 256 {
		return word, fmt.Errorf("value does not fit in bytes32: %s", value)
	}
	value.FillBytes(word[:])
	return word, nil
}

func orZero(value *big.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case big.Int:
		return &v, nil
	default:
		return nil, fmt.Errorf("unexpected numeric type %T", value)
	}
}
