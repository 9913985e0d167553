package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// EventKind names the contract event mirrored in a cache.
type EventKind string

const (
	KindDeposit    EventKind = "deposit"
	KindWithdrawal EventKind = "withdrawal"
)

// ParseEventKind accepts "deposit", "withdrawal" and the legacy "withdraw".
func ParseEventKind(input string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "deposit", "deposits":
		return KindDeposit, nil
	case "withdrawal", "withdrawals", "withdraw":
		return KindWithdrawal, nil
	default:
		return "", fmt.Errorf("unknown event kind: %s", input)
	}
}

// ContractEvent returns the Solidity event name emitted by a pool instance.
func (k EventKind) ContractEvent() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdrawal:
		return "Withdrawal"
	default:
		return ""
	}
}

// CacheKey addresses one event mirror.
type CacheKey struct {
	Network  string
	Kind     EventKind
	Currency string
	Amount   string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%ss_%s_%s", strings.ToLower(k.Network), k.Kind, strings.ToLower(k.Currency), k.Amount)
}

// Event is one cached record. A record without a transaction hash is a
// sentinel marking the block the cache was synchronized to.
type Event struct {
	BlockNumber     uint64
	TransactionHash string

	// deposit fields
	Commitment string
	LeafIndex  uint32
	Timestamp  uint64

	// withdrawal fields
	NullifierHash string
	To            string
	Fee           string
}

// NewSentinel returns the zero event for a block.
func NewSentinel(blockNumber uint64) Event {
	return Event{BlockNumber: blockNumber}
}

// IsSentinel reports whether the record carries no real event.
func (e Event) IsSentinel() bool {
	return e.TransactionHash == ""
}

// IsDeposit reports whether the record carries deposit data.
func (e Event) IsDeposit() bool {
	return !e.IsSentinel() && e.Commitment != ""
}

// Identity returns the key used to detect duplicate records on merge.
func (e Event) Identity() string {
	if e.IsSentinel() {
		return ""
	}
	if e.Commitment != "" {
		return fmt.Sprintf("d:%s:%d:%s", strings.ToLower(e.TransactionHash), e.LeafIndex, strings.ToLower(e.Commitment))
	}
	return fmt.Sprintf("w:%s:%s", strings.ToLower(e.TransactionHash), strings.ToLower(e.NullifierHash))
}

// CommitmentInt parses the commitment as a field element.
func (e Event) CommitmentInt() (*big.Int, error) {
	return ParseFieldElement(e.Commitment)
}

// FilterSentinels drops zero events, keeping the order of the rest.
func FilterSentinels(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, event := range events {
		if event.IsSentinel() {
			continue
		}
		out = append(out, event)
	}
	return out
}

// LastBlock returns the block of the last record, sentinels included.
func LastBlock(events []Event) (uint64, bool) {
	if len(events) == 0 {
		return 0, false
	}
	return events[len(events)-1].BlockNumber, true
}

// ParseFieldElement accepts 0x-prefixed hex or a decimal string.
func ParseFieldElement(input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty field element")
	}
	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		_, ok = value.SetString(input[2:], 16)
	} else {
		_, ok = value.SetString(input, 10)
	}
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid field element: %s", input)
	}
	return value, nil
}

// eventJSON mirrors the cache file layout. Numeric fields are decoded from
// either JSON numbers or decimal strings.
type eventJSON struct {
	BlockNumber     flexUint  `json:"blockNumber"`
	TransactionHash *string   `json:"transactionHash"`
	Commitment      string    `json:"commitment,omitempty"`
	LeafIndex       *flexUint `json:"leafIndex,omitempty"`
	Timestamp       *flexUint `json:"timestamp,omitempty"`
	NullifierHash   string    `json:"nullifierHash,omitempty"`
	To              string    `json:"to,omitempty"`
	Fee             string    `json:"fee,omitempty"`
}

// MarshalJSON writes the deposit or withdrawal field set, and a null
// transaction hash for sentinels.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{BlockNumber: flexUint(e.BlockNumber)}
	if !e.IsSentinel() {
		txHash := e.TransactionHash
		out.TransactionHash = &txHash
	}
	if e.Commitment != "" {
		leafIndex := flexUint(e.LeafIndex)
		timestamp := flexUint(e.Timestamp)
		out.Commitment = e.Commitment
		out.LeafIndex = &leafIndex
		out.Timestamp = &timestamp
	}
	if e.NullifierHash != "" {
		out.NullifierHash = e.NullifierHash
		out.To = e.To
		out.Fee = e.Fee
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a cache record.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := Event{
		BlockNumber:   uint64(in.BlockNumber),
		Commitment:    in.Commitment,
		NullifierHash: in.NullifierHash,
		To:            in.To,
		Fee:           in.Fee,
	}
	if in.TransactionHash != nil {
		decoded.TransactionHash = *in.TransactionHash
	}
	if in.LeafIndex != nil {
		if uint64(*in.LeafIndex) > uint64(^uint32(0)) {
			return fmt.Errorf("leaf index out of range: %d", *in.LeafIndex)
		}
		decoded.LeafIndex = uint32(*in.LeafIndex)
	}
	if in.Timestamp != nil {
		decoded.Timestamp = uint64(*in.Timestamp)
	}
	if decoded.Commitment != "" && in.LeafIndex == nil {
		return fmt.Errorf("deposit record without leafIndex at block %d", decoded.BlockNumber)
	}
	*e = decoded
	return nil
}

type flexUint uint64

func (f flexUint) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(f), 10)), nil
}

func (f *flexUint) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned value %s: %w", string(data), err)
	}
	*f = flexUint(value)
	return nil
}
