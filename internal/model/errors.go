package model

import "errors"

// Error kinds surfaced by synchronization, proof preparation and relay
// withdrawal. Callers classify with errors.Is.
var (
	// ErrSourceUnavailable covers RPC and remote service failures; retryable.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDataCorrupt means the cache holds unparsable or inconsistent records.
	ErrDataCorrupt = errors.New("event cache corrupt")
	// ErrRootInvalid means the rebuilt root is not a known root on-chain.
	ErrRootInvalid = errors.New("merkle root not known to contract")
	// ErrNullifierSpent means the note was already withdrawn.
	ErrNullifierSpent = errors.New("note already spent")
	// ErrLeafNotFound means the commitment is absent from the local mirror.
	ErrLeafNotFound = errors.New("commitment not found in tree")
	// ErrRelayRejected wraps the failure reason reported by a relay.
	ErrRelayRejected = errors.New("relay job failed")
	// ErrRelayNetworkMismatch means the relay reports another network id.
	ErrRelayNetworkMismatch = errors.New("relay serves a different network")
	// ErrReceiptTimeout means the relay confirmed but no receipt was seen
	// locally in time. The transaction may still be pending.
	ErrReceiptTimeout = errors.New("transaction was not mined")
)

// ErrorKind names the kind of err for logs and CLI output.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, ErrDataCorrupt):
		return "DataCorrupt"
	case errors.Is(err, ErrRootInvalid):
		return "RootInvalid"
	case errors.Is(err, ErrNullifierSpent):
		return "NullifierSpent"
	case errors.Is(err, ErrLeafNotFound):
		return "LeafNotFound"
	case errors.Is(err, ErrRelayRejected):
		return "RelayRejected"
	case errors.Is(err, ErrRelayNetworkMismatch):
		return "RelayNetworkMismatch"
	case errors.Is(err, ErrReceiptTimeout):
		return "ReceiptTimeout"
	default:
		return "Unknown"
	}
}
