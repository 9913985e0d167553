package model

// JobStatus is the state reported by a relay for a submitted withdrawal.
type JobStatus string

const (
	JobConfirmed JobStatus = "CONFIRMED"
	JobFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether polling should stop.
func (s JobStatus) IsTerminal() bool {
	return s == JobConfirmed || s == JobFailed
}

// RelayJob mirrors the relay's job resource.
type RelayJob struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	TxHash        string    `json:"txHash"`
	Confirmations int64     `json:"confirmations"`
	FailedReason  string    `json:"failedReason"`
}
