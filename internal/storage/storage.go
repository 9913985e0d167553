package storage

import (
	"context"

	"mixerSync/internal/model"
)

// EventStore is an append-only mirror of contract events per cache key.
// Callers that run concurrently on one key are serialized by the store.
type EventStore interface {
	// Load returns the records for key in append order. A key that was never
	// written yields an empty slice and a nil error.
	Load(ctx context.Context, key model.CacheKey) ([]model.Event, error)
	// Append merges events onto the stored sequence. Records already present
	// are skipped; sentinels are always appended.
	Append(ctx context.Context, key model.CacheKey, events []model.Event) error
	// Reset drops every record for key.
	Reset(ctx context.Context, key model.CacheKey) error
}

// Merge returns the records of incoming that are not already in existing,
// preserving incoming order. Sentinels always pass.
func Merge(existing, incoming []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(existing))
	for _, event := range existing {
		if id := event.Identity(); id != "" {
			seen[id] = struct{}{}
		}
	}

	out := make([]model.Event, 0, len(incoming))
	for _, event := range incoming {
		id := event.Identity()
		if id == "" {
			out = append(out, event)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, event)
	}
	return out
}
