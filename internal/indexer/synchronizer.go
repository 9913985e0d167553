package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"mixerSync/internal/model"
	"mixerSync/internal/storage"
)

const (
	DefaultChunkSize uint64 = 10000
	DefaultPageSize         = 1000
)

// Source names the path a synchronization took.
type Source string

const (
	SourceIndexed Source = "indexed"
	SourceChain   Source = "chain"
)

// ChainSource scans pool events directly from the chain.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]model.Event, error)
}

// IndexedSource is a query service that indexes pool events by block.
type IndexedSource interface {
	IndexedHead(ctx context.Context) (uint64, error)
	LatestEventBlock(ctx context.Context, key model.CacheKey) (uint64, bool, error)
	EventsAfter(ctx context.Context, key model.CacheKey, afterBlock uint64, first int) ([]model.Event, error)
}

// SyncConfig holds the settings of one pool's synchronizer.
type SyncConfig struct {
	// DeployedBlock is where scanning starts for an empty cache.
	DeployedBlock uint64
	ChunkSize     uint64
	PageSize      int
	// OnlyRPC disables the indexed source.
	OnlyRPC      bool
	MaxRetries   int
	RetryBackoff time.Duration
}

// SyncResult summarizes one Synchronize call.
type SyncResult struct {
	Source Source
	Added  int
	Head   uint64
	Events int
}

// Synchronizer advances an event store to the chain head.
type Synchronizer struct {
	cfg     SyncConfig
	store   storage.EventStore
	chain   ChainSource
	indexed IndexedSource
	logger  *zap.Logger
}

// NewSynchronizer builds a Synchronizer. indexed may be nil.
func NewSynchronizer(cfg SyncConfig, store storage.EventStore, chain ChainSource, indexed IndexedSource, logger *zap.Logger) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is nil")
	}
	if chain == nil {
		return nil, fmt.Errorf("chain source is nil")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		cfg:     cfg,
		store:   store,
		chain:   chain,
		indexed: indexed,
		logger:  logger,
	}, nil
}

// errIndexed marks failures of the indexed path that allow a fallback.
type errIndexed struct {
	err error
}

func (e *errIndexed) Error() string { return "indexed source: " + e.err.Error() }
func (e *errIndexed) Unwrap() error { return e.err }

// Synchronize brings key up to the chain head and appends a sentinel for
// the head block. Progress appended before a failure is kept.
func (s *Synchronizer) Synchronize(ctx context.Context, key model.CacheKey) (SyncResult, error) {
	logger := s.logger.With(zap.String("key", key.String()))

	result := SyncResult{Source: SourceChain}
	var err error
	if s.indexed != nil && !s.cfg.OnlyRPC {
		result.Source = SourceIndexed
		result.Added, result.Head, err = s.syncIndexed(ctx, key, logger)
		var indexedErr *errIndexed
		if errors.As(err, &indexedErr) {
			logger.Warn("indexed sync failed, falling back to chain scan", zap.Error(err))
			result.Source = SourceChain
			added := result.Added
			result.Added, result.Head, err = s.syncChain(ctx, key, logger)
			result.Added += added
		}
	} else {
		result.Added, result.Head, err = s.syncChain(ctx, key, logger)
	}
	if err != nil {
		logger.Error("sync failed", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		return result, err
	}

	if err := s.store.Append(ctx, key, []model.Event{model.NewSentinel(result.Head)}); err != nil {
		return result, fmt.Errorf("append sentinel: %w", err)
	}

	events, err := s.store.Load(ctx, key)
	if err != nil {
		return result, err
	}
	result.Events = len(model.FilterSentinels(events))

	logger.Info("cache synchronized",
		zap.String("source", string(result.Source)),
		zap.Uint64("head", result.Head),
		zap.Int("added", result.Added),
		zap.Int("events", result.Events),
	)
	return result, nil
}

// startBlock returns the first block not yet covered by the cache.
func (s *Synchronizer) startBlock(ctx context.Context, key model.CacheKey) (uint64, error) {
	events, err := s.store.Load(ctx, key)
	if err != nil {
		return 0, err
	}
	last, ok := model.LastBlock(events)
	if !ok {
		return s.cfg.DeployedBlock, nil
	}
	return last + 1, nil
}

func (s *Synchronizer) syncChain(ctx context.Context, key model.CacheKey, logger *zap.Logger) (int, uint64, error) {
	head, err := s.latestBlock(ctx)
	if err != nil {
		return 0, 0, err
	}
	from, err := s.startBlock(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	added, err := s.scanRange(ctx, key, from, head, logger)
	return added, head, err
}

// scanRange fetches [from, to] in chunks, appending each chunk before the
// next is requested. A chunk that still fails after retries aborts the scan.
func (s *Synchronizer) scanRange(ctx context.Context, key model.CacheKey, from, to uint64, logger *zap.Logger) (int, error) {
	if from > to {
		logger.Debug("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return 0, nil
	}

	ranges, err := SplitRange(from, to, s.cfg.ChunkSize)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return added, ctx.Err()
		default:
		}

		events, err := s.fetchWithRetry(ctx, key.Kind, blockRange, logger)
		if err != nil {
			return added, fmt.Errorf("%w: fetch %s events %d-%d: %v", model.ErrSourceUnavailable, key.Kind, blockRange.From, blockRange.To, err)
		}

		if err := s.appendBatch(ctx, key, events); err != nil {
			return added, err
		}
		added += len(events)

		logger.Info("fetched events", zap.Int("events", len(events)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}
	return added, nil
}

func (s *Synchronizer) fetchWithRetry(ctx context.Context, kind model.EventKind, blockRange BlockRange, logger *zap.Logger) ([]model.Event, error) {
	var events []model.Event
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		events, err = s.chain.FetchEvents(ctx, kind, blockRange.From, blockRange.To)
		if err != nil {
			logger.Warn("fetch events failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return events, err
}

func (s *Synchronizer) latestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = s.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: get latest block: %v", model.ErrSourceUnavailable, err)
	}
	return head, nil
}

// syncIndexed pages the indexed source by block number, then scans the
// blocks between the indexed head and the chain head directly.
func (s *Synchronizer) syncIndexed(ctx context.Context, key model.CacheKey, logger *zap.Logger) (int, uint64, error) {
	// The head is read first so every event at or below it is already
	// visible to LatestEventBlock.
	indexedHead, err := s.indexed.IndexedHead(ctx)
	if err != nil {
		return 0, 0, &errIndexed{err: err}
	}
	latest, found, err := s.indexed.LatestEventBlock(ctx, key)
	if err != nil {
		return 0, 0, &errIndexed{err: err}
	}
	if !found {
		return 0, 0, &errIndexed{err: fmt.Errorf("no indexed events for %s", key)}
	}
	if latest > indexedHead {
		indexedHead = latest
	}

	from, err := s.startBlock(ctx, key)
	if err != nil {
		return 0, 0, err
	}

	var cursor uint64
	if from > 0 {
		cursor = from - 1
	}

	added := 0
	for cursor < latest {
		page, err := s.indexed.EventsAfter(ctx, key, cursor, s.cfg.PageSize)
		if err != nil {
			return added, 0, &errIndexed{err: err}
		}
		if err := validatePage(page, key.Kind, cursor); err != nil {
			return added, 0, &errIndexed{err: err}
		}
		if len(page) == 0 {
			break
		}

		full := len(page) >= s.cfg.PageSize
		accepted, next, err := trimPage(page, full)
		if err != nil {
			return added, 0, &errIndexed{err: err}
		}
		if err := s.appendBatch(ctx, key, accepted); err != nil {
			return added, 0, err
		}
		added += len(accepted)
		logger.Info("fetched indexed events", zap.Int("events", len(accepted)), zap.Uint64("to", next))

		if !full {
			break
		}
		cursor = next
	}

	head, err := s.latestBlock(ctx)
	if err != nil {
		return added, 0, err
	}
	tailFrom := indexedHead + 1
	if from > tailFrom {
		tailFrom = from
	}
	tailAdded, err := s.scanRange(ctx, key, tailFrom, head, logger)
	return added + tailAdded, head, err
}

// trimPage drops the records of the last block of a full page so the next
// page starts at a block boundary. It returns the accepted records and the
// cursor for the next query. A full page within one block cannot be paged
// past without losing records, so it is an error.
func trimPage(page []model.Event, full bool) ([]model.Event, uint64, error) {
	lastBlock := page[len(page)-1].BlockNumber
	if !full {
		return page, lastBlock, nil
	}
	if page[0].BlockNumber == lastBlock {
		return nil, 0, fmt.Errorf("block %d holds at least %d records, more than one page", lastBlock, len(page))
	}
	cut := len(page)
	for cut > 0 && page[cut-1].BlockNumber == lastBlock {
		cut--
	}
	return page[:cut], lastBlock - 1, nil
}

func validatePage(page []model.Event, kind model.EventKind, cursor uint64) error {
	var prev uint64
	for i, event := range page {
		if event.IsSentinel() {
			return fmt.Errorf("record %d without transaction hash", i)
		}
		if event.BlockNumber <= cursor {
			return fmt.Errorf("record %d at block %d not after cursor %d", i, event.BlockNumber, cursor)
		}
		if event.BlockNumber < prev {
			return fmt.Errorf("records out of block order at %d", i)
		}
		if kind == model.KindDeposit && !event.IsDeposit() {
			return fmt.Errorf("record %d is not a deposit", i)
		}
		if kind == model.KindWithdrawal && event.NullifierHash == "" {
			return fmt.Errorf("record %d is not a withdrawal", i)
		}
		prev = event.BlockNumber
	}
	return nil
}

func (s *Synchronizer) appendBatch(ctx context.Context, key model.CacheKey, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if key.Kind == model.KindDeposit {
		events = sortByLeafIndex(events)
	}
	if err := s.store.Append(ctx, key, events); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	return nil
}

func sortByLeafIndex(events []model.Event) []model.Event {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LeafIndex < sorted[j].LeafIndex
	})
	return sorted
}
