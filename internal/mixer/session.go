package mixer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mixerSync/internal/indexer"
	"mixerSync/internal/merkle"
	"mixerSync/internal/model"
	"mixerSync/internal/relay"
	"mixerSync/internal/storage"
)

// PoolBackend is the on-chain side of one pool instance.
type PoolBackend interface {
	indexer.ChainSource
	merkle.ContractState
}

// Pool is one deployed (currency, amount) instance.
type Pool struct {
	Currency      string
	Amount        string
	Decimals      int32
	Address       common.Address
	DeployedBlock uint64
	Backend       PoolBackend
}

// Config holds the network-wide settings of a session.
type Config struct {
	NetID      uint64
	Network    string
	Proxy      common.Address
	Native     func(currency string) bool
	Sync       indexer.SyncConfig
	TreeHeight int
	Hasher     merkle.Hasher
}

// Relayer submits a withdrawal through a relay.
type Relayer interface {
	Withdraw(ctx context.Context, req relay.WithdrawRequest) (relay.WithdrawResult, error)
}

type pool struct {
	Pool
	sync   *indexer.Synchronizer
	merkle *merkle.Service
}

// Session wires the event store, synchronizers and tree services of every
// configured pool for the duration of one operation.
type Session struct {
	cfg    Config
	store  storage.EventStore
	pools  map[string]*pool
	order  []string
	logger *zap.Logger
}

// NewSession builds a session. indexed may be nil.
func NewSession(cfg Config, store storage.EventStore, indexed indexer.IndexedSource, pools []Pool, logger *zap.Logger) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is nil")
	}
	if strings.TrimSpace(cfg.Network) == "" {
		return nil, fmt.Errorf("network name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Native == nil {
		cfg.Native = func(string) bool { return false }
	}

	s := &Session{
		cfg:    cfg,
		store:  store,
		pools:  make(map[string]*pool, len(pools)),
		logger: logger.With(zap.String("network", cfg.Network)),
	}
	for _, p := range pools {
		if p.Backend == nil {
			return nil, fmt.Errorf("pool %s %s has no backend", p.Currency, p.Amount)
		}
		id := poolID(p.Currency, p.Amount)
		if _, ok := s.pools[id]; ok {
			return nil, fmt.Errorf("duplicate pool %s %s", p.Currency, p.Amount)
		}

		syncCfg := cfg.Sync
		syncCfg.DeployedBlock = p.DeployedBlock
		synchronizer, err := indexer.NewSynchronizer(syncCfg, store, p.Backend, indexed, s.logger)
		if err != nil {
			return nil, fmt.Errorf("pool %s %s: %w", p.Currency, p.Amount, err)
		}
		service, err := merkle.NewService(cfg.TreeHeight, cfg.Hasher, p.Backend, s.logger)
		if err != nil {
			return nil, fmt.Errorf("pool %s %s: %w", p.Currency, p.Amount, err)
		}

		p.Currency = strings.ToLower(p.Currency)
		s.pools[id] = &pool{Pool: p, sync: synchronizer, merkle: service}
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
	return s, nil
}

func poolID(currency, amount string) string {
	return strings.ToLower(strings.TrimSpace(currency)) + "/" + strings.TrimSpace(amount)
}

// Pools returns the configured pools ordered by currency and amount.
func (s *Session) Pools() []Pool {
	out := make([]Pool, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pools[id].Pool)
	}
	return out
}

// Key returns the cache key of a pool's events.
func (s *Session) Key(kind model.EventKind, currency, amount string) model.CacheKey {
	return model.CacheKey{
		Network:  s.cfg.Network,
		Kind:     kind,
		Currency: strings.ToLower(strings.TrimSpace(currency)),
		Amount:   strings.TrimSpace(amount),
	}
}

func (s *Session) pool(key model.CacheKey) (*pool, error) {
	p, ok := s.pools[poolID(key.Currency, key.Amount)]
	if !ok {
		return nil, fmt.Errorf("no pool configured for %s %s on %s", key.Currency, key.Amount, s.cfg.Network)
	}
	return p, nil
}

// Synchronize brings the cache for key up to the chain head.
func (s *Session) Synchronize(ctx context.Context, key model.CacheKey) (indexer.SyncResult, error) {
	p, err := s.pool(key)
	if err != nil {
		return indexer.SyncResult{}, err
	}
	return p.sync.Synchronize(ctx, key)
}

// Tree builds the merkle tree from the cached deposits of key.
func (s *Session) Tree(ctx context.Context, key model.CacheKey) (*merkle.Tree, error) {
	p, err := s.pool(key)
	if err != nil {
		return nil, err
	}
	if key.Kind != model.KindDeposit {
		return nil, fmt.Errorf("merkle tree needs deposit events, got %s", key.Kind)
	}
	events, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.merkle.BuildTree(events)
}

// BuildProof synchronizes the deposits of key and returns the inclusion
// proof of note. A commitment missing from the mirror triggers one more
// synchronization before giving up.
func (s *Session) BuildProof(ctx context.Context, key model.CacheKey, note model.Note) (model.MerkleProof, error) {
	if note.Commitment == nil || note.NullifierHash == nil {
		return model.MerkleProof{}, fmt.Errorf("note needs a commitment and a nullifier hash")
	}
	key.Kind = model.KindDeposit

	proof, err := s.syncAndProve(ctx, key, note)
	if errors.Is(err, model.ErrLeafNotFound) {
		s.logger.Warn("commitment not in mirror, synchronizing again",
			zap.String("key", key.String()),
			zap.String("commitment", note.Commitment.String()),
		)
		proof, err = s.syncAndProve(ctx, key, note)
	}
	if err != nil {
		s.logger.Error("proof preparation failed",
			zap.String("key", key.String()),
			zap.String("kind", model.ErrorKind(err)),
			zap.Error(err),
		)
		return model.MerkleProof{}, err
	}
	return proof, nil
}

func (s *Session) syncAndProve(ctx context.Context, key model.CacheKey, note model.Note) (model.MerkleProof, error) {
	p, err := s.pool(key)
	if err != nil {
		return model.MerkleProof{}, err
	}
	if _, err := p.sync.Synchronize(ctx, key); err != nil {
		return model.MerkleProof{}, err
	}
	tree, err := s.Tree(ctx, key)
	if err != nil {
		return model.MerkleProof{}, err
	}
	return p.merkle.Prove(ctx, tree, note.Commitment, note.NullifierHash)
}

// WithdrawRequest is a note to withdraw through a relay.
type WithdrawRequest struct {
	Note      model.Note
	Recipient common.Address
	Refund    *big.Int
	Relay     Relayer
}

// WithdrawViaRelay prepares the merkle proof of the note and hands it to
// the relay. Proof preconditions fail before the relay is contacted.
func (s *Session) WithdrawViaRelay(ctx context.Context, req WithdrawRequest) (relay.WithdrawResult, error) {
	if req.Relay == nil {
		return relay.WithdrawResult{}, fmt.Errorf("relay is required")
	}
	note := req.Note
	if note.NetID != 0 && note.NetID != s.cfg.NetID {
		return relay.WithdrawResult{}, fmt.Errorf("note is for network %d, session is on %d", note.NetID, s.cfg.NetID)
	}
	key := s.Key(model.KindDeposit, note.Currency, note.Amount)
	p, err := s.pool(key)
	if err != nil {
		return relay.WithdrawResult{}, err
	}

	proof, err := s.BuildProof(ctx, key, note)
	if err != nil {
		return relay.WithdrawResult{}, err
	}

	return req.Relay.Withdraw(ctx, relay.WithdrawRequest{
		NetID:         s.cfg.NetID,
		Instance:      p.Address,
		Proxy:         s.cfg.Proxy,
		Currency:      p.Currency,
		Amount:        p.Amount,
		Decimals:      p.Decimals,
		Native:        s.cfg.Native(p.Currency),
		Recipient:     req.Recipient,
		Refund:        req.Refund,
		Root:          proof.Root,
		PathElements:  proof.PathElements,
		PathIndices:   proof.PathIndices,
		Nullifier:     note.Nullifier,
		Secret:        note.Secret,
		NullifierHash: note.NullifierHash,
	})
}

// RootCheck reports whether the mirrored tree matches the contract.
type RootCheck struct {
	Key    model.CacheKey
	Leaves int
	Root   *big.Int
	Known  bool
}

// CheckRoot synchronizes the deposits of a pool and asks the contract
// whether the rebuilt root is known.
func (s *Session) CheckRoot(ctx context.Context, currency, amount string) (RootCheck, error) {
	key := s.Key(model.KindDeposit, currency, amount)
	p, err := s.pool(key)
	if err != nil {
		return RootCheck{}, err
	}
	if _, err := p.sync.Synchronize(ctx, key); err != nil {
		return RootCheck{Key: key}, err
	}
	tree, err := s.Tree(ctx, key)
	if err != nil {
		return RootCheck{Key: key}, err
	}
	known, err := p.merkle.ValidateRoot(ctx, tree.Root())
	if err != nil {
		return RootCheck{Key: key}, err
	}
	return RootCheck{Key: key, Leaves: tree.Len(), Root: tree.Root(), Known: known}, nil
}

// RefreshReport is the outcome of refreshing one pool.
type RefreshReport struct {
	Currency    string
	Amount      string
	Deposits    int
	Withdrawals int
	Reset       bool
	Err         error
}

// RefreshAll synchronizes every pool. A deposit cache whose root is not
// known to the contract, or that cannot be rebuilt, is dropped and
// synchronized again from the deployment block. Failures are reported per
// pool and joined into the returned error.
func (s *Session) RefreshAll(ctx context.Context) ([]RefreshReport, error) {
	reports := make([]RefreshReport, 0, len(s.order))
	var errs []error
	for _, id := range s.order {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		p := s.pools[id]
		report := s.refreshPool(ctx, p)
		if report.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", p.Currency, p.Amount, report.Err))
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (s *Session) refreshPool(ctx context.Context, p *pool) RefreshReport {
	report := RefreshReport{Currency: p.Currency, Amount: p.Amount}
	logger := s.logger.With(zap.String("currency", p.Currency), zap.String("amount", p.Amount))

	check, err := s.CheckRoot(ctx, p.Currency, p.Amount)
	if err == nil && !check.Known {
		err = fmt.Errorf("%w: root %s over %d leaves", model.ErrRootInvalid, check.Root, check.Leaves)
	}
	if errors.Is(err, model.ErrRootInvalid) || errors.Is(err, model.ErrDataCorrupt) {
		logger.Warn("deposit cache is invalid, resetting", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		if err := s.store.Reset(ctx, check.Key); err != nil {
			report.Err = err
			return report
		}
		report.Reset = true
		check, err = s.CheckRoot(ctx, p.Currency, p.Amount)
		if err == nil && !check.Known {
			err = fmt.Errorf("%w: root %s over %d leaves after reset", model.ErrRootInvalid, check.Root, check.Leaves)
		}
	}
	if err != nil {
		logger.Error("deposit refresh failed", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		report.Err = err
		return report
	}
	report.Deposits = check.Leaves

	withdrawals, err := s.Synchronize(ctx, s.Key(model.KindWithdrawal, p.Currency, p.Amount))
	if err != nil {
		report.Err = err
		return report
	}
	report.Withdrawals = withdrawals.Events

	logger.Info("pool refreshed",
		zap.Int("deposits", report.Deposits),
		zap.Int("withdrawals", report.Withdrawals),
		zap.Bool("reset", report.Reset),
	)
	return report
}

// FindDeposit looks a commitment up in the synchronized deposit mirror.
func (s *Session) FindDeposit(ctx context.Context, currency, amount string, commitment *big.Int) (model.Event, bool, error) {
	return s.find(ctx, s.Key(model.KindDeposit, currency, amount), func(event model.Event) bool {
		value, err := model.ParseFieldElement(event.Commitment)
		return err == nil && value.Cmp(commitment) == 0
	})
}

// FindWithdrawal looks a nullifier hash up in the synchronized withdrawal
// mirror.
func (s *Session) FindWithdrawal(ctx context.Context, currency, amount string, nullifierHash *big.Int) (model.Event, bool, error) {
	return s.find(ctx, s.Key(model.KindWithdrawal, currency, amount), func(event model.Event) bool {
		value, err := model.ParseFieldElement(event.NullifierHash)
		return err == nil && value.Cmp(nullifierHash) == 0
	})
}

func (s *Session) find(ctx context.Context, key model.CacheKey, match func(model.Event) bool) (model.Event, bool, error) {
	if _, err := s.Synchronize(ctx, key); err != nil {
		return model.Event{}, false, err
	}
	events, err := s.store.Load(ctx, key)
	if err != nil {
		return model.Event{}, false, err
	}
	for _, event := range model.FilterSentinels(events) {
		if match(event) {
			return event, true, nil
		}
	}
	return model.Event{}, false, nil
}
