package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mixerSync/internal/chain"
	"mixerSync/internal/config"
	"mixerSync/internal/indexer"
	"mixerSync/internal/merkle"
	"mixerSync/internal/mixer"
	"mixerSync/internal/relay"
	"mixerSync/internal/storage"
	"mixerSync/internal/storage/postgres"
	"mixerSync/internal/subgraph"
)

// runtime holds the resources of one command invocation.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	chain   *chain.Client
	session *mixer.Session
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if err := cfg.Validate(); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.open(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *runtime) open(ctx context.Context) error {
	cfg := r.cfg

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	r.chain = chainClient
	r.closers = append(r.closers, chainClient.Close)

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	netID := chainID.Uint64()
	if cfg.NetID != 0 && cfg.NetID != netID {
		return fmt.Errorf("rpc serves network %d, configured net-id is %d", netID, cfg.NetID)
	}
	network := cfg.NetworkName
	if network == "" {
		network = chain.NetworkName(netID)
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	var indexed indexer.IndexedSource
	if cfg.Subgraph != "" && !cfg.OnlyRPC {
		client, err := subgraph.NewClient(cfg.Subgraph, cfg.HTTPTimeout, r.logger)
		if err != nil {
			return err
		}
		indexed = client
	}

	hasher, err := merkle.NewHasher(cfg.MerkleHasher)
	if err != nil {
		return err
	}

	pools := make([]mixer.Pool, 0, len(cfg.Instances))
	for _, instance := range cfg.Instances {
		backend, err := chain.NewInstance(chainClient, instance.Address)
		if err != nil {
			return err
		}
		pools = append(pools, mixer.Pool{
			Currency:      instance.Currency,
			Amount:        instance.Amount,
			Decimals:      instance.Decimals,
			Address:       instance.Address,
			DeployedBlock: instance.DeployedBlock,
			Backend:       backend,
		})
	}

	session, err := mixer.NewSession(mixer.Config{
		NetID:   netID,
		Network: network,
		Proxy:   proxyAddress(cfg),
		Native:  func(currency string) bool { return chain.IsNativeCurrency(netID, currency) },
		Sync: indexer.SyncConfig{
			ChunkSize:    cfg.ChunkSize,
			PageSize:     cfg.PageSize,
			OnlyRPC:      cfg.OnlyRPC,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		TreeHeight: cfg.MerkleTreeHeight,
		Hasher:     hasher,
	}, store, indexed, pools, r.logger)
	if err != nil {
		return err
	}
	r.session = session

	r.logger.Info("session ready",
		zap.Uint64("net_id", netID),
		zap.String("network", network),
		zap.String("storage", cfg.Storage),
		zap.Bool("subgraph", indexed != nil),
		zap.Int("pools", len(pools)),
	)
	return nil
}

func (r *runtime) openStore(ctx context.Context) (storage.EventStore, error) {
	switch r.cfg.Storage {
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, r.cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		r.closers = append(r.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil
	default:
		return storage.NewFileStore(r.cfg.CacheDir), nil
	}
}

func proxyAddress(cfg config.Config) common.Address {
	if cfg.Proxy == "" {
		return common.Address{}
	}
	address, _ := config.ParseAddress(cfg.Proxy)
	return address
}

var (
	_ mixer.PoolBackend     = (*chain.Instance)(nil)
	_ indexer.IndexedSource = (*subgraph.Client)(nil)
	_ relay.ReceiptSource   = (*chain.Client)(nil)
	_ relay.GasEstimator    = (*chain.Client)(nil)
)
