package merkle

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"mixerSync/internal/model"
)

// ContractState answers the pool contract's root and nullifier predicates.
type ContractState interface {
	IsKnownRoot(ctx context.Context, root *big.Int) (bool, error)
	IsSpent(ctx context.Context, nullifierHash *big.Int) (bool, error)
}

// Service rebuilds commitment trees from cached deposit events and checks
// them against the contract.
type Service struct {
	height int
	hasher Hasher
	state  ContractState
	logger *zap.Logger
}

func NewService(height int, hasher Hasher, state ContractState, logger *zap.Logger) (*Service, error) {
	if height <= 0 {
		height = DefaultHeight
	}
	if hasher == nil {
		hasher = SpongeHasher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{height: height, hasher: hasher, state: state, logger: logger}, nil
}

// Hasher returns the node hasher in use.
func (s *Service) Hasher() Hasher {
	return s.hasher
}

// BuildTree drops sentinels, orders deposits by leaf index and builds the
// tree over their commitments. Leaf indices must run 0..n-1; a repeated
// index is accepted only with an identical commitment.
func (s *Service) BuildTree(events []model.Event) (*Tree, error) {
	deposits := model.FilterSentinels(events)
	sort.SliceStable(deposits, func(i, j int) bool {
		return deposits[i].LeafIndex < deposits[j].LeafIndex
	})

	leaves := make([]*big.Int, 0, len(deposits))
	for _, event := range deposits {
		if !event.IsDeposit() {
			return nil, fmt.Errorf("%w: non-deposit record in tx %s", model.ErrDataCorrupt, event.TransactionHash)
		}
		commitment, err := event.CommitmentInt()
		if err != nil {
			return nil, fmt.Errorf("%w: leaf %d: %v", model.ErrDataCorrupt, event.LeafIndex, err)
		}

		next := uint64(len(leaves))
		switch {
		case uint64(event.LeafIndex) == next:
			leaves = append(leaves, commitment)
		case uint64(event.LeafIndex)+1 == next && leaves[next-1].Cmp(commitment) == 0:
			continue
		case uint64(event.LeafIndex) < next:
			return nil, fmt.Errorf("%w: leaf %d has conflicting commitments", model.ErrDataCorrupt, event.LeafIndex)
		default:
			return nil, fmt.Errorf("%w: missing leaf %d (next cached leaf is %d)", model.ErrDataCorrupt, next, event.LeafIndex)
		}
	}

	tree, err := NewTree(s.height, s.hasher, leaves)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDataCorrupt, err)
	}
	s.logger.Debug("tree built", zap.Int("leaves", tree.Len()), zap.String("root", tree.Root().String()))
	return tree, nil
}

// FindLeafIndex looks commitment up by value. A miss is not an error: the
// deposit may not be synchronized yet.
func (s *Service) FindLeafIndex(tree *Tree, commitment *big.Int) (int, bool) {
	return tree.IndexOf(commitment)
}

// ValidateRoot asks the contract whether root is in its root history.
func (s *Service) ValidateRoot(ctx context.Context, root *big.Int) (bool, error) {
	if s.state == nil {
		return false, fmt.Errorf("contract state is not configured")
	}
	known, err := s.state.IsKnownRoot(ctx, root)
	if err != nil {
		return false, fmt.Errorf("%w: isKnownRoot: %v", model.ErrSourceUnavailable, err)
	}
	return known, nil
}

// Prove checks that the tree root is known, that nullifierHash is unspent
// and that commitment is a leaf, in that order, and returns the inclusion
// proof.
func (s *Service) Prove(ctx context.Context, tree *Tree, commitment, nullifierHash *big.Int) (model.MerkleProof, error) {
	root := tree.Root()
	known, err := s.ValidateRoot(ctx, root)
	if err != nil {
		return model.MerkleProof{}, err
	}
	if !known {
		s.logger.Error("merkle root is not known to the contract", zap.String("root", root.String()), zap.Int("leaves", tree.Len()))
		return model.MerkleProof{}, fmt.Errorf("%w: root %s over %d leaves", model.ErrRootInvalid, root, tree.Len())
	}

	spent, err := s.state.IsSpent(ctx, nullifierHash)
	if err != nil {
		return model.MerkleProof{}, fmt.Errorf("%w: isSpent: %v", model.ErrSourceUnavailable, err)
	}
	if spent {
		s.logger.Error("note is already spent", zap.String("nullifier_hash", nullifierHash.String()))
		return model.MerkleProof{}, model.ErrNullifierSpent
	}

	leafIndex, found := s.FindLeafIndex(tree, commitment)
	if !found {
		return model.MerkleProof{}, fmt.Errorf("%w: %s", model.ErrLeafNotFound, commitment)
	}

	elements, indices, err := tree.Path(leafIndex)
	if err != nil {
		return model.MerkleProof{}, err
	}
	return model.MerkleProof{
		Root:         root,
		LeafIndex:    leafIndex,
		PathElements: elements,
		PathIndices:  indices,
	}, nil
}
