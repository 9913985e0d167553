package merkle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixerSync/internal/model"
)

type fakeState struct {
	knownRoots map[string]bool
	spent      map[string]bool
	err        error
	calls      []string
}

func (f *fakeState) IsKnownRoot(_ context.Context, root *big.Int) (bool, error) {
	f.calls = append(f.calls, "isKnownRoot")
	return f.knownRoots[root.String()], f.err
}

func (f *fakeState) IsSpent(_ context.Context, nullifierHash *big.Int) (bool, error) {
	f.calls = append(f.calls, "isSpent")
	return f.spent[nullifierHash.String()], f.err
}

func deposit(leaf uint32, commitment int64) model.Event {
	return model.Event{
		BlockNumber:     uint64(100 + leaf),
		TransactionHash: fmt.Sprintf("0x%x", 1000+leaf),
		Commitment:      fmt.Sprintf("0x%064x", commitment),
		LeafIndex:       leaf,
		Timestamp:       1600000000,
	}
}

func newTestService(t *testing.T, state ContractState) *Service {
	t.Helper()
	service, err := NewService(DefaultHeight, SpongeHasher{}, state, nil)
	require.NoError(t, err)
	return service
}

func TestBuildTreeIgnoresAppendOrderAndSentinels(t *testing.T) {
	service := newTestService(t, nil)

	events := []model.Event{deposit(0, 11), deposit(1, 22), deposit(2, 33), deposit(3, 44), deposit(4, 55)}
	reference, err := service.BuildTree(events)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]model.Event{model.NewSentinel(90)}, events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		shuffled = append(shuffled, model.NewSentinel(500))

		tree, err := service.BuildTree(shuffled)
		require.NoError(t, err)
		assert.Equal(t, 0, reference.Root().Cmp(tree.Root()))
		assert.Equal(t, 5, tree.Len())
	}
}

func TestBuildTreeDuplicateRecordsCollapse(t *testing.T) {
	service := newTestService(t, nil)

	tree, err := service.BuildTree([]model.Event{deposit(0, 11), deposit(1, 22), deposit(1, 22)})
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
}

func TestBuildTreeRejectsInconsistentLeaves(t *testing.T) {
	service := newTestService(t, nil)

	tests := []struct {
		name   string
		events []model.Event
	}{
		{name: "gap", events: []model.Event{deposit(0, 11), deposit(2, 33)}},
		{name: "missing first", events: []model.Event{deposit(1, 22)}},
		{name: "conflict", events: []model.Event{deposit(0, 11), deposit(1, 22), deposit(1, 23)}},
		{name: "bad commitment", events: []model.Event{{BlockNumber: 1, TransactionHash: "0x1", Commitment: "0xzz"}}},
		{name: "withdrawal", events: []model.Event{{BlockNumber: 1, TransactionHash: "0x1", NullifierHash: "0x2"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.BuildTree(tc.events)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrDataCorrupt))
		})
	}
}

func TestBuildTreeNewDepositChangesRoot(t *testing.T) {
	service := newTestService(t, nil)

	events := []model.Event{deposit(0, 0xA), deposit(1, 0xB), deposit(2, 0xC)}
	before, err := service.BuildTree(events)
	require.NoError(t, err)

	after, err := service.BuildTree(append(events, model.NewSentinel(200), deposit(3, 0xD)))
	require.NoError(t, err)

	assert.Equal(t, []*big.Int{big.NewInt(0xA), big.NewInt(0xB), big.NewInt(0xC), big.NewInt(0xD)}, after.Leaves())
	assert.NotEqual(t, 0, before.Root().Cmp(after.Root()))

	index, found := service.FindLeafIndex(after, big.NewInt(0xD))
	assert.True(t, found)
	assert.Equal(t, 3, index)

	_, found = service.FindLeafIndex(before, big.NewInt(0xD))
	assert.False(t, found)
}

func TestProveChecksPreconditionsInOrder(t *testing.T) {
	ctx := context.Background()
	events := []model.Event{deposit(0, 11), deposit(1, 22)}
	nullifier := big.NewInt(999)

	probe := newTestService(t, nil)
	tree, err := probe.BuildTree(events)
	require.NoError(t, err)
	root := tree.Root().String()

	t.Run("unknown root", func(t *testing.T) {
		state := &fakeState{spent: map[string]bool{nullifier.String(): true}}
		_, err := newTestService(t, state).Prove(ctx, tree, big.NewInt(11), nullifier)
		assert.True(t, errors.Is(err, model.ErrRootInvalid))
		assert.Equal(t, []string{"isKnownRoot"}, state.calls)
	})

	t.Run("spent wins over missing leaf", func(t *testing.T) {
		state := &fakeState{knownRoots: map[string]bool{root: true}, spent: map[string]bool{nullifier.String(): true}}
		_, err := newTestService(t, state).Prove(ctx, tree, big.NewInt(77), nullifier)
		assert.True(t, errors.Is(err, model.ErrNullifierSpent))
	})

	t.Run("missing leaf", func(t *testing.T) {
		state := &fakeState{knownRoots: map[string]bool{root: true}}
		_, err := newTestService(t, state).Prove(ctx, tree, big.NewInt(77), nullifier)
		assert.True(t, errors.Is(err, model.ErrLeafNotFound))
	})

	t.Run("rpc failure", func(t *testing.T) {
		state := &fakeState{err: errors.New("timeout")}
		_, err := newTestService(t, state).Prove(ctx, tree, big.NewInt(11), nullifier)
		assert.True(t, errors.Is(err, model.ErrSourceUnavailable))
	})

	t.Run("valid", func(t *testing.T) {
		state := &fakeState{knownRoots: map[string]bool{root: true}}
		service := newTestService(t, state)
		proof, err := service.Prove(ctx, tree, big.NewInt(22), nullifier)
		require.NoError(t, err)
		assert.Equal(t, 1, proof.LeafIndex)
		assert.Equal(t, root, proof.Root.String())
		assert.Equal(t, 1, proof.PathIndices[0])

		recomputed, err := VerifyPath(service.Hasher(), big.NewInt(22), proof.PathElements, proof.PathIndices)
		require.NoError(t, err)
		assert.Equal(t, root, recomputed.String())
	})
}
