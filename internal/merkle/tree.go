package merkle

import (
	"fmt"
	"math/big"
)

const DefaultHeight = 20

// ZeroValue is keccak256("tornado") reduced into the BN254 scalar field. It
// fills empty leaves.
var ZeroValue, _ = new(big.Int).SetString("21663839004416932945382355908790599225266501822907911457504978515578255421292", 10)

// Tree is a fixed-height binary Merkle tree whose empty positions hold the
// per-level zero hashes. It is built once and never mutated.
type Tree struct {
	height int
	zeros  []*big.Int
	layers [][]*big.Int
	index  map[string]int
}

// NewTree builds the tree over leaves in the given order.
func NewTree(height int, hasher Hasher, leaves []*big.Int) (*Tree, error) {
	if height <= 0 || height > 32 {
		return nil, fmt.Errorf("invalid tree height: %d", height)
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is nil")
	}
	if uint64(len(leaves)) > uint64(1)<<uint(height) {
		return nil, fmt.Errorf("tree is full: %d leaves for height %d", len(leaves), height)
	}

	zeros := make([]*big.Int, height+1)
	zeros[0] = new(big.Int).Set(ZeroValue)
	for level := 1; level <= height; level++ {
		zeros[level] = hasher.Hash(zeros[level-1], zeros[level-1])
	}

	layers := make([][]*big.Int, height+1)
	layers[0] = make([]*big.Int, len(leaves))
	index := make(map[string]int, len(leaves))
	for i, leaf := range leaves {
		if leaf == nil {
			return nil, fmt.Errorf("leaf %d is nil", i)
		}
		layers[0][i] = new(big.Int).Set(leaf)
		if _, ok := index[leaf.String()]; !ok {
			index[leaf.String()] = i
		}
	}

	for level := 1; level <= height; level++ {
		below := layers[level-1]
		layer := make([]*big.Int, (len(below)+1)/2)
		for i := range layer {
			left := below[2*i]
			right := zeros[level-1]
			if 2*i+1 < len(below) {
				right = below[2*i+1]
			}
			layer[i] = hasher.Hash(left, right)
		}
		layers[level] = layer
	}

	return &Tree{height: height, zeros: zeros, layers: layers, index: index}, nil
}

// Height returns the number of levels above the leaves.
func (t *Tree) Height() int {
	return t.height
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.layers[0])
}

// Root returns the tree root. An empty tree has the top zero hash as root.
func (t *Tree) Root() *big.Int {
	top := t.layers[t.height]
	if len(top) == 0 {
		return new(big.Int).Set(t.zeros[t.height])
	}
	return new(big.Int).Set(top[0])
}

// Leaves returns a copy of the leaf sequence.
func (t *Tree) Leaves() []*big.Int {
	out := make([]*big.Int, len(t.layers[0]))
	for i, leaf := range t.layers[0] {
		out[i] = new(big.Int).Set(leaf)
	}
	return out
}

// IndexOf returns the first position of leaf.
func (t *Tree) IndexOf(leaf *big.Int) (int, bool) {
	if leaf == nil {
		return 0, false
	}
	i, ok := t.index[leaf.String()]
	return i, ok
}

// Path returns the sibling of each level from leaf to root and whether the
// node at that level is a right child.
func (t *Tree) Path(leafIndex int) ([]*big.Int, []int, error) {
	if leafIndex < 0 || leafIndex >= t.Len() {
		return nil, nil, fmt.Errorf("leaf index %d out of range [0, %d)", leafIndex, t.Len())
	}

	elements := make([]*big.Int, t.height)
	indices := make([]int, t.height)
	idx := leafIndex
	for level := 0; level < t.height; level++ {
		indices[level] = idx % 2
		sibling := idx ^ 1
		if sibling < len(t.layers[level]) {
			elements[level] = new(big.Int).Set(t.layers[level][sibling])
		} else {
			elements[level] = new(big.Int).Set(t.zeros[level])
		}
		idx >>= 1
	}
	return elements, indices, nil
}

// VerifyPath recomputes the root from leaf and its path.
func VerifyPath(hasher Hasher, leaf *big.Int, elements []*big.Int, indices []int) (*big.Int, error) {
	if len(elements) != len(indices) {
		return nil, fmt.Errorf("path length mismatch: %d elements, %d indices", len(elements), len(indices))
	}
	node := new(big.Int).Set(leaf)
	for level := range elements {
		if indices[level] == 0 {
			node = hasher.Hash(node, elements[level])
		} else {
			node = hasher.Hash(elements[level], node)
		}
	}
	return node, nil
}
