package model

import "math/big"

// MerkleProof holds the tree-derived inputs to the withdrawal proof.
type MerkleProof struct {
	Root         *big.Int
	LeafIndex    int
	PathElements []*big.Int
	PathIndices  []int
}

// Note is the spending material for one deposit. Commitment and nullifier
// hash are derived by the caller; this module never hashes secrets.
type Note struct {
	Currency      string
	Amount        string
	NetID         uint64
	Nullifier     *big.Int
	Secret        *big.Int
	Commitment    *big.Int
	NullifierHash *big.Int
}
