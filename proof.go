// This is free and unencumbered software released into the public domain.
//
// Anyone is free to copy, modify, publish, use, compile, sell, or
// distribute this software, either in source code form or as a compiled
// binary, for any purpose, commercial or non-commercial, and by any
// means.
//
// In jurisdictions that recognize copyright laws, the author or authors
// of this software dedicate any and all copyright interest in the
// software to the public domain. We make this dedication for the benefit
// of the public at large and to the detriment of our heirs and
// successors. We intend this dedication to be an overt act of
// relinquishment in perpetuity of all present and future rights to this
// software under copyright law.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
// EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
// MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
// IN NO EVENT SHALL THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.
//
// For more information, please refer to <https://unlicense.org>

package jmt

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Proof verification failure kinds.
var (
	ErrProofStructureMismatch = stderrors.New("proof structure mismatch")
	ErrProofRootMismatch      = stderrors.New("proof root mismatch")
	ErrProofKeyMismatch       = stderrors.New("proof key mismatch")
)

// SparseMerkleLeafNode is the leaf as it appears inside a proof: the
// key and the value-hash commitment, without any tree bookkeeping.
type SparseMerkleLeafNode struct {
	Key       HashValue
	ValueHash HashValue
}

// Hash returns the leaf's authenticator.
func (n SparseMerkleLeafNode) Hash() HashValue {
	return hashLeafNode(n.Key, n.ValueHash)
}

// SparseMerkleProof proves the presence or absence of a single key. The
// leaf is nil when the descent ended at an empty slot; otherwise it is
// the leaf the descent reached, which carries a different key for an
// exclusion proof. Siblings are ordered bottom-up, and the deepest
// levels where the leaf sits alone carry no siblings at all.
type SparseMerkleProof struct {
	leaf     *SparseMerkleLeafNode
	siblings []HashValue
}

func newSparseMerkleProof(leaf *SparseMerkleLeafNode, siblings []HashValue) *SparseMerkleProof {
	return &SparseMerkleProof{leaf: leaf, siblings: siblings}
}

// Leaf returns the proof's leaf, nil for an exclusion ending at an
// empty slot.
func (p *SparseMerkleProof) Leaf() *SparseMerkleLeafNode {
	return p.leaf
}

// Siblings returns the sibling hashes, bottom-up.
func (p *SparseMerkleProof) Siblings() []HashValue {
	return p.siblings
}

// Verify reconstructs the root from the proof and checks it against
// expectedRootHash. A non-nil valueHash claims inclusion of (key,
// valueHash); nil claims exclusion of key.
func (p *SparseMerkleProof) Verify(expectedRootHash, key HashValue, valueHash *HashValue) error {
	if len(p.siblings) > HashLengthInBits {
		return errors.Wrapf(ErrProofStructureMismatch, "%d siblings exceed key depth", len(p.siblings))
	}
	switch {
	case valueHash != nil && p.leaf != nil:
		if key != p.leaf.Key {
			return errors.Wrapf(ErrProofKeyMismatch, "proof leaf carries key %s, want %s", p.leaf.Key, key)
		}
		if *valueHash != p.leaf.ValueHash {
			return errors.Wrapf(ErrProofStructureMismatch, "proof leaf carries value hash %s, want %s", p.leaf.ValueHash, *valueHash)
		}
	case valueHash != nil && p.leaf == nil:
		return errors.Wrap(ErrProofStructureMismatch, "inclusion claimed but proof shows an empty slot")
	case valueHash == nil && p.leaf != nil:
		if key == p.leaf.Key {
			return errors.Wrap(ErrProofKeyMismatch, "exclusion claimed but proof leaf carries the key")
		}
		if key.CommonPrefixBitsLen(p.leaf.Key) < len(p.siblings) {
			return errors.Wrap(ErrProofStructureMismatch, "proof leaf does not share the descent prefix")
		}
	}

	current := SparseMerklePlaceholderHash
	if p.leaf != nil {
		current = p.leaf.Hash()
	}
	for i, sibling := range p.siblings {
		if key.Bit(len(p.siblings) - 1 - i) {
			current = hashInternalNode(sibling, current)
		} else {
			current = hashInternalNode(current, sibling)
		}
	}
	if current != expectedRootHash {
		return errors.Wrapf(ErrProofRootMismatch, "reconstructed %s, want %s", current, expectedRootHash)
	}
	return nil
}

// SparseMerkleRangeProof authenticates every leaf with key up to and
// including a rightmost one. It stores only the hashes of the subtrees
// entirely to the right of the rightmost leaf's path; the left-tree
// hashes are reconstructed by the verifier from the proven leaves.
type SparseMerkleRangeProof struct {
	rightSiblings []HashValue
}

func newSparseMerkleRangeProof(rightSiblings []HashValue) *SparseMerkleRangeProof {
	return &SparseMerkleRangeProof{rightSiblings: rightSiblings}
}

// RightSiblings returns the right-tree sibling hashes, bottom-up.
func (p *SparseMerkleRangeProof) RightSiblings() []HashValue {
	return p.rightSiblings
}

// Verify folds the rightmost known leaf against the caller-derived
// left-tree siblings and the stored right-tree siblings, both ordered
// bottom-up, and checks the result against expectedRootHash.
func (p *SparseMerkleRangeProof) Verify(expectedRootHash HashValue, rightmostKnownLeaf SparseMerkleLeafNode, leftSiblings []HashValue) error {
	numSiblings := len(leftSiblings) + len(p.rightSiblings)
	if numSiblings > HashLengthInBits {
		return errors.Wrapf(ErrProofStructureMismatch, "%d siblings exceed key depth", numSiblings)
	}
	var (
		left    int
		right   int
		current = rightmostKnownLeaf.Hash()
	)
	for i := numSiblings - 1; i >= 0; i-- {
		if rightmostKnownLeaf.Key.Bit(i) {
			if left >= len(leftSiblings) {
				return errors.Wrap(ErrProofStructureMismatch, "left siblings exhausted")
			}
			current = hashInternalNode(leftSiblings[left], current)
			left++
		} else {
			if right >= len(p.rightSiblings) {
				return errors.Wrap(ErrProofStructureMismatch, "right siblings exhausted")
			}
			current = hashInternalNode(current, p.rightSiblings[right])
			right++
		}
	}
	if left != len(leftSiblings) || right != len(p.rightSiblings) {
		return errors.Wrap(ErrProofStructureMismatch, "unconsumed siblings")
	}
	if current != expectedRootHash {
		return errors.Wrapf(ErrProofRootMismatch, "reconstructed %s, want %s", current, expectedRootHash)
	}
	return nil
}
