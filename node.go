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
	"math"
	"math/bits"
	"strconv"
)

// Version identifies one committed state of the tree. Versions advance
// monotonically; each batch of writes produces the next one.
type Version uint64

// PreGenesisVersion marks an optional base state rolled into the first
// real version.
const PreGenesisVersion Version = math.MaxUint64

// NodeKey locates a node: the version that wrote it plus its nibble
// path from the root.
type NodeKey struct {
	Version Version
	Path    NibblePath
}

// NewEmptyPathNodeKey returns the key of the root node at a version.
func NewEmptyPathNodeKey(version Version) NodeKey {
	return NodeKey{Version: version}
}

// GenChildNodeKey extends the path by one nibble and re-stamps the
// version.
func (k NodeKey) GenChildNodeKey(version Version, n Nibble) NodeKey {
	return NodeKey{Version: version, Path: k.Path.Push(n)}
}

// Equal reports whether two keys locate the same node.
func (k NodeKey) Equal(other NodeKey) bool {
	return k.Version == other.Version && k.Path.Equal(other.Path)
}

func (k NodeKey) String() string {
	return "(" + k.Path.String() + "@" + strconv.FormatUint(uint64(k.Version), 10) + ")"
}

// Child describes one child of an internal node: its hash, the version
// that wrote it, and whether it is a leaf or an internal node with a
// cached leaf count.
type Child struct {
	Hash      HashValue
	Version   Version
	IsLeaf    bool
	LeafCount uint64
}

// NumLeaves returns the number of leaves under the child.
func (c Child) NumLeaves() uint64 {
	if c.IsLeaf {
		return 1
	}
	return c.LeafCount
}

// Children maps occupied nibble slots to their descriptors.
type Children map[Nibble]Child

// Node is one of the three tree node variants.
type Node interface {
	// Hash returns the authenticator of the subtree rooted at the node.
	Hash() HashValue

	// NumLeaves returns the number of leaves under the node.
	NumLeaves() uint64

	// IsLeaf reports whether the node is a leaf.
	IsLeaf() bool
}

// NullNode is the empty tree. It hashes to the placeholder and is never
// persisted.
type NullNode struct{}

func (NullNode) Hash() HashValue {
	return SparseMerklePlaceholderHash
}

func (NullNode) NumLeaves() uint64 { return 0 }

func (NullNode) IsLeaf() bool { return false }

// LeafNode carries an account key, the hash committing to the value,
// and an opaque value reference together with the version that set it.
type LeafNode struct {
	accountKey HashValue
	valueHash  HashValue
	valueID    []byte
	version    Version
}

// NewLeafNode builds a leaf.
func NewLeafNode(accountKey, valueHash HashValue, valueID []byte, version Version) *LeafNode {
	return &LeafNode{
		accountKey: accountKey,
		valueHash:  valueHash,
		valueID:    append([]byte(nil), valueID...),
		version:    version,
	}
}

// AccountKey returns the full key of the leaf.
func (n *LeafNode) AccountKey() HashValue { return n.accountKey }

// ValueHash returns the hash committing to the value payload.
func (n *LeafNode) ValueHash() HashValue { return n.valueHash }

// ValueID returns the opaque reference to the value payload.
func (n *LeafNode) ValueID() []byte { return n.valueID }

// Version returns the version at which the value was written.
func (n *LeafNode) Version() Version { return n.version }

func (n *LeafNode) Hash() HashValue {
	return hashLeafNode(n.accountKey, n.valueHash)
}

func (n *LeafNode) NumLeaves() uint64 { return 1 }

func (n *LeafNode) IsLeaf() bool { return true }

// InternalNode is a radix-16 branch. The leaf count over all children
// is cached so the root answers leaf-count queries in constant time.
type InternalNode struct {
	children  Children
	leafCount uint64
}

// NewInternalNode builds an internal node from its children. It panics
// on an empty child map or on a lone leaf child, which must instead be
// lifted to the parent's position.
func NewInternalNode(children Children) *InternalNode {
	if len(children) == 0 {
		panic("internal node must have at least one child")
	}
	if len(children) == 1 {
		for _, c := range children {
			if c.IsLeaf {
				panic("internal node with a lone leaf child")
			}
		}
	}
	var leaves uint64
	for _, c := range children {
		leaves += c.NumLeaves()
	}
	return &InternalNode{children: children, leafCount: leaves}
}

// Child returns the descriptor at a nibble slot.
func (n *InternalNode) Child(idx Nibble) (Child, bool) {
	c, ok := n.children[idx]
	return c, ok
}

// Children returns the occupied slots of the node.
func (n *InternalNode) Children() Children {
	return n.children
}

func (n *InternalNode) NumLeaves() uint64 { return n.leafCount }

func (n *InternalNode) IsLeaf() bool { return false }

// generateBitmaps returns one bit per slot for existence and for
// leaf-ness, bit i corresponding to nibble i.
func (n *InternalNode) generateBitmaps() (uint16, uint16) {
	var existence, leaves uint16
	for idx, c := range n.children {
		existence |= 1 << uint(idx)
		if c.IsLeaf {
			leaves |= 1 << uint(idx)
		}
	}
	return existence, leaves
}

func rangeBitmaps(start, width uint8, existence, leaves uint16) (uint16, uint16) {
	mask := uint16((1<<uint(width))-1) << uint(start)
	return existence & mask, leaves & mask
}

// merkleHash reduces the slot range [start, start+width) as a balanced
// binary tree. An empty range is the placeholder; a range holding a
// single leaf child (or a single slot) collapses to that child's hash.
func (n *InternalNode) merkleHash(start, width uint8, existence, leaves uint16) HashValue {
	rangeExistence, rangeLeaves := rangeBitmaps(start, width, existence, leaves)
	if rangeExistence == 0 {
		return SparseMerklePlaceholderHash
	}
	if width == 1 || (bits.OnesCount16(rangeExistence) == 1 && rangeLeaves != 0) {
		only := Nibble(bits.TrailingZeros16(rangeExistence))
		return n.children[only].Hash
	}
	left := n.merkleHash(start, width/2, existence, leaves)
	right := n.merkleHash(start+width/2, width/2, existence, leaves)
	return hashInternalNode(left, right)
}

func (n *InternalNode) Hash() HashValue {
	existence, leaves := n.generateBitmaps()
	return n.merkleHash(0, NibbleCount, existence, leaves)
}

// childAndSiblingHalfStart locates, at the given height of the in-node
// binary tree, the first slot of the half holding nibble idx and of the
// adjacent sibling half.
func childAndSiblingHalfStart(idx Nibble, height uint8) (uint8, uint8) {
	childHalfStart := (0xff << height) & uint8(idx)
	siblingHalfStart := childHalfStart ^ (1 << height)
	return childHalfStart, siblingHalfStart
}

// childWithSiblings walks the in-node binary tree towards nibble idx,
// collecting the sibling hash at each of the four levels top-down. It
// returns the key of the node to descend into, or nil when the walk
// reaches an empty subtree. The walk stops early on a lone leaf child,
// whose deeper levels contribute no siblings.
func (n *InternalNode) childWithSiblings(nodeKey NodeKey, idx Nibble) (*NodeKey, []HashValue) {
	siblings := make([]HashValue, 0, 4)
	existence, leaves := n.generateBitmaps()
	for height := uint8(4); height > 0; height-- {
		h := height - 1
		width := uint8(1) << h
		childHalfStart, siblingHalfStart := childAndSiblingHalfStart(idx, h)
		siblings = append(siblings, n.merkleHash(siblingHalfStart, width, existence, leaves))
		rangeExistence, rangeLeaves := rangeBitmaps(childHalfStart, width, existence, leaves)
		if rangeExistence == 0 {
			return nil, siblings
		}
		if width == 1 || (bits.OnesCount16(rangeExistence) == 1 && rangeLeaves != 0) {
			only := Nibble(bits.TrailingZeros16(rangeExistence))
			child := n.children[only]
			key := nodeKey.GenChildNodeKey(child.Version, only)
			return &key, siblings
		}
	}
	panic("unreachable: in-node walk exhausted")
}
