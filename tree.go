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
	"sort"

	"github.com/pkg/errors"
)

// ValueRef is the identity of a value as the tree stores it: the hash
// committing to the payload and an opaque reference to the payload in
// an external value store. Only the hash enters the tree's hashing.
type ValueRef struct {
	Hash HashValue
	ID   []byte
}

// ValueUpdate is one key write within a batch. The value descriptor is
// taken by reference on the write path.
type ValueUpdate struct {
	Key   HashValue
	Value *ValueRef
}

// LeafValue is what a read returns: the value identity plus the version
// that last wrote the key.
type LeafValue struct {
	ValueHash HashValue
	ValueID   []byte
	Version   Version
}

// JellyfishMerkleTree is the tree engine over an untyped node store.
// It is stateless across calls; instantiating several engines over the
// same store is safe as long as their version ranges do not overlap.
type JellyfishMerkleTree struct {
	reader TreeReader
}

// NewJellyfishMerkleTree creates an engine reading through the given
// store.
func NewJellyfishMerkleTree(reader TreeReader) *JellyfishMerkleTree {
	return &JellyfishMerkleTree{reader: reader}
}

// kvEntry is a pending leaf during a batch descent. The version is the
// batch version for incoming writes, or the original write version for
// an existing leaf pushed down by a split.
type kvEntry struct {
	key       HashValue
	valueHash HashValue
	valueID   []byte
	version   Version
}

// BatchPutValueSets applies one value set per consecutive version
// starting at firstVersion, reading the previous state from
// persistedVersion (nil for a fresh tree, PreGenesisVersion for a
// rolled-in base). It returns one root hash per set and a single update
// batch covering all of them.
func (t *JellyfishMerkleTree) BatchPutValueSets(valueSets [][]ValueUpdate, persistedVersion *Version, firstVersion Version) ([]HashValue, *TreeUpdateBatch, error) {
	if persistedVersion != nil && *persistedVersion != PreGenesisVersion && *persistedVersion >= firstVersion {
		return nil, nil, errors.Errorf("persisted version %d is not before first version %d", uint64(*persistedVersion), uint64(firstVersion))
	}
	cache := newTreeCache(t.reader, firstVersion, persistedVersion)
	for i, set := range valueSets {
		version := firstVersion + Version(i)
		kvs, err := dedupAndSort(set, version)
		if err != nil {
			return nil, nil, err
		}
		if len(kvs) > 0 {
			newRootKey, _, err := t.batchInsertAt(cache.rootNodeKey, version, kvs, 0, cache)
			if err != nil {
				return nil, nil, err
			}
			cache.setRootNodeKey(newRootKey)
		}
		if err := cache.freeze(); err != nil {
			return nil, nil, err
		}
	}
	return cache.rootHashes, cache.intoBatch(), nil
}

// PutValueSet applies a single value set at the given version, reading
// the previous state from version-1 (or a fresh tree at version 0).
func (t *JellyfishMerkleTree) PutValueSet(valueSet []ValueUpdate, version Version) (HashValue, *TreeUpdateBatch, error) {
	var persisted *Version
	if version > 0 {
		prev := version - 1
		persisted = &prev
	}
	roots, batch, err := t.BatchPutValueSets([][]ValueUpdate{valueSet}, persisted, version)
	if err != nil {
		return HashValue{}, nil, err
	}
	return roots[0], batch, nil
}

// dedupAndSort collapses duplicate keys (later entries win) and orders
// the result by key so a single descent covers the batch.
func dedupAndSort(set []ValueUpdate, version Version) ([]kvEntry, error) {
	last := make(map[HashValue]int, len(set))
	for i, update := range set {
		if update.Value == nil {
			return nil, errors.Errorf("nil value descriptor for key %s", update.Key)
		}
		last[update.Key] = i
	}
	kvs := make([]kvEntry, 0, len(last))
	for key, i := range last {
		kvs = append(kvs, kvEntry{
			key:       key,
			valueHash: set[i].Value.Hash,
			valueID:   set[i].Value.ID,
			version:   version,
		})
	}
	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].key.Compare(kvs[j].key) < 0
	})
	return kvs, nil
}

// batchInsertAt applies the sorted key set to the subtree rooted at
// nodeKey, writing replacement nodes at the batch version. Subtrees no
// key descends into are referenced by their old version, not rewritten.
func (t *JellyfishMerkleTree) batchInsertAt(nodeKey NodeKey, version Version, kvs []kvEntry, depth int, cache *treeCache) (NodeKey, Node, error) {
	node, err := cache.getNode(nodeKey)
	if err != nil {
		return NodeKey{}, nil, err
	}
	switch existing := node.(type) {
	case *InternalNode:
		if depth >= RootNibbleHeight {
			return NodeKey{}, nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "internal node at key depth"}
		}
		cache.deleteNode(nodeKey, false)

		children := make(Children, len(existing.children)+1)
		for idx, c := range existing.children {
			children[idx] = c
		}
		for _, part := range partitionByNibble(kvs, depth) {
			var (
				childNode Node
				err       error
			)
			if c, ok := existing.Child(part.nibble); ok {
				childKey := nodeKey.GenChildNodeKey(c.Version, part.nibble)
				_, childNode, err = t.batchInsertAt(childKey, version, part.kvs, depth+1, cache)
			} else {
				_, childNode, err = t.insertAtEmpty(nodeKey.Path.Push(part.nibble), version, part.kvs, cache)
			}
			if err != nil {
				return NodeKey{}, nil, err
			}
			children[part.nibble] = childDescriptor(childNode, version)
		}

		newNode := NewInternalNode(children)
		newKey := NodeKey{Version: version, Path: nodeKey.Path}
		if err := cache.putNode(newKey, newNode); err != nil {
			return NodeKey{}, nil, err
		}
		return newKey, newNode, nil

	case *LeafNode:
		cache.deleteNode(nodeKey, true)

		overwritten := false
		for _, kv := range kvs {
			if kv.key == existing.accountKey {
				overwritten = true
				break
			}
		}
		merged := kvs
		if !overwritten {
			sitting := kvEntry{
				key:       existing.accountKey,
				valueHash: existing.valueHash,
				valueID:   existing.valueID,
				version:   existing.version,
			}
			pos := sort.Search(len(kvs), func(i int) bool {
				return kvs[i].key.Compare(sitting.key) > 0
			})
			merged = make([]kvEntry, 0, len(kvs)+1)
			merged = append(merged, kvs[:pos]...)
			merged = append(merged, sitting)
			merged = append(merged, kvs[pos:]...)
		}
		return t.insertAtEmpty(nodeKey.Path, version, merged, cache)

	case NullNode:
		if depth != 0 {
			return NodeKey{}, nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "null node below root"}
		}
		// A fresh root is not persisted, so there is nothing to retire.
		return t.insertAtEmpty(nodeKey.Path, version, kvs, cache)

	default:
		return NodeKey{}, nil, errors.Errorf("unknown node variant at %s", nodeKey)
	}
}

// insertAtEmpty materializes the sorted key set under an empty slot: a
// single key becomes a leaf; several keys grow the internal chain down
// to their first divergence.
func (t *JellyfishMerkleTree) insertAtEmpty(path NibblePath, version Version, kvs []kvEntry, cache *treeCache) (NodeKey, Node, error) {
	if len(kvs) == 1 {
		kv := kvs[0]
		leaf := NewLeafNode(kv.key, kv.valueHash, kv.valueID, kv.version)
		key := NodeKey{Version: version, Path: path}
		if err := cache.putNode(key, leaf); err != nil {
			return NodeKey{}, nil, err
		}
		return key, leaf, nil
	}

	depth := path.NumNibbles()
	if depth >= RootNibbleHeight {
		return NodeKey{}, nil, errors.Errorf("distinct keys collide over all %d nibbles", RootNibbleHeight)
	}
	children := make(Children)
	for _, part := range partitionByNibble(kvs, depth) {
		_, childNode, err := t.insertAtEmpty(path.Push(part.nibble), version, part.kvs, cache)
		if err != nil {
			return NodeKey{}, nil, err
		}
		children[part.nibble] = childDescriptor(childNode, version)
	}
	node := NewInternalNode(children)
	key := NodeKey{Version: version, Path: path}
	if err := cache.putNode(key, node); err != nil {
		return NodeKey{}, nil, err
	}
	return key, node, nil
}

type nibblePartition struct {
	nibble Nibble
	kvs    []kvEntry
}

// partitionByNibble splits a sorted key set into the contiguous runs
// sharing the nibble at the given depth, in ascending nibble order.
func partitionByNibble(kvs []kvEntry, depth int) []nibblePartition {
	parts := make([]nibblePartition, 0, 2)
	for start := 0; start < len(kvs); {
		n := kvs[start].key.Nibble(depth)
		end := start + 1
		for end < len(kvs) && kvs[end].key.Nibble(depth) == n {
			end++
		}
		parts = append(parts, nibblePartition{nibble: n, kvs: kvs[start:end]})
		start = end
	}
	return parts
}

func childDescriptor(node Node, version Version) Child {
	if node.IsLeaf() {
		return Child{Hash: node.Hash(), Version: version, IsLeaf: true}
	}
	return Child{Hash: node.Hash(), Version: version, LeafCount: node.NumLeaves()}
}

// getRootNode resolves the root at a version, mapping an absent root
// row to MissingRootError.
func (t *JellyfishMerkleTree) getRootNode(version Version) (Node, error) {
	rootKey := NewEmptyPathNodeKey(version)
	node, err := t.reader.GetNode(rootKey)
	if err != nil {
		if missing, ok := err.(*MissingNodeError); ok && missing.NodeKey.Equal(rootKey) {
			return nil, &MissingRootError{Version: version}
		}
		return nil, err
	}
	return node, nil
}

// GetRootHash returns the root hash at a version.
func (t *JellyfishMerkleTree) GetRootHash(version Version) (HashValue, error) {
	root, err := t.getRootNode(version)
	if err != nil {
		return HashValue{}, err
	}
	return root.Hash(), nil
}

// GetLeafCount returns the number of leaves at a version in constant
// time, from the root's cached child descriptors.
func (t *JellyfishMerkleTree) GetLeafCount(version Version) (uint64, error) {
	root, err := t.getRootNode(version)
	if err != nil {
		return 0, err
	}
	return root.NumLeaves(), nil
}

// Get returns the value identity stored under a key at a version, or
// nil when the key is absent.
func (t *JellyfishMerkleTree) Get(key HashValue, version Version) (*LeafValue, error) {
	nodeKey := NewEmptyPathNodeKey(version)
	node, err := t.getRootNode(version)
	if err != nil {
		return nil, err
	}
	for depth := 0; depth <= RootNibbleHeight; depth++ {
		switch n := node.(type) {
		case *InternalNode:
			if depth == RootNibbleHeight {
				return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "internal node at key depth"}
			}
			idx := key.Nibble(depth)
			child, ok := n.Child(idx)
			if !ok {
				return nil, nil
			}
			nodeKey = nodeKey.GenChildNodeKey(child.Version, idx)
			node, err = t.reader.GetNode(nodeKey)
			if err != nil {
				return nil, err
			}
		case *LeafNode:
			if n.accountKey == key {
				return &LeafValue{ValueHash: n.valueHash, ValueID: n.valueID, Version: n.version}, nil
			}
			return nil, nil
		case NullNode:
			if depth == 0 {
				return nil, nil
			}
			return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "null node below root"}
		default:
			return nil, errors.Errorf("unknown node variant at %s", nodeKey)
		}
	}
	return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "descent exceeded key depth"}
}

// GetWithProof returns the value identity under a key at a version,
// together with a proof of inclusion or exclusion against that
// version's root.
func (t *JellyfishMerkleTree) GetWithProof(key HashValue, version Version) (*LeafValue, *SparseMerkleProof, error) {
	nodeKey := NewEmptyPathNodeKey(version)
	node, err := t.getRootNode(version)
	if err != nil {
		return nil, nil, err
	}
	var siblings []HashValue
	for depth := 0; depth <= RootNibbleHeight; depth++ {
		switch n := node.(type) {
		case *InternalNode:
			if depth == RootNibbleHeight {
				return nil, nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "internal node at key depth"}
			}
			childKey, inNode := n.childWithSiblings(nodeKey, key.Nibble(depth))
			siblings = append(siblings, inNode...)
			if childKey == nil {
				return nil, newSparseMerkleProof(nil, reverseHashes(siblings)), nil
			}
			nodeKey = *childKey
			node, err = t.reader.GetNode(nodeKey)
			if err != nil {
				return nil, nil, err
			}
		case *LeafNode:
			proofLeaf := &SparseMerkleLeafNode{Key: n.accountKey, ValueHash: n.valueHash}
			var value *LeafValue
			if n.accountKey == key {
				value = &LeafValue{ValueHash: n.valueHash, ValueID: n.valueID, Version: n.version}
			}
			return value, newSparseMerkleProof(proofLeaf, reverseHashes(siblings)), nil
		case NullNode:
			if depth == 0 {
				return nil, newSparseMerkleProof(nil, nil), nil
			}
			return nil, nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "null node below root"}
		default:
			return nil, nil, errors.Errorf("unknown node variant at %s", nodeKey)
		}
	}
	return nil, nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "descent exceeded key depth"}
}

// GetRangeProof proves every leaf with key <= rightmostKeyToProve at a
// version. The rightmost key must exist; the proof carries only the
// right-tree siblings, the left frontier being reconstructible from the
// proven leaves.
func (t *JellyfishMerkleTree) GetRangeProof(rightmostKeyToProve HashValue, version Version) (*SparseMerkleRangeProof, error) {
	value, proof, err := t.GetWithProof(rightmostKeyToProve, version)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, errors.New("rightmost key to prove must exist")
	}
	siblings := proof.Siblings()
	depth := len(siblings)
	rightSiblings := make([]HashValue, 0, depth)
	for j := 0; j < depth; j++ {
		if !rightmostKeyToProve.Bit(j) {
			rightSiblings = append(rightSiblings, siblings[depth-1-j])
		}
	}
	return newSparseMerkleRangeProof(reverseHashes(rightSiblings)), nil
}

func reverseHashes(hashes []HashValue) []HashValue {
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
	return hashes
}
