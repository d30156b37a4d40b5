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

import "fmt"

// TreeReader is the read capability the tree requires from a store.
type TreeReader interface {
	// GetNode returns the node at a key, or a *MissingNodeError when no
	// node was written there.
	GetNode(nodeKey NodeKey) (Node, error)
}

// TreeStore is the full capability a store exposes: snapshot reads,
// atomic batch writes, and purging of superseded nodes.
type TreeStore interface {
	TreeReader

	// WriteTreeUpdateBatch persists a batch atomically. Overwriting an
	// existing node is forbidden.
	WriteTreeUpdateBatch(batch *TreeUpdateBatch) error

	// PurgeStaleNodes deletes every node whose stale-node entry has
	// StaleSinceVersion <= upToVersion, then the entries themselves.
	PurgeStaleNodes(upToVersion Version) error
}

// NodeBatchEntry is one node to insert, addressed by its key.
type NodeBatchEntry struct {
	Key  NodeKey
	Node Node
}

// StaleNodeIndex records that a node stopped being reachable from the
// root written at StaleSinceVersion.
type StaleNodeIndex struct {
	StaleSinceVersion Version
	NodeKey           NodeKey
}

// NodeStats counts the node churn of one version.
type NodeStats struct {
	NewNodes    int
	NewLeaves   int
	StaleNodes  int
	StaleLeaves int
}

// TreeUpdateBatch is the output of the batch update engine: nodes to
// insert, nodes superseded, and per-version churn counters.
type TreeUpdateBatch struct {
	NodeBatch           []NodeBatchEntry
	StaleNodeIndexBatch []StaleNodeIndex
	NodeStats           []NodeStats
}

// MissingNodeError reports a referenced node absent from the store.
// During a descent it indicates tree corruption and is fatal.
type MissingNodeError struct {
	NodeKey NodeKey
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("missing node at %s", e.NodeKey)
}

// MissingRootError reports that no root was ever written at a version.
type MissingRootError struct {
	Version Version
}

func (e *MissingRootError) Error() string {
	return fmt.Sprintf("missing root at version %d", uint64(e.Version))
}

// NonCanonicalTreeError reports a structural invariant violated on
// read, e.g. a null node below the root.
type NonCanonicalTreeError struct {
	NodeKey NodeKey
	Reason  string
}

func (e *NonCanonicalTreeError) Error() string {
	return fmt.Sprintf("non-canonical tree at %s: %s", e.NodeKey, e.Reason)
}
