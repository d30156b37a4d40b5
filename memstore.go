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
	"sync"

	"github.com/pkg/errors"
)

// MockTreeStore is an in-memory TreeStore. Nodes are kept as values, so
// it exercises the tree contract without any serialization; writes that
// would overwrite an existing node fail, matching the immutability rule
// of persisted nodes.
type MockTreeStore struct {
	mu         sync.RWMutex
	nodes      map[string]NodeBatchEntry
	staleIndex []StaleNodeIndex
}

// NewMockTreeStore creates an empty store.
func NewMockTreeStore() *MockTreeStore {
	return &MockTreeStore{nodes: make(map[string]NodeBatchEntry)}
}

// GetNode implements TreeReader.
func (s *MockTreeStore) GetNode(nodeKey NodeKey) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.nodes[string(EncodeNodeKey(nodeKey))]
	if !ok {
		return nil, &MissingNodeError{NodeKey: nodeKey}
	}
	return entry.Node, nil
}

// PutNode inserts a single node, e.g. to seed a pre-genesis state.
func (s *MockTreeStore) PutNode(nodeKey NodeKey, node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(EncodeNodeKey(nodeKey))
	if _, ok := s.nodes[k]; ok {
		return errors.Errorf("node %s already exists", nodeKey)
	}
	s.nodes[k] = NodeBatchEntry{Key: nodeKey, Node: node}
	return nil
}

// WriteTreeUpdateBatch implements TreeStore. The batch is validated
// before any mutation so a failure leaves the store untouched.
func (s *MockTreeStore) WriteTreeUpdateBatch(batch *TreeUpdateBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range batch.NodeBatch {
		if _, ok := s.nodes[string(EncodeNodeKey(entry.Key))]; ok {
			return errors.Errorf("batch overwrites node %s", entry.Key)
		}
	}
	for _, entry := range batch.NodeBatch {
		s.nodes[string(EncodeNodeKey(entry.Key))] = entry
	}
	s.staleIndex = append(s.staleIndex, batch.StaleNodeIndexBatch...)
	return nil
}

// PurgeStaleNodes implements TreeStore.
func (s *MockTreeStore) PurgeStaleNodes(upToVersion Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.staleIndex[:0]
	for _, entry := range s.staleIndex {
		if entry.StaleSinceVersion <= upToVersion {
			delete(s.nodes, string(EncodeNodeKey(entry.NodeKey)))
			continue
		}
		remaining = append(remaining, entry)
	}
	s.staleIndex = remaining
	return nil
}

// NumNodes returns the number of stored nodes.
func (s *MockTreeStore) NumNodes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// NumStaleEntries returns the number of outstanding stale-node entries.
func (s *MockTreeStore) NumStaleEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staleIndex)
}
