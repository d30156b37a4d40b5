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

// treeCache is the working set of one batch-update call. Nodes created
// for the version under construction live in nodeCache until freeze
// moves them into the frozen batch; deleting a node that was created by
// the same version simply drops it, so ephemeral in-batch rewrites
// leave no stale entries behind.
type treeCache struct {
	reader TreeReader

	rootNodeKey NodeKey
	freshRoot   bool

	nextVersion Version

	nodeCache      map[string]NodeBatchEntry
	staleNodeCache map[string]NodeKey
	numNewLeaves   int
	numStaleLeaves int

	frozenNodes map[string]Node
	frozenBatch TreeUpdateBatch
	rootHashes  []HashValue
}

func newTreeCache(reader TreeReader, firstVersion Version, persistedVersion *Version) *treeCache {
	c := &treeCache{
		reader:         reader,
		nextVersion:    firstVersion,
		nodeCache:      make(map[string]NodeBatchEntry),
		staleNodeCache: make(map[string]NodeKey),
		frozenNodes:    make(map[string]Node),
	}
	if persistedVersion != nil {
		c.rootNodeKey = NewEmptyPathNodeKey(*persistedVersion)
	} else {
		c.rootNodeKey = NewEmptyPathNodeKey(firstVersion)
		c.freshRoot = true
	}
	return c
}

func (c *treeCache) getNode(nodeKey NodeKey) (Node, error) {
	if c.freshRoot && nodeKey.Equal(c.rootNodeKey) {
		return NullNode{}, nil
	}
	k := string(EncodeNodeKey(nodeKey))
	if entry, ok := c.nodeCache[k]; ok {
		return entry.Node, nil
	}
	if node, ok := c.frozenNodes[k]; ok {
		return node, nil
	}
	return c.reader.GetNode(nodeKey)
}

func (c *treeCache) putNode(nodeKey NodeKey, node Node) error {
	k := string(EncodeNodeKey(nodeKey))
	if _, ok := c.nodeCache[k]; ok {
		return errors.Errorf("node %s already exists in cache", nodeKey)
	}
	c.nodeCache[k] = NodeBatchEntry{Key: nodeKey, Node: node}
	if node.IsLeaf() {
		c.numNewLeaves++
	}
	return nil
}

// deleteNode retires the node a rewrite displaced. A node created by
// the version still under construction is dropped outright; anything
// older becomes a stale-node entry stamped at freeze time.
func (c *treeCache) deleteNode(oldKey NodeKey, isLeaf bool) {
	k := string(EncodeNodeKey(oldKey))
	if _, ok := c.nodeCache[k]; ok {
		delete(c.nodeCache, k)
		if isLeaf {
			c.numNewLeaves--
		}
		return
	}
	c.staleNodeCache[k] = oldKey
	if isLeaf {
		c.numStaleLeaves++
	}
}

func (c *treeCache) setRootNodeKey(nodeKey NodeKey) {
	c.rootNodeKey = nodeKey
	c.freshRoot = false
}

// freeze seals the version under construction: records its root hash
// and churn counters, moves its nodes into the frozen batch in key
// order, and stamps the collected stale entries.
func (c *treeCache) freeze() error {
	root, err := c.getNode(c.rootNodeKey)
	if err != nil {
		return errors.Wrap(err, "freezing version with unreadable root")
	}
	c.rootHashes = append(c.rootHashes, root.Hash())

	c.frozenBatch.NodeStats = append(c.frozenBatch.NodeStats, NodeStats{
		NewNodes:    len(c.nodeCache),
		NewLeaves:   c.numNewLeaves,
		StaleNodes:  len(c.staleNodeCache),
		StaleLeaves: c.numStaleLeaves,
	})

	keys := make([]string, 0, len(c.nodeCache))
	for k := range c.nodeCache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := c.nodeCache[k]
		c.frozenBatch.NodeBatch = append(c.frozenBatch.NodeBatch, entry)
		c.frozenNodes[k] = entry.Node
	}

	staleKeys := make([]string, 0, len(c.staleNodeCache))
	for k := range c.staleNodeCache {
		staleKeys = append(staleKeys, k)
	}
	sort.Strings(staleKeys)
	for _, k := range staleKeys {
		c.frozenBatch.StaleNodeIndexBatch = append(c.frozenBatch.StaleNodeIndexBatch, StaleNodeIndex{
			StaleSinceVersion: c.nextVersion,
			NodeKey:           c.staleNodeCache[k],
		})
	}

	c.nodeCache = make(map[string]NodeBatchEntry)
	c.staleNodeCache = make(map[string]NodeKey)
	c.numNewLeaves = 0
	c.numStaleLeaves = 0
	c.nextVersion++
	return nil
}

func (c *treeCache) intoBatch() *TreeUpdateBatch {
	batch := c.frozenBatch
	return &batch
}
