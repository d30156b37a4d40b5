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

import "sort"

// Iterator yields the leaves at one version in ascending key order,
// starting from a caller-chosen key (the zero key scans everything).
// The walk keeps one frame per internal node on the current path, so it
// holds at most one node per nibble level in memory.
type Iterator struct {
	reader TreeReader
	stack  []*iterFrame
	next   *LeafNode
}

type iterFrame struct {
	nodeKey NodeKey
	node    *InternalNode
	nibbles []Nibble
	pos     int
}

func sortedNibbles(n *InternalNode) []Nibble {
	out := make([]Nibble, 0, len(n.children))
	for idx := range n.children {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewIterator positions an iterator at the first leaf with key >=
// startKey at the given version.
func (t *JellyfishMerkleTree) NewIterator(version Version, startKey HashValue) (*Iterator, error) {
	node, err := t.getRootNode(version)
	if err != nil {
		return nil, err
	}
	it := &Iterator{reader: t.reader}
	nodeKey := NewEmptyPathNodeKey(version)
	for depth := 0; depth <= RootNibbleHeight; depth++ {
		switch n := node.(type) {
		case NullNode:
			if depth != 0 {
				return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "null node below root"}
			}
			return it, nil
		case *LeafNode:
			if n.accountKey.Compare(startKey) >= 0 {
				it.next = n
			}
			return it, nil
		case *InternalNode:
			if depth == RootNibbleHeight {
				return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "internal node at key depth"}
			}
			want := startKey.Nibble(depth)
			nibbles := sortedNibbles(n)
			pos := sort.Search(len(nibbles), func(i int) bool { return nibbles[i] >= want })
			frame := &iterFrame{nodeKey: nodeKey, node: n, nibbles: nibbles, pos: pos}
			if pos == len(nibbles) || nibbles[pos] != want {
				// Nothing under the start key's slot; resume from the
				// next occupied one.
				it.stack = append(it.stack, frame)
				return it, nil
			}
			frame.pos = pos + 1
			it.stack = append(it.stack, frame)
			child := n.children[want]
			nodeKey = nodeKey.GenChildNodeKey(child.Version, want)
			node, err = t.reader.GetNode(nodeKey)
			if err != nil {
				return nil, err
			}
		default:
			return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "unknown node variant"}
		}
	}
	return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "descent exceeded key depth"}
}

// Next returns the following leaf, or nil when the scan is exhausted.
func (it *Iterator) Next() (*LeafNode, error) {
	if it.next != nil {
		leaf := it.next
		it.next = nil
		return leaf, nil
	}
	for len(it.stack) > 0 {
		frame := it.stack[len(it.stack)-1]
		if frame.pos >= len(frame.nibbles) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		idx := frame.nibbles[frame.pos]
		frame.pos++
		child := frame.node.children[idx]
		nodeKey := frame.nodeKey.GenChildNodeKey(child.Version, idx)
		node, err := it.reader.GetNode(nodeKey)
		if err != nil {
			return nil, err
		}
		for {
			switch n := node.(type) {
			case *LeafNode:
				return n, nil
			case *InternalNode:
				nibbles := sortedNibbles(n)
				it.stack = append(it.stack, &iterFrame{nodeKey: nodeKey, node: n, nibbles: nibbles, pos: 1})
				first := n.children[nibbles[0]]
				nodeKey = nodeKey.GenChildNodeKey(first.Version, nibbles[0])
				node, err = it.reader.GetNode(nodeKey)
				if err != nil {
					return nil, err
				}
			default:
				return nil, &NonCanonicalTreeError{NodeKey: nodeKey, Reason: "null node below root"}
			}
		}
	}
	return nil, nil
}
