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
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/ethereum/go-ethereum/rlp"
)

// ErrInvalidNodeEncoding is returned when a node payload cannot be
// decoded.
var ErrInvalidNodeEncoding = errors.New("invalid node encoding")

const (
	// These types distinguish internal and leaf nodes when decoding.
	internalRLPType byte = 1
	leafRLPType     byte = 2
)

type encodedChild struct {
	Version   uint64
	Hash      []byte
	LeafCount uint64
}

type encodedInternal struct {
	Existence uint16
	Leaves    uint16
	Children  []encodedChild
}

type encodedLeaf struct {
	AccountKey []byte
	ValueHash  []byte
	ValueID    []byte
	Version    uint64
}

// EncodeNode serializes a node canonically: a type tag byte followed by
// an RLP payload. Children of an internal node are listed in ascending
// nibble order so byte equality implies structural equality. Null nodes
// are never persisted and cannot be encoded.
func EncodeNode(n Node) ([]byte, error) {
	switch node := n.(type) {
	case *LeafNode:
		payload, err := rlp.EncodeToBytes(&encodedLeaf{
			AccountKey: node.accountKey[:],
			ValueHash:  node.valueHash[:],
			ValueID:    node.valueID,
			Version:    uint64(node.version),
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{leafRLPType}, payload...), nil
	case *InternalNode:
		existence, leaves := node.generateBitmaps()
		enc := encodedInternal{
			Existence: existence,
			Leaves:    leaves,
			Children:  make([]encodedChild, 0, len(node.children)),
		}
		for i := Nibble(0); i < NibbleCount; i++ {
			c, ok := node.children[i]
			if !ok {
				continue
			}
			enc.Children = append(enc.Children, encodedChild{
				Version:   uint64(c.Version),
				Hash:      c.Hash[:],
				LeafCount: c.LeafCount,
			})
		}
		payload, err := rlp.EncodeToBytes(&enc)
		if err != nil {
			return nil, err
		}
		return append([]byte{internalRLPType}, payload...), nil
	case NullNode:
		return nil, errors.New("null node cannot be encoded")
	default:
		return nil, ErrInvalidNodeEncoding
	}
}

// DecodeNode parses the envelope produced by EncodeNode.
func DecodeNode(b []byte) (Node, error) {
	if len(b) < 2 {
		return nil, ErrInvalidNodeEncoding
	}
	switch b[0] {
	case leafRLPType:
		var enc encodedLeaf
		if err := rlp.DecodeBytes(b[1:], &enc); err != nil {
			return nil, err
		}
		key, err := BytesToHash(enc.AccountKey)
		if err != nil {
			return nil, ErrInvalidNodeEncoding
		}
		valueHash, err := BytesToHash(enc.ValueHash)
		if err != nil {
			return nil, ErrInvalidNodeEncoding
		}
		return NewLeafNode(key, valueHash, enc.ValueID, Version(enc.Version)), nil
	case internalRLPType:
		var enc encodedInternal
		if err := rlp.DecodeBytes(b[1:], &enc); err != nil {
			return nil, err
		}
		if bits.OnesCount16(enc.Existence) != len(enc.Children) {
			return nil, ErrInvalidNodeEncoding
		}
		if enc.Leaves&^enc.Existence != 0 {
			return nil, ErrInvalidNodeEncoding
		}
		children := make(Children, len(enc.Children))
		next := 0
		for i := Nibble(0); i < NibbleCount; i++ {
			if enc.Existence&(1<<uint(i)) == 0 {
				continue
			}
			c := enc.Children[next]
			next++
			hash, err := BytesToHash(c.Hash)
			if err != nil {
				return nil, ErrInvalidNodeEncoding
			}
			children[i] = Child{
				Hash:      hash,
				Version:   Version(c.Version),
				IsLeaf:    enc.Leaves&(1<<uint(i)) != 0,
				LeafCount: c.LeafCount,
			}
		}
		return NewInternalNode(children), nil
	default:
		return nil, ErrInvalidNodeEncoding
	}
}

// EncodeNodeKey serializes a node key as a big-endian version followed
// by the nibble path encoding, so rows order by version first.
func EncodeNodeKey(k NodeKey) []byte {
	out := make([]byte, 8, 8+1+len(k.Path.bytes))
	binary.BigEndian.PutUint64(out, uint64(k.Version))
	return append(out, k.Path.Encode()...)
}

// DecodeNodeKey parses the encoding produced by EncodeNodeKey.
func DecodeNodeKey(b []byte) (NodeKey, error) {
	if len(b) < 9 {
		return NodeKey{}, errors.New("node key encoding too short")
	}
	path, err := DecodeNibblePath(b[8:])
	if err != nil {
		return NodeKey{}, err
	}
	return NodeKey{Version: Version(binary.BigEndian.Uint64(b[:8])), Path: path}, nil
}
