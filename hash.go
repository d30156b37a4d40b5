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
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	// HashLength is the width of every key and digest in the tree.
	HashLength = 32

	// HashLengthInBits bounds the depth of any authentication path.
	HashLengthInBits = HashLength * 8

	// RootNibbleHeight is the maximum nibble depth of the tree.
	RootNibbleHeight = HashLength * 2
)

// HashValue is a fixed-width digest, also used as the account key type.
type HashValue [HashLength]byte

// SparseMerklePlaceholderHash denotes an absent subtree in every merkle
// reduction.
var SparseMerklePlaceholderHash = HashValue{}

// BytesToHash converts a 32-byte slice into a HashValue.
func BytesToHash(b []byte) (HashValue, error) {
	var h HashValue
	if len(b) != HashLength {
		return h, fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h HashValue) Bytes() []byte {
	return h[:]
}

func (h HashValue) String() string {
	return hex.EncodeToString(h[:])
}

// Bit returns the i-th bit of the hash, most-significant first.
func (h HashValue) Bit(i int) bool {
	return (h[i/8]>>(7-uint(i%8)))&1 == 1
}

// Nibble returns the i-th nibble of the hash, most-significant first.
func (h HashValue) Nibble(i int) Nibble {
	b := h[i/2]
	if i%2 == 0 {
		return Nibble(b >> 4)
	}
	return Nibble(b & 0x0f)
}

// Compare orders hashes bytewise, which coincides with the
// nibble-lexicographic order of the keys they encode.
func (h HashValue) Compare(other HashValue) int {
	return bytes.Compare(h[:], other[:])
}

// CommonPrefixBitsLen returns the number of leading bits shared with
// another hash.
func (h HashValue) CommonPrefixBitsLen(other HashValue) int {
	for i := 0; i < HashLength; i++ {
		if x := h[i] ^ other[i]; x != 0 {
			n := 0
			for x&0x80 == 0 {
				n++
				x <<= 1
			}
			return i*8 + n
		}
	}
	return HashLengthInBits
}

// CommonPrefixNibblesLen returns the number of leading nibbles shared
// with another hash.
func (h HashValue) CommonPrefixNibblesLen(other HashValue) int {
	return h.CommonPrefixBitsLen(other) / 4
}

// hasher computes domain-separated digests. The domain tag is itself
// hashed into a fixed salt that prefixes every input.
type hasher struct {
	salt [HashLength]byte
}

func newHasher(tag string) *hasher {
	return &hasher{salt: sha3.Sum256([]byte(tag))}
}

func (h *hasher) hash(chunks ...[]byte) HashValue {
	d := sha3.New256()
	d.Write(h.salt[:])
	for _, c := range chunks {
		d.Write(c)
	}
	var out HashValue
	copy(out[:], d.Sum(nil))
	return out
}

var (
	leafNodeHasher     = newHasher("SparseMerkleLeafNode")
	internalNodeHasher = newHasher("SparseMerkleInternalNode")
)

func hashLeafNode(key, valueHash HashValue) HashValue {
	return leafNodeHasher.hash(key[:], valueHash[:])
}

func hashInternalNode(left, right HashValue) HashValue {
	return internalNodeHasher.hash(left[:], right[:])
}
