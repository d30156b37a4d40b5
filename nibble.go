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
	"fmt"
)

// Nibble is a 4-bit integer addressing one of the 16 children of an
// internal node.
type Nibble uint8

// NibbleCount is the number of children of an internal node.
const NibbleCount = 16

// NibblePath is a sequence of nibbles addressing a node from the root.
// The backing bytes pack two nibbles each; when the length is odd the
// low nibble of the last byte is zero.
type NibblePath struct {
	numNibbles int
	bytes      []byte
}

// NewNibblePath builds an even-length path from packed bytes.
func NewNibblePath(b []byte) NibblePath {
	if len(b) > HashLength {
		panic("nibble path longer than keys")
	}
	return NibblePath{numNibbles: len(b) * 2, bytes: append([]byte(nil), b...)}
}

// NewOddNibblePath builds an odd-length path from packed bytes. The low
// nibble of the last byte must be zero.
func NewOddNibblePath(b []byte) NibblePath {
	if len(b) == 0 || len(b) > HashLength {
		panic("invalid odd nibble path length")
	}
	if b[len(b)-1]&0x0f != 0 {
		panic("odd nibble path has non-zero padding")
	}
	return NibblePath{numNibbles: len(b)*2 - 1, bytes: append([]byte(nil), b...)}
}

// NumNibbles returns the length of the path in nibbles.
func (p NibblePath) NumNibbles() int {
	return p.numNibbles
}

// Get returns the i-th nibble of the path.
func (p NibblePath) Get(i int) Nibble {
	if i < 0 || i >= p.numNibbles {
		panic("nibble index out of range")
	}
	b := p.bytes[i/2]
	if i%2 == 0 {
		return Nibble(b >> 4)
	}
	return Nibble(b & 0x0f)
}

// Push returns a copy of the path extended by one nibble.
func (p NibblePath) Push(n Nibble) NibblePath {
	if n >= NibbleCount {
		panic("nibble out of range")
	}
	if p.numNibbles >= RootNibbleHeight {
		panic("nibble path exceeds key length")
	}
	b := make([]byte, 0, len(p.bytes)+1)
	b = append(b, p.bytes...)
	if p.numNibbles%2 == 0 {
		b = append(b, byte(n)<<4)
	} else {
		b[len(b)-1] |= byte(n)
	}
	return NibblePath{numNibbles: p.numNibbles + 1, bytes: b}
}

// Bytes returns the packed payload of the path.
func (p NibblePath) Bytes() []byte {
	return p.bytes
}

// CommonPrefixLen returns the number of leading nibbles shared with
// another path.
func (p NibblePath) CommonPrefixLen(other NibblePath) int {
	n := p.numNibbles
	if other.numNibbles < n {
		n = other.numNibbles
	}
	for i := 0; i < n; i++ {
		if p.Get(i) != other.Get(i) {
			return i
		}
	}
	return n
}

// Compare orders paths nibble-lexicographically; a strict prefix sorts
// before any of its extensions.
func (p NibblePath) Compare(other NibblePath) int {
	n := p.numNibbles
	if other.numNibbles < n {
		n = other.numNibbles
	}
	for i := 0; i < n; i++ {
		a, b := p.Get(i), other.Get(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case p.numNibbles < other.numNibbles:
		return -1
	case p.numNibbles > other.numNibbles:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two paths denote the same location.
func (p NibblePath) Equal(other NibblePath) bool {
	return p.numNibbles == other.numNibbles && bytes.Equal(p.bytes, other.bytes)
}

// Encode serializes the path as one length byte followed by the packed
// payload.
func (p NibblePath) Encode() []byte {
	out := make([]byte, 0, 1+len(p.bytes))
	out = append(out, byte(p.numNibbles))
	return append(out, p.bytes...)
}

// DecodeNibblePath parses the encoding produced by Encode.
func DecodeNibblePath(b []byte) (NibblePath, error) {
	if len(b) == 0 {
		return NibblePath{}, fmt.Errorf("empty nibble path encoding")
	}
	n := int(b[0])
	if n > RootNibbleHeight {
		return NibblePath{}, fmt.Errorf("nibble path length %d out of range", n)
	}
	payload := b[1:]
	if len(payload) != (n+1)/2 {
		return NibblePath{}, fmt.Errorf("nibble path payload has %d bytes, want %d", len(payload), (n+1)/2)
	}
	if n%2 == 1 && payload[len(payload)-1]&0x0f != 0 {
		return NibblePath{}, fmt.Errorf("odd nibble path has non-zero padding")
	}
	return NibblePath{numNibbles: n, bytes: append([]byte(nil), payload...)}, nil
}

func (p NibblePath) String() string {
	var sb bytes.Buffer
	for i := 0; i < p.numNibbles; i++ {
		fmt.Fprintf(&sb, "%x", uint8(p.Get(i)))
	}
	return sb.String()
}
