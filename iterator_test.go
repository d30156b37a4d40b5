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
	"math/rand"
	"sort"
	"testing"
)

func collectKeys(t *testing.T, it *Iterator) []HashValue {
	t.Helper()
	var keys []HashValue
	for {
		leaf, err := it.Next()
		if err != nil {
			t.Fatalf("iterating: %v", err)
		}
		if leaf == nil {
			return keys
		}
		keys = append(keys, leaf.AccountKey())
	}
}

func TestIteratorFullScan(t *testing.T) {
	t.Parallel()

	db := NewMockTreeStore()
	tree := NewJellyfishMerkleTree(db)
	r := rand.New(rand.NewSource(50))

	var set []ValueUpdate
	want := make([]HashValue, 0, 200)
	for i := 0; i < 200; i++ {
		kv := ValueUpdate{Key: randKey(r), Value: genValue(r)}
		set = append(set, kv)
		want = append(want, kv.Key)
	}
	_, batch, err := tree.PutValueSet(set, 0)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mustWrite(t, db, batch)
	sort.Slice(want, func(i, j int) bool { return want[i].Compare(want[j]) < 0 })

	it, err := tree.NewIterator(0, HashValue{})
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}
	got := collectKeys(t, it)
	if len(got) != len(want) {
		t.Fatalf("scanned %d leaves, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("leaf %d out of order: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIteratorSeek(t *testing.T) {
	t.Parallel()

	db := NewMockTreeStore()
	tree := NewJellyfishMerkleTree(db)
	r := rand.New(rand.NewSource(51))

	var set []ValueUpdate
	keys := make([]HashValue, 0, 64)
	for i := 0; i < 64; i++ {
		kv := ValueUpdate{Key: randKey(r), Value: genValue(r)}
		set = append(set, kv)
		keys = append(keys, kv.Key)
	}
	_, batch, err := tree.PutValueSet(set, 0)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mustWrite(t, db, batch)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	for _, start := range []int{0, 7, 31, 63} {
		it, err := tree.NewIterator(0, keys[start])
		if err != nil {
			t.Fatalf("seek to %d: %v", start, err)
		}
		got := collectKeys(t, it)
		if len(got) != len(keys)-start {
			t.Fatalf("seek to %d: got %d leaves, want %d", start, len(got), len(keys)-start)
		}
		for i := range got {
			if got[i] != keys[start+i] {
				t.Fatalf("seek to %d: leaf %d mismatch", start, i)
			}
		}
	}

	// Seeking between two keys lands on the higher one.
	between := keys[10]
	for i := HashLength - 1; i >= 0; i-- {
		between[i]++
		if between[i] != 0 {
			break
		}
	}
	if between.Compare(keys[11]) < 0 {
		it, err := tree.NewIterator(0, between)
		if err != nil {
			t.Fatalf("seek between keys: %v", err)
		}
		got := collectKeys(t, it)
		if len(got) != len(keys)-11 || got[0] != keys[11] {
			t.Fatal("seek between keys did not land on the next leaf")
		}
	}

	// Seeking past the last key yields nothing.
	var top HashValue
	for i := range top {
		top[i] = 0xff
	}
	it, err := tree.NewIterator(0, top)
	if err != nil {
		t.Fatalf("seek past end: %v", err)
	}
	if got := collectKeys(t, it); len(got) != 0 {
		t.Fatalf("seek past end returned %d leaves", len(got))
	}
}

func TestIteratorMissingVersion(t *testing.T) {
	t.Parallel()

	tree := NewJellyfishMerkleTree(NewMockTreeStore())
	if _, err := tree.NewIterator(3, HashValue{}); err == nil {
		t.Fatal("expected missing root error")
	}
}

func TestIteratorHistoricalVersionUnchanged(t *testing.T) {
	t.Parallel()

	db := NewMockTreeStore()
	tree := NewJellyfishMerkleTree(db)
	r := rand.New(rand.NewSource(52))

	first := make([]ValueUpdate, 10)
	for i := range first {
		first[i] = ValueUpdate{Key: randKey(r), Value: genValue(r)}
	}
	_, batch, err := tree.PutValueSet(first, 0)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mustWrite(t, db, batch)

	second := make([]ValueUpdate, 10)
	for i := range second {
		second[i] = ValueUpdate{Key: randKey(r), Value: genValue(r)}
	}
	_, batch, err = tree.PutValueSet(second, 1)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mustWrite(t, db, batch)

	it, err := tree.NewIterator(0, HashValue{})
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}
	if got := collectKeys(t, it); len(got) != len(first) {
		t.Fatalf("old version scan returned %d leaves, want %d", len(got), len(first))
	}

	it, err = tree.NewIterator(1, HashValue{})
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}
	if got := collectKeys(t, it); len(got) != len(first)+len(second) {
		t.Fatalf("new version scan returned %d leaves, want %d", len(got), len(first)+len(second))
	}
}

func TestIteratorBareLeafRoot(t *testing.T) {
	t.Parallel()

	db := NewMockTreeStore()
	tree := NewJellyfishMerkleTree(db)
	r := rand.New(rand.NewSource(53))

	key := randKey(r)
	_, batch, err := tree.PutValueSet([]ValueUpdate{{Key: key, Value: genValue(r)}}, 0)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mustWrite(t, db, batch)

	it, err := tree.NewIterator(0, HashValue{})
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}
	got := collectKeys(t, it)
	if len(got) != 1 || got[0] != key {
		t.Fatal("bare leaf root not yielded")
	}
}
