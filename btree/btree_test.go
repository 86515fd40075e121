package btree

import (
	"cmp"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTree() *Tree[int, *int] {
	return New[int, *int](cmp.Compare[int])
}

func collect(t *Tree[int, *int]) []int {
	keys := []int{}
	for key := range t.Iterator() {
		keys = append(keys, key)
	}
	return keys
}

func TestSetAndGet(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	values := map[int]*int{}
	for _, key := range []int{5, 1, 9, 3, 7} {
		v := key * 10
		values[key] = &v
		tr.Set(key, &v)
	}

	requireT.Equal(uint64(5), tr.Len())
	for key, v := range values {
		item, exists := tr.Get(key)
		requireT.True(exists)
		requireT.Same(v, item)
	}

	_, exists := tr.Get(4)
	requireT.False(exists)
}

func TestDeleteReturnsStoredKey(t *testing.T) {
	requireT := require.New(t)
	tr := New[string, *int](func(a, b string) int {
		return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	v := 1
	tr.Set("Key", &v)

	// The comparator equates the keys; the stored spelling comes back.
	storedKey, item, existed := tr.Delete("KEY")
	requireT.True(existed)
	requireT.Equal("Key", storedKey)
	requireT.Same(&v, item)
	requireT.Zero(tr.Len())
}

func TestIteratorYieldsAscendingKeys(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	keys := rand.Perm(1000)
	for _, key := range keys {
		v := key
		tr.Set(key, &v)
	}

	sorted := append([]int{}, keys...)
	sort.Ints(sorted)
	requireT.Equal(sorted, collect(tr))
}

func TestItemsStableAcrossSplits(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	// Hold every item pointer while forcing many node splits. The pointed-to
	// values must stay reachable under their keys, through node restructuring.
	items := map[int]*int{}
	for key := range 10000 {
		v := key
		items[key] = &v
		tr.Set(key, &v)
	}

	for key, item := range items {
		got, exists := tr.Get(key)
		requireT.True(exists)
		requireT.Same(item, got)
		requireT.Equal(key, *got)
	}
}

func TestDelete(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	keys := rand.Perm(2000)
	for _, key := range keys {
		v := key
		tr.Set(key, &v)
	}

	for _, key := range keys[:1000] {
		storedKey, item, existed := tr.Delete(key)
		requireT.True(existed)
		requireT.Equal(key, storedKey)
		requireT.Equal(key, *item)
	}
	requireT.Equal(uint64(1000), tr.Len())

	for _, key := range keys[:1000] {
		_, exists := tr.Get(key)
		requireT.False(exists)

		_, _, existed := tr.Delete(key)
		requireT.False(existed)
	}
	for _, key := range keys[1000:] {
		item, exists := tr.Get(key)
		requireT.True(exists)
		requireT.Equal(key, *item)
	}

	sorted := append([]int{}, keys[1000:]...)
	sort.Ints(sorted)
	requireT.Equal(sorted, collect(tr))
}

func TestDeleteEverything(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	keys := rand.Perm(500)
	for _, key := range keys {
		v := key
		tr.Set(key, &v)
	}
	for _, key := range keys {
		_, _, existed := tr.Delete(key)
		requireT.True(existed)
	}

	requireT.Zero(tr.Len())
	requireT.Empty(collect(tr))
}

func TestReset(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	for key := range 100 {
		v := key
		tr.Set(key, &v)
	}
	tr.Reset()

	requireT.Zero(tr.Len())
	requireT.Empty(collect(tr))

	v := 42
	tr.Set(42, &v)
	item, exists := tr.Get(42)
	requireT.True(exists)
	requireT.Same(&v, item)
}

func TestMixedInsertDelete(t *testing.T) {
	requireT := require.New(t)
	tr := newTree()

	reference := map[int]*int{}
	r := rand.New(rand.NewSource(0))
	for range 20000 {
		key := r.Intn(3000)
		if _, exists := reference[key]; exists {
			storedKey, item, existed := tr.Delete(key)
			requireT.True(existed)
			requireT.Equal(key, storedKey)
			requireT.Same(reference[key], item)
			delete(reference, key)
		} else {
			v := key
			reference[key] = &v
			tr.Set(key, &v)
		}
	}

	requireT.Equal(uint64(len(reference)), tr.Len())
	for key, item := range reference {
		got, exists := tr.Get(key)
		requireT.True(exists)
		requireT.Same(item, got)
	}
}
