package btree

import (
	"github.com/outofforest/mass"
)

const (
	degree   = 16
	maxItems = 2*degree - 1
	minItems = degree - 1

	massNodeChunkSize = 64
)

// Tree is an ordered map from keys to items. Nodes are drawn from a
// growth-only arena, and mutation moves only keys and items between nodes,
// never the storage items point into, so an item stored once keeps its
// meaning across any number of later insertions.
//
// A tree is not safe for concurrent use; callers serialize access.
type Tree[K, I any] struct {
	cmp       func(a, b K) int
	massNodes *mass.Mass[node[K, I]]
	root      *node[K, I]
	length    uint64
}

// New creates new tree ordered by cmp.
func New[K, I any](cmp func(a, b K) int) *Tree[K, I] {
	return &Tree[K, I]{
		cmp:       cmp,
		massNodes: mass.New[node[K, I]](massNodeChunkSize),
	}
}

// Len returns the number of entries.
func (t *Tree[K, I]) Len() uint64 {
	return t.length
}

// Get returns the item stored under key.
func (t *Tree[K, I]) Get(key K) (item I, exists bool) {
	n := t.root
	for n != nil {
		i, found := n.find(t.cmp, key)
		if found {
			return n.items[i], true
		}
		if n.leaf {
			break
		}
		n = n.children[i]
	}
	return item, false
}

// Set stores item under key, assuming key is absent. Linking the new entry
// extends the node structure; items already stored are copied between nodes
// at most, never mutated.
func (t *Tree[K, I]) Set(key K, item I) {
	if t.root == nil {
		t.root = t.newNode(true)
	} else if t.root.count >= maxItems {
		splitKey, splitItem, splitNode := t.root.split(t, maxItems/2)
		newRoot := t.newNode(false)
		newRoot.count = 1
		newRoot.keys[0] = splitKey
		newRoot.items[0] = splitItem
		newRoot.children[0] = t.root
		newRoot.children[1] = splitNode
		t.root = newRoot
	}
	t.root.set(t, key, item)
	t.length++
}

// Delete detaches key from the tree and returns the stored key together with
// the item kept under it. Under comparators equating non-identical keys the
// stored key may differ from the argument.
func (t *Tree[K, I]) Delete(key K) (storedKey K, item I, existed bool) {
	if t.root == nil || t.root.count == 0 {
		return storedKey, item, false
	}
	storedKey, item, existed = t.root.remove(t, key)
	if existed {
		t.length--
	}
	if t.root.count == 0 {
		if t.root.leaf {
			t.root = nil
		} else {
			t.root = t.root.children[0]
		}
	}
	return storedKey, item, existed
}

// Reset detaches every entry and releases node storage, starting the next
// generation of the tree.
func (t *Tree[K, I]) Reset() {
	t.root = nil
	t.length = 0
	t.massNodes = mass.New[node[K, I]](massNodeChunkSize)
}

// Iterator iterates over entries in ascending key order.
func (t *Tree[K, I]) Iterator() func(func(K, I) bool) {
	return func(yield func(K, I) bool) {
		if t.root != nil {
			t.root.each(yield)
		}
	}
}

func (t *Tree[K, I]) newNode(leaf bool) *node[K, I] {
	n := t.massNodes.New()
	n.count = 0
	n.leaf = leaf
	return n
}

type node[K, I any] struct {
	count    int16
	leaf     bool
	keys     [maxItems]K
	items    [maxItems]I
	children [maxItems + 1]*node[K, I]
}

// find returns the index under which key is stored, or the child index to
// descend into when it is not stored in this node.
func (n *node[K, I]) find(cmp func(a, b K) int, key K) (index int, found bool) {
	i, j := 0, int(n.count)
	for i < j {
		h := int(uint(i+j) >> 1)
		switch v := cmp(key, n.keys[h]); {
		case v == 0:
			return h, true
		case v > 0:
			i = h + 1
		default:
			j = h
		}
	}
	return i, false
}

func (n *node[K, I]) set(t *Tree[K, I], key K, item I) {
	i, found := n.find(t.cmp, key)
	if found {
		n.items[i] = item
		t.length--
		return
	}
	if n.leaf {
		n.insertAt(i, key, item, nil)
		return
	}
	if n.children[i].count >= maxItems {
		splitKey, splitItem, splitNode := n.children[i].split(t, maxItems/2)
		n.insertAt(i, splitKey, splitItem, splitNode)

		switch v := t.cmp(key, n.keys[i]); {
		case v > 0:
			i++
		case v == 0:
			n.items[i] = item
			t.length--
			return
		}
	}
	n.children[i].set(t, key, item)
}

func (n *node[K, I]) remove(t *Tree[K, I], key K) (storedKey K, item I, found bool) {
	i, found := n.find(t.cmp, key)
	if n.leaf {
		if found {
			item, storedKey, _ = n.removeAt(i)
			return storedKey, item, true
		}
		return storedKey, item, false
	}
	if n.children[i].count <= minItems {
		n.rebalanceOrMerge(t, i)
		return n.remove(t, key)
	}
	if found {
		// Replace the removed separator with the max entry of the left child.
		storedKey = n.keys[i]
		item = n.items[i]
		n.keys[i], n.items[i] = n.children[i].removeMax(t)
		return storedKey, item, true
	}
	return n.children[i].remove(t, key)
}

func (n *node[K, I]) removeMax(t *Tree[K, I]) (K, I) {
	if n.leaf {
		n.count--
		key := n.keys[n.count]
		item := n.items[n.count]
		clear(n.keys[n.count : n.count+1])
		clear(n.items[n.count : n.count+1])
		return key, item
	}
	if n.children[n.count].count <= minItems {
		n.rebalanceOrMerge(t, int(n.count))
		return n.removeMax(t)
	}
	return n.children[n.count].removeMax(t)
}

func (n *node[K, I]) insertAt(index int, key K, item I, nd *node[K, I]) {
	if index < int(n.count) {
		copy(n.keys[index+1:n.count+1], n.keys[index:n.count])
		copy(n.items[index+1:n.count+1], n.items[index:n.count])
		if !n.leaf {
			copy(n.children[index+2:n.count+2], n.children[index+1:n.count+1])
		}
	}
	n.keys[index] = key
	n.items[index] = item
	if !n.leaf {
		n.children[index+1] = nd
	}
	n.count++
}

func (n *node[K, I]) removeAt(index int) (I, K, *node[K, I]) {
	var child *node[K, I]
	if !n.leaf {
		child = n.children[index+1]
		copy(n.children[index+1:n.count], n.children[index+2:n.count+1])
		n.children[n.count] = nil
	}
	n.count--
	key := n.keys[index]
	item := n.items[index]
	copy(n.keys[index:n.count], n.keys[index+1:n.count+1])
	copy(n.items[index:n.count], n.items[index+1:n.count+1])
	clear(n.keys[n.count : n.count+1])
	clear(n.items[n.count : n.count+1])
	return item, key, child
}

func (n *node[K, I]) popBack() (K, I, *node[K, I]) {
	n.count--
	key := n.keys[n.count]
	item := n.items[n.count]
	clear(n.keys[n.count : n.count+1])
	clear(n.items[n.count : n.count+1])
	if n.leaf {
		return key, item, nil
	}
	child := n.children[n.count+1]
	n.children[n.count+1] = nil
	return key, item, child
}

func (n *node[K, I]) popFront() (K, I, *node[K, I]) {
	n.count--
	var child *node[K, I]
	if !n.leaf {
		child = n.children[0]
		copy(n.children[:n.count+1], n.children[1:n.count+2])
		n.children[n.count+1] = nil
	}
	key := n.keys[0]
	item := n.items[0]
	copy(n.keys[:n.count], n.keys[1:n.count+1])
	copy(n.items[:n.count], n.items[1:n.count+1])
	clear(n.keys[n.count : n.count+1])
	clear(n.items[n.count : n.count+1])
	return key, item, child
}

func (n *node[K, I]) pushBack(key K, item I, nd *node[K, I]) {
	n.keys[n.count] = key
	n.items[n.count] = item
	if !n.leaf {
		n.children[n.count+1] = nd
	}
	n.count++
}

func (n *node[K, I]) pushFront(key K, item I, nd *node[K, I]) {
	if !n.leaf {
		copy(n.children[1:n.count+2], n.children[:n.count+1])
		n.children[0] = nd
	}
	copy(n.keys[1:n.count+1], n.keys[:n.count])
	copy(n.items[1:n.count+1], n.items[:n.count])
	n.keys[0] = key
	n.items[0] = item
	n.count++
}

// split shrinks n to its first i entries and returns the entry stored at i
// together with a new node holding everything after it. The caller links the
// returned entry and node into n's parent.
func (n *node[K, I]) split(t *Tree[K, I], i int) (K, I, *node[K, I]) {
	key := n.keys[i]
	item := n.items[i]
	next := t.newNode(n.leaf)
	next.count = n.count - int16(i+1)
	copy(next.keys[:], n.keys[i+1:n.count])
	copy(next.items[:], n.items[i+1:n.count])
	clear(n.keys[i:n.count])
	clear(n.items[i:n.count])
	if !n.leaf {
		copy(next.children[:], n.children[i+1:n.count+1])
		for j := int16(i + 1); j <= n.count; j++ {
			n.children[j] = nil
		}
	}
	n.count = int16(i)
	return key, item, next
}

// rebalanceOrMerge grows child i so an entry can be removed from it while
// keeping every node at or above minItems.
func (n *node[K, I]) rebalanceOrMerge(t *Tree[K, I], i int) {
	switch {
	case i > 0 && n.children[i-1].count > minItems:
		// Rotate through the separator from the left sibling.
		left := n.children[i-1]
		child := n.children[i]
		key, item, grandChild := left.popBack()
		child.pushFront(n.keys[i-1], n.items[i-1], grandChild)
		n.keys[i-1] = key
		n.items[i-1] = item

	case i < int(n.count) && n.children[i+1].count > minItems:
		// Rotate through the separator from the right sibling.
		right := n.children[i+1]
		child := n.children[i]
		key, item, grandChild := right.popFront()
		child.pushBack(n.keys[i], n.items[i], grandChild)
		n.keys[i] = key
		n.items[i] = item

	default:
		// Merge child i, the separator and child i+1 into one node.
		if i >= int(n.count) {
			i = int(n.count - 1)
		}
		child := n.children[i]
		mergeItem, mergeKey, mergeChild := n.removeAt(i)
		child.keys[child.count] = mergeKey
		child.items[child.count] = mergeItem
		copy(child.keys[child.count+1:], mergeChild.keys[:mergeChild.count])
		copy(child.items[child.count+1:], mergeChild.items[:mergeChild.count])
		if !child.leaf {
			copy(child.children[child.count+1:], mergeChild.children[:mergeChild.count+1])
		}
		child.count += mergeChild.count + 1
	}
}

func (n *node[K, I]) each(yield func(K, I) bool) bool {
	for i := int16(0); i < n.count; i++ {
		if !n.leaf && !n.children[i].each(yield) {
			return false
		}
		if !yield(n.keys[i], n.items[i]) {
			return false
		}
	}
	if !n.leaf {
		return n.children[n.count].each(yield)
	}
	return true
}
