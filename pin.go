package pine

import (
	"unsafe"
)

// PinnedMap is the pinned view of a Map. While it exists, every value pointer
// ever returned stays valid and the value behind it is never moved or
// discarded without its destructor running. The operations that would move a
// value out (RemoveValue, RemovePair) do not exist on this surface; keys may
// still be removed with the value destroyed in place.
type PinnedMap[K, V any] struct {
	m *Map[K, V]
}

// Get returns a pointer to the value stored under key, valid for the rest of
// the pinned map's life or until the entry is destroyed.
func (p *PinnedMap[K, V]) Get(key K) (*V, bool) {
	return p.m.Get(key)
}

// Len returns the number of entries.
func (p *PinnedMap[K, V]) Len() uint64 {
	return p.m.Len()
}

// Insert stores value under key if the key is absent.
func (p *PinnedMap[K, V]) Insert(key K, value V) (*V, error) {
	return p.m.Insert(key, value)
}

// InsertWith stores the value produced by factory under key if the key is
// absent.
func (p *PinnedMap[K, V]) InsertWith(key K, factory func(key K) V) (*V, error) {
	return p.m.InsertWith(key, factory)
}

// TryInsertWith stores the value produced by factory under key if the key is
// absent; a factory error leaves the map untouched.
func (p *PinnedMap[K, V]) TryInsertWith(key K, factory func(key K) (V, error)) (*V, error) {
	return p.m.TryInsertWith(key, factory)
}

// TryEmplaceWith constructs a value in place if key is absent, with the same
// all-or-nothing contract as on the unpinned map.
func (p *PinnedMap[K, V]) TryEmplaceWith(key K, factory func(key K, value *V) error) (*V, error) {
	return p.m.TryEmplaceWith(key, factory)
}

// RemoveKey detaches key and destroys its value in place, never moving it.
func (p *PinnedMap[K, V]) RemoveKey(key K) (K, bool) {
	return p.m.RemoveKey(key)
}

// DropEntry destroys the entry under key in place and reports whether one
// existed.
func (p *PinnedMap[K, V]) DropEntry(key K) bool {
	return p.m.DropEntry(key)
}

// Clear destroys every entry in place with the same panic-surviving pass as
// the unpinned map.
func (p *PinnedMap[K, V]) Clear() {
	p.m.Clear()
}

// Close tears the map down, destroying every entry.
func (p *PinnedMap[K, V]) Close() {
	p.m.Close()
}

// Unpin returns the unpinned map. The caller asserts that no guarantee
// handed out while pinned is relied on afterwards; this cannot be checked.
func (p *PinnedMap[K, V]) Unpin() *Map[K, V] {
	return p.m
}

// PinnedPressedMap is the pinned view of a PressedMap. The pressed surface
// already destroys only in place, so pinning narrows nothing away and merely
// carries the stronger guarantee on returned handles.
type PinnedPressedMap[K any] struct {
	m *PressedMap[K]
}

// Get returns the erased handle stored under key.
func (p *PinnedPressedMap[K]) Get(key K) (Erased, bool) {
	return p.m.Get(key)
}

// Len returns the number of entries.
func (p *PinnedPressedMap[K]) Len() uint64 {
	return p.m.Len()
}

// TryEmplaceWith constructs an erased value in place if key is absent.
func (p *PinnedPressedMap[K]) TryEmplaceWith(
	key K,
	layout Layout,
	factory func(key K, data unsafe.Pointer) error,
) (Erased, error) {
	return p.m.TryEmplaceWith(key, layout, factory)
}

// RemoveKey detaches key and destroys its value in place.
func (p *PinnedPressedMap[K]) RemoveKey(key K) (K, bool) {
	return p.m.RemoveKey(key)
}

// DropEntry destroys the entry under key in place and reports whether one
// existed.
func (p *PinnedPressedMap[K]) DropEntry(key K) bool {
	return p.m.DropEntry(key)
}

// Clear destroys every entry in place.
func (p *PinnedPressedMap[K]) Clear() {
	p.m.Clear()
}

// Close tears the map down and unmaps value storage.
func (p *PinnedPressedMap[K]) Close() {
	p.m.Close()
}

// Unpin returns the unpinned map. The caller asserts that no guarantee
// handed out while pinned is relied on afterwards.
func (p *PinnedPressedMap[K]) Unpin() *PressedMap[K] {
	return p.m
}

func (p *PinnedPressedMap[K]) tryEmplace(
	key K,
	layout Layout,
	factory func(key K, data unsafe.Pointer) error,
) (Erased, error) {
	return p.m.TryEmplaceWith(key, layout, factory)
}
