package pine

import (
	"cmp"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash"
	"github.com/outofforest/mass"
	"github.com/pkg/errors"

	"github.com/outofforest/pine/arena"
	"github.com/outofforest/pine/btree"
	"github.com/outofforest/pine/types"
)

// PressedOption configures a pressed map.
type PressedOption func(*pressedOptions)

type pressedOptions struct {
	blockSize uint64
}

// WithBlockSize sets the size of arena blocks backing value storage.
func WithBlockSize(blockSize uint64) PressedOption {
	return func(o *pressedOptions) {
		o.blockSize = blockSize
	}
}

// NewPressed creates a single-owner pressed map ordered by the natural order
// of K.
func NewPressed[K cmp.Ordered](opts ...PressedOption) *PressedMap[K] {
	return NewPressedFunc[K](cmp.Compare[K], opts...)
}

// NewPressedFunc creates a single-owner pressed map ordered by compare.
func NewPressedFunc[K any](compare func(a, b K) int, opts ...PressedOption) *PressedMap[K] {
	return newPressed[K](compare, exclusiveAccess{}, opts...)
}

// NewSyncPressed creates a lock-guarded pressed map ordered by the natural
// order of K.
func NewSyncPressed[K cmp.Ordered](opts ...PressedOption) *PressedMap[K] {
	return NewSyncPressedFunc[K](cmp.Compare[K], opts...)
}

// NewSyncPressedFunc creates a lock-guarded pressed map ordered by compare.
func NewSyncPressedFunc[K any](compare func(a, b K) int, opts ...PressedOption) *PressedMap[K] {
	return newPressed[K](compare, &sharedAccess{}, opts...)
}

func newPressed[K any](compare func(a, b K) int, access accessPolicy, opts ...PressedOption) *PressedMap[K] {
	var o pressedOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &PressedMap[K]{
		access:    access,
		tree:      btree.New[K, *pressedSlot](compare),
		arena:     arena.New(arena.Config{BlockSize: o.blockSize}),
		massSlots: mass.New[pressedSlot](massSlotChunkSize),
	}
}

// PressedMap stores values of per-entry size and alignment behind the Erased
// handle. Value bytes live in arena blocks the collector does not scan, so
// stored types must not contain Go pointers. Construction goes through the
// emplacement path only, and by-value removal does not exist: entries are
// destroyed in place. Storage of a removed entry is not reused until the map
// is cleared or closed.
type PressedMap[K any] struct {
	access    accessPolicy
	tree      *btree.Tree[K, *pressedSlot]
	arena     *arena.Arena
	massSlots *mass.Mass[pressedSlot]
}

// Value bytes live in the arena; the header with the destroy func stays on
// the Go heap.
type pressedSlot struct {
	data    unsafe.Pointer
	size    uint64
	tag     uint64
	destroy func(unsafe.Pointer)
	state   types.State
}

// Layout describes the storage and capabilities of one erased value.
type Layout struct {
	Size    uint64
	Align   uint64
	Tag     uint64
	Destroy func(unsafe.Pointer)
}

// Len returns the number of entries.
func (m *PressedMap[K]) Len() uint64 {
	m.access.rLock()
	defer m.access.rUnlock()

	return m.tree.Len()
}

// Get returns the erased handle of the value stored under key. The backing
// storage stays at its address until the entry is destroyed or the map is
// cleared.
func (m *PressedMap[K]) Get(key K) (Erased, bool) {
	m.access.rLock()
	defer m.access.rUnlock()

	s, exists := m.tree.Get(key)
	if !exists {
		return Erased{}, false
	}
	return Erased{p: s.data, size: s.size, tag: s.tag}, true
}

// TryEmplaceWith reserves layout.Size bytes at layout.Align, hands their
// address to factory as a write-once cursor and links the entry only if the
// factory returns nil. On conflict nothing is reserved and ErrConflict is
// returned. On factory error the map is left as it was; the reserved bytes
// are abandoned until the next clear. The factory runs while the mutation
// permit is held and must not call back into the map.
func (m *PressedMap[K]) TryEmplaceWith(
	key K,
	layout Layout,
	factory func(key K, data unsafe.Pointer) error,
) (Erased, error) {
	m.access.lock()
	defer m.access.unlock()

	if _, exists := m.tree.Get(key); exists {
		return Erased{}, errors.WithStack(ErrConflict)
	}

	data, err := m.arena.Allocate(layout.Size, layout.Align)
	if err != nil {
		return Erased{}, err
	}

	s := m.massSlots.New()
	s.data = data
	s.size = layout.Size
	s.tag = layout.Tag
	s.destroy = layout.Destroy
	s.state = types.StateConstructing

	if err := factory(key, data); err != nil {
		s.state = types.StateFree
		return Erased{}, err
	}
	s.state = types.StateOccupied
	m.tree.Set(key, s)
	return Erased{p: data, size: s.size, tag: s.tag}, nil
}

// RemoveKey detaches key, destroys the value in place and returns the stored
// key. Available in both pinned and unpinned mode.
func (m *PressedMap[K]) RemoveKey(key K) (K, bool) {
	m.access.lock()
	defer m.access.unlock()

	storedKey, s, existed := m.tree.Delete(key)
	if !existed {
		return key, false
	}
	m.destroySlot(s)
	return storedKey, true
}

// DropEntry destroys the entry under key in place and reports whether one
// existed. Available in both pinned and unpinned mode.
func (m *PressedMap[K]) DropEntry(key K) bool {
	_, existed := m.RemoveKey(key)
	return existed
}

// Clear destroys every entry and recycles node, slot and arena storage for
// future growth. The pass survives destructor panics the same way Map.Clear
// does.
func (m *PressedMap[K]) Clear() {
	m.access.lock()
	defer m.access.unlock()

	m.clear(false)
}

// Close tears the map down and unmaps arena storage. No erased handle or
// pointer handed out earlier may be used afterwards.
func (m *PressedMap[K]) Close() {
	m.access.lock()
	defer m.access.unlock()

	m.clear(true)
}

// Pin consumes the map and activates the pinned guarantee. The unpinned
// handle must not be used afterwards.
func (m *PressedMap[K]) Pin() *PinnedPressedMap[K] {
	return &PinnedPressedMap[K]{m: m}
}

func (m *PressedMap[K]) clear(closing bool) {
	var panics TeardownPanics
	for _, s := range m.tree.Iterator() {
		if s.destroy == nil {
			continue
		}
		if p := contain(func() { m.destroySlot(s) }); p != nil {
			panics = append(panics, p)
		}
	}

	m.tree.Reset()
	m.massSlots = mass.New[pressedSlot](massSlotChunkSize)
	if closing {
		m.arena.Close()
	} else {
		m.arena.Reset()
	}

	switch len(panics) {
	case 0:
	case 1:
		panic(panics[0])
	default:
		panic(panics)
	}
}

// destroySlot runs the destroy capability at most once per occupancy.
func (m *PressedMap[K]) destroySlot(s *pressedSlot) {
	if s.state != types.StateOccupied {
		return
	}
	s.state = types.StateFree
	if s.destroy != nil {
		s.destroy(s.data)
	}
}

func (m *PressedMap[K]) tryEmplace(
	key K,
	layout Layout,
	factory func(key K, data unsafe.Pointer) error,
) (Erased, error) {
	return m.TryEmplaceWith(key, layout, factory)
}

// TagOf returns the type tag stored in erased handles for values of type T.
func TagOf[T any]() uint64 {
	return xxhash.Sum64String(reflect.TypeFor[T]().String())
}

// LayoutOf returns the layout for values of type T. A nil destroy is allowed
// for values needing no cleanup.
func LayoutOf[T any](destroy func(*T)) Layout {
	var t T
	layout := Layout{
		Size:  uint64(unsafe.Sizeof(t)),
		Align: uint64(unsafe.Alignof(t)),
		Tag:   TagOf[T](),
	}
	if destroy != nil {
		layout.Destroy = func(p unsafe.Pointer) {
			destroy((*T)(p))
		}
	}
	return layout
}
