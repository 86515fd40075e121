package pine

import (
	"cmp"

	"github.com/outofforest/mass"
	"github.com/pkg/errors"

	"github.com/outofforest/pine/btree"
	"github.com/outofforest/pine/types"
)

const massSlotChunkSize = 64

// Option configures a map.
type Option[V any] func(*options[V])

type options[V any] struct {
	destructor func(*V)
}

// WithDestructor registers a destructor run for a value when its entry is
// destroyed in place (RemoveKey, DropEntry, Clear, Close). Values removed by
// value (RemoveValue, RemovePair) transfer ownership to the caller and are
// not destructed.
func WithDestructor[V any](destructor func(*V)) Option[V] {
	return func(o *options[V]) {
		o.destructor = destructor
	}
}

// New creates a single-owner map ordered by the natural order of K.
func New[K cmp.Ordered, V any](opts ...Option[V]) *Map[K, V] {
	return NewFunc[K, V](cmp.Compare[K], opts...)
}

// NewFunc creates a single-owner map ordered by compare.
func NewFunc[K, V any](compare func(a, b K) int, opts ...Option[V]) *Map[K, V] {
	return newMap[K, V](compare, exclusiveAccess{}, opts...)
}

// NewSync creates a map whose structural mutations are guarded by a lock, so
// insertion may be called from any number of goroutines holding the same map.
func NewSync[K cmp.Ordered, V any](opts ...Option[V]) *Map[K, V] {
	return NewSyncFunc[K, V](cmp.Compare[K], opts...)
}

// NewSyncFunc creates a lock-guarded map ordered by compare.
func NewSyncFunc[K, V any](compare func(a, b K) int, opts ...Option[V]) *Map[K, V] {
	return newMap[K, V](compare, &sharedAccess{}, opts...)
}

func newMap[K, V any](compare func(a, b K) int, access accessPolicy, opts ...Option[V]) *Map[K, V] {
	var o options[V]
	for _, opt := range opts {
		opt(&o)
	}
	return &Map[K, V]{
		access:     access,
		tree:       btree.New[K, *slot[V]](compare),
		massSlots:  mass.New[slot[V]](massSlotChunkSize),
		destructor: o.destructor,
	}
}

// Map is an ordered map whose values keep their address for as long as their
// entry lives. Insertion never relocates existing entries, which is why it is
// safe through shared handles (serialized by the access policy); removal and
// clearing destroy entries and require the exclusive handle.
type Map[K, V any] struct {
	access     accessPolicy
	tree       *btree.Tree[K, *slot[V]]
	massSlots  *mass.Mass[slot[V]]
	freeSlots  []*slot[V]
	destructor func(*V)
}

type slot[V any] struct {
	value V
	state types.State
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() uint64 {
	m.access.rLock()
	defer m.access.rUnlock()

	return m.tree.Len()
}

// Get returns a pointer to the value stored under key. The pointer stays
// valid and the value is not moved until the entry is destroyed or the map
// is cleared.
func (m *Map[K, V]) Get(key K) (*V, bool) {
	m.access.rLock()
	defer m.access.rUnlock()

	s, exists := m.tree.Get(key)
	if !exists {
		return nil, false
	}
	return &s.value, true
}

// Insert stores value under key if the key is absent. On conflict it returns
// ErrConflict and the map is untouched.
func (m *Map[K, V]) Insert(key K, value V) (*V, error) {
	return m.TryEmplaceWith(key, func(_ K, v *V) error {
		*v = value
		return nil
	})
}

// InsertWith stores the value produced by factory under key if the key is
// absent. The factory is not called on conflict.
func (m *Map[K, V]) InsertWith(key K, factory func(key K) V) (*V, error) {
	return m.TryEmplaceWith(key, func(key K, v *V) error {
		*v = factory(key)
		return nil
	})
}

// TryInsertWith stores the value produced by factory under key if the key is
// absent. A factory error is propagated verbatim and leaves the map exactly
// as it was; the factory is not called on conflict.
func (m *Map[K, V]) TryInsertWith(key K, factory func(key K) (V, error)) (*V, error) {
	return m.TryEmplaceWith(key, func(key K, v *V) error {
		value, err := factory(key)
		if err != nil {
			return err
		}
		*v = value
		return nil
	})
}

// TryEmplaceWith constructs a value in place if key is absent. Storage is
// reserved first, the factory writes through the provided pointer, and the
// entry becomes visible only if the factory returns nil. On factory error the
// reservation is released and the map is left exactly as it was. The factory
// runs while the mutation permit is held and must not call back into the map.
func (m *Map[K, V]) TryEmplaceWith(key K, factory func(key K, value *V) error) (*V, error) {
	m.access.lock()
	defer m.access.unlock()

	if _, exists := m.tree.Get(key); exists {
		return nil, errors.WithStack(ErrConflict)
	}

	s := m.reserveSlot()
	s.state = types.StateConstructing
	if err := factory(key, &s.value); err != nil {
		m.releaseSlot(s)
		return nil, err
	}
	s.state = types.StateOccupied
	m.tree.Set(key, s)
	return &s.value, nil
}

// RemoveValue detaches key and moves its value out. The destructor does not
// run; ownership transfers to the caller. Requires the exclusive handle and
// is absent from the pinned surface.
func (m *Map[K, V]) RemoveValue(key K) (value V, existed bool) {
	_, value, existed = m.RemovePair(key)
	return value, existed
}

// RemovePair detaches key and moves the stored key and value out. The
// destructor does not run. Requires the exclusive handle and is absent from
// the pinned surface.
func (m *Map[K, V]) RemovePair(key K) (K, V, bool) {
	m.access.lock()
	defer m.access.unlock()

	var value V
	storedKey, s, existed := m.tree.Delete(key)
	if !existed {
		return key, value, false
	}
	value = s.value
	m.abandonSlot(s)
	return storedKey, value, true
}

// RemoveKey detaches key, destroys the value in place and returns the stored
// key. Available in both pinned and unpinned mode.
func (m *Map[K, V]) RemoveKey(key K) (K, bool) {
	m.access.lock()
	defer m.access.unlock()

	storedKey, s, existed := m.tree.Delete(key)
	if !existed {
		return key, false
	}
	// The entry is already detached, so a panicking destructor leaves the
	// map consistent.
	defer m.abandonSlot(s)
	m.destroySlot(s)
	return storedKey, true
}

// DropEntry destroys the entry under key in place and reports whether one
// existed. Available in both pinned and unpinned mode.
func (m *Map[K, V]) DropEntry(key K) bool {
	_, existed := m.RemoveKey(key)
	return existed
}

// Clear destroys every entry and recycles node and slot storage for future
// growth. Every entry is destroyed even if destructors panic: the pass
// finishes first and re-panics after (compounding multiple panics into
// TeardownPanics).
func (m *Map[K, V]) Clear() {
	m.access.lock()
	defer m.access.unlock()

	m.clear()
}

// Close tears the map down, destroying every entry with the same guarantees
// as Clear. References handed out earlier must not be used afterwards.
func (m *Map[K, V]) Close() {
	m.access.lock()
	defer m.access.unlock()

	m.clear()
}

// Pin consumes the map and activates the pinned guarantee: from now on no
// value is ever moved or silently discarded, for as long as the map lives.
// The unpinned handle must not be used afterwards.
func (m *Map[K, V]) Pin() *PinnedMap[K, V] {
	return &PinnedMap[K, V]{m: m}
}

func (m *Map[K, V]) clear() {
	var panics TeardownPanics
	if m.destructor != nil {
		for _, s := range m.tree.Iterator() {
			if p := contain(func() { m.destroySlot(s) }); p != nil {
				panics = append(panics, p)
			}
		}
	}

	m.tree.Reset()
	m.massSlots = mass.New[slot[V]](massSlotChunkSize)
	m.freeSlots = nil

	switch len(panics) {
	case 0:
	case 1:
		panic(panics[0])
	default:
		panic(panics)
	}
}

// reserveSlot prefers a slot released by a failed construction. Such a slot
// was never occupied and no pointer to it escaped, so reusing its address
// within the generation is safe.
func (m *Map[K, V]) reserveSlot() *slot[V] {
	if n := len(m.freeSlots); n > 0 {
		s := m.freeSlots[n-1]
		m.freeSlots = m.freeSlots[:n-1]
		return s
	}
	return m.massSlots.New()
}

func (m *Map[K, V]) releaseSlot(s *slot[V]) {
	var zero V
	s.value = zero
	s.state = types.StateFree
	m.freeSlots = append(m.freeSlots, s)
}

// abandonSlot marks a removed slot free without queueing it for reuse. Its
// address stays retired for the rest of the generation.
func (m *Map[K, V]) abandonSlot(s *slot[V]) {
	var zero V
	s.value = zero
	s.state = types.StateFree
}

// destroySlot runs the destructor at most once per occupancy.
func (m *Map[K, V]) destroySlot(s *slot[V]) {
	if s.state != types.StateOccupied {
		return
	}
	s.state = types.StateFree
	if m.destructor != nil {
		m.destructor(&s.value)
	}
}

// contain runs fn and converts a panic into a value so a teardown pass can
// keep going.
func contain(fn func()) (p any) {
	defer func() {
		p = recover()
	}()
	fn()
	return nil
}
