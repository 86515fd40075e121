package pine

import (
	"unsafe"

	"github.com/outofforest/photon"
)

// Erased is a capability-erased view of one stored value: an address, a size
// and a type tag. It exposes only type-independent operations; As recovers
// the typed pointer.
type Erased struct {
	p    unsafe.Pointer
	size uint64
	tag  uint64
}

// Size returns the size of the value in bytes.
func (e Erased) Size() uint64 {
	return e.size
}

// Bytes returns the raw storage of the value.
func (e Erased) Bytes() []byte {
	return photon.SliceFromPointer[byte](e.p, int(e.size))
}

// As returns the typed pointer behind an erased handle if the handle was
// emplaced as a T. Types free of Go pointers are always comparable, so the
// constraint excludes nothing the arena could store.
func As[T comparable](e Erased) (*T, bool) {
	if e.p == nil || e.tag != TagOf[T]() {
		return nil, false
	}
	return photon.FromPointer[T](e.p), true
}

// Emplacer is the emplacement surface shared by pressed maps and their
// pinned views.
type Emplacer[K any] interface {
	tryEmplace(key K, layout Layout, factory func(key K, data unsafe.Pointer) error) (Erased, error)
}

// Emplace stores value under key if the key is absent. T must not contain Go
// pointers. No destructor is registered; use EmplaceWith for values needing
// cleanup.
func Emplace[K any, T comparable](m Emplacer[K], key K, value T) (*T, error) {
	return EmplaceWith[K, T](m, key, nil, func(_ K, v *T) error {
		*v = value
		return nil
	})
}

// EmplaceWith constructs a T in place under key if the key is absent,
// registering destroy (which may be nil) to run when the entry is destroyed.
// The factory writes through the provided pointer into reserved storage; the
// entry becomes visible only if it returns nil, and a factory error leaves
// the map untouched. T must not contain Go pointers.
func EmplaceWith[K any, T comparable](
	m Emplacer[K],
	key K,
	destroy func(*T),
	factory func(key K, value *T) error,
) (*T, error) {
	e, err := m.tryEmplace(key, LayoutOf[T](destroy), func(key K, data unsafe.Pointer) error {
		return factory(key, (*T)(data))
	})
	if err != nil {
		return nil, err
	}
	return photon.FromPointer[T](e.p), nil
}

// Lookup returns the typed pointer stored under key if the entry exists and
// was emplaced as a T.
func Lookup[K any, T comparable](m interface {
	Get(key K) (Erased, bool)
}, key K) (*T, bool) {
	e, exists := m.Get(key)
	if !exists {
		return nil, false
	}
	return As[T](e)
}
