package pine_test

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/pine"
)

type vec3 struct {
	X, Y, Z float64
}

type counter struct {
	Hits uint64
}

func TestPressedRoundTrip(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	v, err := pine.Emplace(m, "vec", vec3{X: 1, Y: 2, Z: 3})
	requireT.NoError(err)
	requireT.Equal(vec3{X: 1, Y: 2, Z: 3}, *v)

	c, err := pine.Emplace(m, "counter", counter{Hits: 9})
	requireT.NoError(err)
	requireT.Equal(uint64(9), c.Hits)

	requireT.Equal(uint64(2), m.Len())

	e, exists := m.Get("vec")
	requireT.True(exists)
	requireT.Equal(uint64(unsafe.Sizeof(vec3{})), e.Size())

	got, ok := pine.As[vec3](e)
	requireT.True(ok)
	requireT.Same(v, got)

	// Wrong type never projects.
	_, ok = pine.As[counter](e)
	requireT.False(ok)

	_, exists = m.Get("missing")
	requireT.False(exists)
}

func TestPressedHandlesStableAcrossGrowth(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[int](pine.WithBlockSize(512))
	t.Cleanup(m.Close)

	pointers := map[int]*uint64{}
	for key := range 5000 {
		v, err := pine.Emplace(m, key, uint64(key))
		requireT.NoError(err)
		pointers[key] = v
	}

	for key, p := range pointers {
		requireT.Equal(uint64(key), *p)
		got, exists := pine.Lookup[int, uint64](m, key)
		requireT.True(exists)
		requireT.Same(p, got)
	}
}

func TestPressedConflict(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	_, err := pine.Emplace(m, "k", uint64(1))
	requireT.NoError(err)

	// Conflicting emplacement constructs nothing, even as a different type.
	_, err = pine.Emplace(m, "k", vec3{X: 9})
	requireT.ErrorIs(err, pine.ErrConflict)

	v, exists := pine.Lookup[string, uint64](m, "k")
	requireT.True(exists)
	requireT.Equal(uint64(1), *v)
	requireT.Equal(uint64(1), m.Len())
}

func TestPressedFactoryErrorLeavesMapUntouched(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	errBoom := errors.New("boom")
	_, err := pine.EmplaceWith(m, "k", nil, func(_ string, v *uint64) error {
		*v = 7
		return errBoom
	})
	requireT.ErrorIs(err, errBoom)
	requireT.Zero(m.Len())

	_, exists := m.Get("k")
	requireT.False(exists)

	v, err := pine.Emplace(m, "k", uint64(1))
	requireT.NoError(err)
	requireT.Equal(uint64(1), *v)
}

func TestPressedDestructorRunsOnRemoveKey(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	destroyed := []uint64{}
	_, err := pine.EmplaceWith(m, "k",
		func(v *uint64) {
			destroyed = append(destroyed, *v)
		},
		func(_ string, v *uint64) error {
			*v = 42
			return nil
		})
	requireT.NoError(err)

	key, existed := m.RemoveKey("k")
	requireT.True(existed)
	requireT.Equal("k", key)
	requireT.Equal([]uint64{42}, destroyed)
	requireT.Zero(m.Len())

	_, existed = m.RemoveKey("k")
	requireT.False(existed)
}

func TestPressedRemovalReturnsStoredKey(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressedFunc[string](func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	t.Cleanup(m.Close)

	_, err := pine.Emplace(m, "Key", uint64(1))
	requireT.NoError(err)

	key, existed := m.RemoveKey("KEY")
	requireT.True(existed)
	requireT.Equal("Key", key)
}

func TestPressedClearSurvivesDestructorPanics(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	destroyed := []uint64{}
	destroy := func(v *uint64) {
		destroyed = append(destroyed, *v)
		if *v == 2 {
			panic("2 blew up")
		}
	}
	for i, key := range []string{"a", "b", "c"} {
		value := uint64(i + 1)
		_, err := pine.EmplaceWith(m, key, destroy, func(_ string, v *uint64) error {
			*v = value
			return nil
		})
		requireT.NoError(err)
	}

	requireT.PanicsWithValue("2 blew up", m.Clear)
	requireT.Equal([]uint64{1, 2, 3}, destroyed)
	requireT.Zero(m.Len())
}

func TestPressedClearRecyclesStorage(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	v1, err := pine.Emplace(m, "k", uint64(1))
	requireT.NoError(err)

	m.Clear()
	requireT.Zero(m.Len())

	// The next generation grows into the recycled blocks.
	v2, err := pine.Emplace(m, "other", uint64(2))
	requireT.NoError(err)
	requireT.Equal(uintptr(unsafe.Pointer(v1)), uintptr(unsafe.Pointer(v2)))
	requireT.Equal(uint64(2), *v2)
}

func TestPressedBytesView(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	_, err := pine.Emplace(m, "k", uint64(0x0102030405060708))
	requireT.NoError(err)

	e, exists := m.Get("k")
	requireT.True(exists)
	requireT.Len(e.Bytes(), 8)
}

func TestPressedEmplaceWritesThroughCursor(t *testing.T) {
	requireT := require.New(t)
	m := pine.NewPressed[string]()
	t.Cleanup(m.Close)

	var cursor *vec3
	v, err := pine.EmplaceWith(m, "k", nil, func(_ string, v *vec3) error {
		cursor = v
		v.X = 1
		v.Y = 2
		return nil
	})
	requireT.NoError(err)
	// The factory constructed the value directly in its final storage.
	requireT.Same(cursor, v)
	requireT.Equal(vec3{X: 1, Y: 2}, *v)
}
