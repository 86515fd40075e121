package arena

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/outofforest/photon"
	"github.com/outofforest/pine/types"
)

// DefaultBlockSize is the size of a block allocated when config doesn't specify one.
const DefaultBlockSize = 1 << 20

// Config stores arena configuration.
type Config struct {
	BlockSize uint64
}

// New creates growth-only arena.
func New(config Config) *Arena {
	if config.BlockSize == 0 {
		config.BlockSize = DefaultBlockSize
	}
	return &Arena{
		config: config,
	}
}

// Arena allocates value storage in fixed blocks. A block, once mapped, is
// never moved or unmapped until the arena is closed, so every address handed
// out stays valid for the arena's lifetime. Reset recycles blocks for the
// next generation instead of returning them to the system.
type Arena struct {
	config     Config
	blocks     []block
	free       []block
	generation types.Generation
}

type block struct {
	p      unsafe.Pointer
	size   uint64
	offset uint64
}

// Allocate reserves size bytes aligned to align and returns their fixed address.
func (a *Arena) Allocate(size, align uint64) (unsafe.Pointer, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 || align > types.MaxAlign {
		align = types.MaxAlign
	}

	if len(a.blocks) > 0 {
		b := &a.blocks[len(a.blocks)-1]
		offset := (b.offset + align - 1) &^ (align - 1)
		if offset+size <= b.size {
			b.offset = offset + size
			return unsafe.Add(b.p, offset), nil
		}
	}

	blockSize := a.config.BlockSize
	if size > blockSize {
		// Oversized value gets a dedicated block. Mmap returns page-aligned
		// memory, so alignment is already satisfied.
		blockSize = (size + a.config.BlockSize - 1) / a.config.BlockSize * a.config.BlockSize
	}

	b, err := a.takeBlock(blockSize)
	if err != nil {
		return nil, err
	}
	b.offset = size
	a.blocks = append(a.blocks, b)
	return b.p, nil
}

// Generation returns the current storage generation.
func (a *Arena) Generation() types.Generation {
	return a.generation
}

// Allocated returns the number of bytes currently mapped by the arena.
func (a *Arena) Allocated() uint64 {
	var total uint64
	for _, b := range a.blocks {
		total += b.size
	}
	for _, b := range a.free {
		total += b.size
	}
	return total
}

// Reset recycles all blocks for reuse by future growth and starts the next
// generation. Block content is erased so stale values can't leak into it.
func (a *Arena) Reset() {
	for _, b := range a.blocks {
		clear(photon.SliceFromPointer[byte](b.p, int(b.size)))
		b.offset = 0
		a.free = append(a.free, b)
	}
	a.blocks = a.blocks[:0]
	a.generation++
}

// Close unmaps all blocks. No address handed out by the arena may be used
// afterwards.
func (a *Arena) Close() {
	for _, b := range a.blocks {
		_ = unix.Munmap(photon.SliceFromPointer[byte](b.p, int(b.size)))
	}
	for _, b := range a.free {
		_ = unix.Munmap(photon.SliceFromPointer[byte](b.p, int(b.size)))
	}
	a.blocks = nil
	a.free = nil
}

func (a *Arena) takeBlock(size uint64) (block, error) {
	for i, b := range a.free {
		if b.size >= size {
			a.free = append(a.free[:i], a.free[i+1:]...)
			return b, nil
		}
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return block{}, errors.Wrapf(err, "memory allocation failed")
	}
	return block{
		p:    unsafe.Pointer(&data[0]),
		size: uint64(len(data)),
	}, nil
}
