//go:build unix

package stack

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap allocates every stack in its own anonymous mapping with an
// inaccessible guard page below the usable region, like native thread
// libraries do. Since no thread executes on the buffer, the guard page
// only traps writes that run off the front of it.
type Mmap struct {
	mappings map[uintptr][]byte
}

// NewMmap returns a ready to use Mmap allocator.
func NewMmap() (*Mmap, error) {
	return &Mmap{
		mappings: make(map[uintptr][]byte),
	}, nil
}

func (m *Mmap) Alloc(size int) (Stack, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(-1, 0, size+page, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("%w: mmap: %w", ErrExhausted, err)
		}
		return nil, fmt.Errorf("stack: mmap: %w", err)
	}
	if err := unix.Mprotect(mem[:page], unix.PROT_NONE); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("stack: guard page: %w", err)
	}

	s := Stack(mem[page:])
	m.mappings[base(s)] = mem
	return s, nil
}

func (m *Mmap) Free(s Stack) error {
	key := base(s)
	mem, ok := m.mappings[key]
	if !ok {
		return errors.New("stack: free of unknown stack")
	}
	delete(m.mappings, key)
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("stack: munmap: %w", err)
	}
	return nil
}

func base(s Stack) uintptr {
	if len(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s[0]))
}
