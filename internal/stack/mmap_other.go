//go:build !unix

package stack

import "errors"

// Mmap is only available on unix systems.
type Mmap struct{}

func NewMmap() (*Mmap, error) {
	return nil, errors.New("stack: mmap allocator not supported on this platform")
}

func (m *Mmap) Alloc(size int) (Stack, error) {
	return nil, errors.New("stack: mmap allocator not supported on this platform")
}

func (m *Mmap) Free(s Stack) error {
	return errors.New("stack: mmap allocator not supported on this platform")
}
