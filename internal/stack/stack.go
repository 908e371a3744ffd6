// Package stack allocates the stack buffers owned by thread records.
//
// Threads execute on their goroutines' stacks, not on these buffers. A
// Stack accounts for a thread's stack resource: allocation is what
// MaxThreads limits and what fails with ErrExhausted, and freeing it is
// the last step of reclaiming a thread.
package stack

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned (possibly wrapped) when no stack can be
// allocated.
var ErrExhausted = errors.New("stack: exhausted")

// A Stack is a stack buffer. It is exclusively owned by whoever allocated
// it until it is handed back with Free.
type Stack []byte

// An Allocator hands out and takes back stacks.
type Allocator interface {
	Alloc(size int) (Stack, error)
	Free(s Stack) error
}

func checkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("stack: bad size %d", size)
	}
	return nil
}

// Pool is a heap allocator that reuses freed stacks of the same size. The
// zero value is ready to use.
type Pool struct {
	free map[int][]Stack
}

func (p *Pool) Alloc(size int) (Stack, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if list := p.free[size]; len(list) > 0 {
		s := list[len(list)-1]
		p.free[size] = list[:len(list)-1]
		clear(s)
		return s, nil
	}
	return make(Stack, size), nil
}

func (p *Pool) Free(s Stack) error {
	if s == nil {
		return errors.New("stack: free of nil stack")
	}
	if p.free == nil {
		p.free = make(map[int][]Stack)
	}
	p.free[len(s)] = append(p.free[len(s)], s)
	return nil
}

// Limit wraps an Allocator and fails allocations with ErrExhausted once Max
// stacks are live. Max <= 0 means no limit.
type Limit struct {
	Allocator Allocator
	Max       int

	live int
}

func (l *Limit) Alloc(size int) (Stack, error) {
	if l.Max > 0 && l.live >= l.Max {
		return nil, fmt.Errorf("%w: %d of %d stacks live", ErrExhausted, l.live, l.Max)
	}
	s, err := l.Allocator.Alloc(size)
	if err != nil {
		return nil, err
	}
	l.live++
	return s, nil
}

func (l *Limit) Free(s Stack) error {
	if l.live == 0 {
		return errors.New("stack: free without live stacks")
	}
	if err := l.Allocator.Free(s); err != nil {
		return err
	}
	l.live--
	return nil
}

// Live returns the number of stacks allocated and not yet freed.
func (l *Limit) Live() int {
	return l.live
}
