// File: pool/sizer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adaptive receive-buffer sizer. Guesses grow aggressively when a read pass
// fills the whole buffer and shrink only after two consecutive small passes,
// so a single quiet pass does not flap the buffer size.

package pool

import "sort"

const (
	sizerIndexIncrement = 4
	sizerIndexDecrement = 1

	// DefaultMinRecv is the smallest guess the default sizer will make.
	DefaultMinRecv = 64
	// DefaultInitialRecv is the first guess of the default sizer.
	DefaultInitialRecv = 2048
	// DefaultMaxRecv caps the default sizer's guesses.
	DefaultMaxRecv = 64 * 1024
)

// sizeTable holds the candidate sizes: multiples of 16 up to 496, then
// powers of two.
var sizeTable = buildSizeTable()

func buildSizeTable() []int {
	var t []int
	for i := 16; i < 512; i += 16 {
		t = append(t, i)
	}
	for i := 512; i > 0 && i <= 1<<30; i <<= 1 {
		t = append(t, i)
	}
	return t
}

func sizeTableIndex(size int) int {
	i := sort.SearchInts(sizeTable, size)
	if i == len(sizeTable) {
		i--
	}
	return i
}

// AdaptiveSizer implements api.RecvSizer with a bounded size table walk.
type AdaptiveSizer struct {
	minIndex  int
	maxIndex  int
	index     int
	next      int
	shrinkNow bool
}

// NewAdaptiveSizer creates a sizer bounded to [min, max] starting at initial.
func NewAdaptiveSizer(min, initial, max int) *AdaptiveSizer {
	if min <= 0 {
		min = DefaultMinRecv
	}
	if max < min {
		max = min
	}
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	s := &AdaptiveSizer{
		minIndex: sizeTableIndex(min),
		maxIndex: sizeTableIndex(max),
	}
	s.index = sizeTableIndex(initial)
	if s.index < s.minIndex {
		s.index = s.minIndex
	}
	if s.index > s.maxIndex {
		s.index = s.maxIndex
	}
	s.next = sizeTable[s.index]
	return s
}

// NewDefaultSizer creates a sizer with the default bounds.
func NewDefaultSizer() *AdaptiveSizer {
	return NewAdaptiveSizer(DefaultMinRecv, DefaultInitialRecv, DefaultMaxRecv)
}

// Guess returns the capacity for the next receive buffer.
func (s *AdaptiveSizer) Guess() int { return s.next }

// Record adapts the next guess from the bytes a read pass produced.
func (s *AdaptiveSizer) Record(total int) {
	shrunkIdx := s.index - sizerIndexDecrement
	if shrunkIdx < s.minIndex {
		shrunkIdx = s.minIndex
	}
	if total <= sizeTable[shrunkIdx] {
		if s.shrinkNow {
			s.index = shrunkIdx
			s.next = sizeTable[s.index]
			s.shrinkNow = false
		} else {
			s.shrinkNow = true
		}
		return
	}
	if total >= s.next {
		s.index += sizerIndexIncrement
		if s.index > s.maxIndex {
			s.index = s.maxIndex
		}
		s.next = sizeTable[s.index]
	}
	s.shrinkNow = false
}
