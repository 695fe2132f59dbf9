// Package bitset provides fixed-width-feeling but actually growable
// bitsets for component presence, change tracking, and query masks,
// wrapping github.com/bits-and-blooms/bitset so the component count isn't
// capped the way a raw uint64-backed set would be.
package bitset

import (
	bbbitset "github.com/bits-and-blooms/bitset"
)

// Set is a growable bitset keyed by small dense uint indices (component
// type ids, or entity indices for presence masks).
type Set struct {
	bits *bbbitset.BitSet
}

// New creates an empty set with room for at least capacityHint bits
// without reallocating.
func New(capacityHint uint) *Set {
	return &Set{bits: bbbitset.New(capacityHint)}
}

// FromBits creates a set with the given bit positions already set.
func FromBits(positions ...uint) *Set {
	s := New(uint(len(positions)))
	for _, p := range positions {
		s.Set(p)
	}
	return s
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return &Set{bits: s.bits.Clone()}
}

// Set sets bit i and returns s for chaining.
func (s *Set) Set(i uint) *Set {
	s.bits.Set(i)
	return s
}

// Clear clears bit i and returns s for chaining.
func (s *Set) Clear(i uint) *Set {
	s.bits.Clear(i)
	return s
}

// Has reports whether bit i is set.
func (s *Set) Has(i uint) bool {
	return s.bits.Test(i)
}

// HasAll reports whether every bit in positions is set.
func (s *Set) HasAll(positions ...uint) bool {
	for _, p := range positions {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// HasAny reports whether any bit in positions is set.
func (s *Set) HasAny(positions ...uint) bool {
	for _, p := range positions {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Or returns a new set that is the bitwise union of s and other.
func (s *Set) Or(other *Set) *Set {
	return &Set{bits: s.bits.Union(other.bits)}
}

// And returns a new set that is the bitwise intersection of s and other.
func (s *Set) And(other *Set) *Set {
	return &Set{bits: s.bits.Intersection(other.bits)}
}

// AndNot returns a new set containing bits in s but not in other.
func (s *Set) AndNot(other *Set) *Set {
	return &Set{bits: s.bits.Difference(other.bits)}
}

// Intersects reports whether s and other share any set bit.
func (s *Set) Intersects(other *Set) bool {
	return s.bits.IntersectionCardinality(other.bits) > 0
}

// IsSubsetOf reports whether every bit set in s is also set in other.
func (s *Set) IsSubsetOf(other *Set) bool {
	return s.bits.DifferenceCardinality(other.bits) == 0
}

// Satisfies reports whether s has every bit in with and none in without —
// the presence-bitset test at the heart of QueryEngine filtering (spec P3).
func (s *Set) Satisfies(with, without *Set) bool {
	if with != nil && !s.bits.IsSuperSet(with.bits) {
		return false
	}
	if without != nil && s.bits.IntersectionCardinality(without.bits) > 0 {
		return false
	}
	return true
}

// Count returns the number of set bits.
func (s *Set) Count() uint {
	return s.bits.Count()
}

// Each calls fn for every set bit in ascending order.
func (s *Set) Each(fn func(i uint)) {
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		fn(i)
	}
}

// ToSlice returns every set bit as a slice, ascending.
func (s *Set) ToSlice() []uint {
	out := make([]uint, 0, s.bits.Count())
	s.Each(func(i uint) { out = append(out, i) })
	return out
}

// Equal reports whether s and other have identical bits set.
func (s *Set) Equal(other *Set) bool {
	return s.bits.Equal(other.bits)
}
