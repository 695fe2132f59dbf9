package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ecsframe/internal/ecs/bitset"
	"ecsframe/internal/ecs/ecscore"
)

const (
	typeA ecscore.TypeID = 1
	typeB ecscore.TypeID = 2
	typeC ecscore.TypeID = 3
)

func ent(idx uint32) ecscore.Entity { return ecscore.Entity{Index: idx, Generation: 1} }

func containsIdx(list []ecscore.Entity, idx uint32) bool {
	for _, e := range list {
		if e.Index == idx {
			return true
		}
	}
	return false
}

// apply simulates Registry.recordShape: snapshot membership, set the
// entity's presence bit, then observe the shape change.
func apply(e *Engine, presence map[uint32]*bitset.Set, entityIdx uint32, set func(*bitset.Set)) {
	p, ok := presence[entityIdx]
	if !ok {
		p = bitset.New(8)
		presence[entityIdx] = p
	}
	was := e.MembershipSnapshot(entityIdx)
	set(p)
	e.ObserveShapeChange(ent(entityIdx), p, was)
}

func Test_Engine_QuerySoundnessWithWithout(t *testing.T) {
	// Arrange
	e := New()
	with := bitset.FromBits(uint(typeA), uint(typeB))
	without := bitset.FromBits(uint(typeC))
	decl := e.Compile(with, without, nil, nil)
	presence := map[uint32]*bitset.Set{}

	// Act
	apply(e, presence, 1, func(s *bitset.Set) { s.Set(uint(typeA)); s.Set(uint(typeB)) })
	apply(e, presence, 2, func(s *bitset.Set) { s.Set(uint(typeA)) }) // missing B
	apply(e, presence, 3, func(s *bitset.Set) { s.Set(uint(typeA)); s.Set(uint(typeB)); s.Set(uint(typeC)) }) // excluded by without

	// Assert
	current := e.Current(decl)
	if assert.Len(t, current, 1) {
		assert.True(t, containsIdx(current, 1))
	}
}

func Test_Engine_QueryAddedRemovedAcrossFrames(t *testing.T) {
	// Arrange
	e := New()
	decl := e.Compile(bitset.FromBits(uint(typeA)), nil, nil, nil)
	presence := map[uint32]*bitset.Set{}

	// Act & Assert
	apply(e, presence, 1, func(s *bitset.Set) { s.Set(uint(typeA)) })
	assert.True(t, containsIdx(e.Added(decl), 1), "expected entity 1 in Added this frame")

	e.BeginFrame()
	assert.Empty(t, e.Added(decl), "expected Added to clear after BeginFrame")
	assert.True(t, containsIdx(e.Current(decl), 1), "expected Current to persist across BeginFrame")

	apply(e, presence, 1, func(s *bitset.Set) { s.Clear(uint(typeA)) })
	assert.True(t, containsIdx(e.Removed(decl), 1), "expected entity 1 in Removed after losing the component")
	assert.False(t, containsIdx(e.Current(decl), 1), "expected entity 1 to drop out of Current")
}

func Test_Engine_QueryChangeTrackingOnlyTracksDeclaredTypes(t *testing.T) {
	// Arrange
	e := New()
	decl := e.Compile(bitset.FromBits(uint(typeA)), nil, []ecscore.TypeID{typeB}, nil)
	presence := map[uint32]*bitset.Set{}
	apply(e, presence, 1, func(s *bitset.Set) { s.Set(uint(typeA)) })
	e.BeginFrame()

	// Act & Assert
	e.ObserveWrite(ent(1), typeA) // not tracked
	assert.False(t, containsIdx(e.Changed(decl), 1), "expected a write to an untracked type to not mark changed")

	e.ObserveWrite(ent(1), typeB) // tracked
	assert.True(t, containsIdx(e.Changed(decl), 1), "expected a write to a tracked type to mark changed")
	assert.True(t, containsIdx(e.AddedOrChanged(decl), 1), "expected AddedOrChanged to include a changed-only entity")
}

func Test_ResolveJoin_DedupsAndSkipsNil(t *testing.T) {
	// Arrange
	j := Join{Name: "target", FieldName: "ref"}
	refs := map[uint32]ecscore.Entity{
		1: ent(10),
		2: ent(10), // same target as 1
		3: ecscore.Nil,
	}
	readRef := func(e ecscore.Entity, field string) (ecscore.Entity, bool) {
		target, ok := refs[e.Index]
		return target, ok
	}

	// Act
	out := ResolveJoin(j, []ecscore.Entity{ent(1), ent(2), ent(3)}, readRef)

	// Assert
	if assert.Len(t, out, 1) {
		assert.Equal(t, uint32(10), out[0].Index)
	}
}
