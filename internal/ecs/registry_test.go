package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecsframe/internal/ecs/bitset"
	"ecsframe/internal/ecs/ecscore"
	"ecsframe/internal/ecs/store"
)

func testConfig() WorldConfig {
	cfg := DefaultWorldConfig()
	cfg.MaxEntities = 32
	cfg.Defs = []ComponentDef{
		{Name: "A", Storage: ecscore.Packed, Fields: []ecscore.FieldDef{{Name: "v", Kind: ecscore.FieldI32}}},
		{Name: "B", Storage: ecscore.Packed, Fields: []ecscore.FieldDef{
			{Name: "v", Kind: ecscore.FieldI32},
			{Name: "target", Kind: ecscore.FieldRef},
		}},
		{Name: "C", Storage: ecscore.Packed, Fields: []ecscore.FieldDef{{Name: "v", Kind: ecscore.FieldI32}}},
	}
	return cfg
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	return r
}

// P1: entity identity is never reused — once an index is recycled, its new
// generation must differ from (and never collide as "alive" with) the old.
func Test_Registry_EntityIdentityNeverReused(t *testing.T) {
	// Arrange
	r := newTestRegistry(t)
	e1, err := r.Create()
	require.NoError(t, err)
	require.NoError(t, r.Delete(e1))
	assert.False(t, r.Validate(e1), "expected the deleted handle to no longer validate")
	r.AdvanceLimbo() // frame 0 -> 1, still within the window
	r.AdvanceLimbo() // elapses the limbo window, index returned to the pool

	// Act: the pool hands indices out FIFO, so draw entities until the
	// recycled index comes back around.
	e2, err := r.Create()
	require.NoError(t, err)
	for e2.Index != e1.Index {
		e2, err = r.Create()
		require.NoError(t, err)
	}

	// Assert
	assert.NotEqual(t, e1.Generation, e2.Generation, "expected a recycled index to get a new generation")
	assert.False(t, e1.Same(e2), "the old handle must never again be Same as the recycled one")
	assert.False(t, r.Validate(e1), "the old handle must never validate again, even after recycling")
}

// P6: deleting an entity defers clearing the forward refs pointing at it
// until the deleted entity's own limbo window elapses — a stale-enabled
// read must still observe the original target up to that point.
func Test_Registry_DeletePropagatesToReferrers(t *testing.T) {
	// Arrange
	r := newTestRegistry(t)
	origin, _ := r.Create()
	dest, _ := r.Create()
	require.NoError(t, r.Add(origin, "B", nil))
	require.NoError(t, r.SetRef(origin, "B", "target", dest))

	// Act
	require.NoError(t, r.Delete(dest))

	// Assert: within the limbo window, a stale-enabled read still observes
	// the original target, but a non-stale read sees it as already cleared.
	view, err := r.Read(origin, "B", false)
	require.NoError(t, err)
	stale, err := view.Ref("target", true)
	require.NoError(t, err)
	assert.True(t, stale.Same(dest), "expected a stale-enabled read to still observe the original target during the limbo window")
	nonStale, err := view.Ref("target", false)
	require.NoError(t, err)
	assert.True(t, nonStale.IsNil(), "expected a non-stale read to observe the ref as already cleared during the limbo window")

	// Act: elapse the limbo window.
	r.AdvanceLimbo()
	r.AdvanceLimbo()

	// Assert: once finalized, even a stale-enabled read sees it cleared.
	view, err = r.Read(origin, "B", false)
	require.NoError(t, err)
	finalRef, err := view.Ref("target", true)
	require.NoError(t, err)
	assert.True(t, finalRef.IsNil(), "expected the forward ref to be fully cleared once the limbo window elapsed")
}

// Type-level invariant: a component declaring RequiresComponent must
// raise InvalidShape once added to an entity that doesn't also carry the
// required sibling, without undoing the mutation itself.
func Test_Registry_InvariantRejectsMissingRequiredComponent(t *testing.T) {
	// Arrange
	cfg := DefaultWorldConfig()
	cfg.MaxEntities = 8
	cfg.Defs = []ComponentDef{
		{Name: "Position", Storage: ecscore.Packed, Fields: []ecscore.FieldDef{{Name: "x", Kind: ecscore.FieldF64}}},
		{Name: "Velocity", Storage: ecscore.Packed, Fields: []ecscore.FieldDef{{Name: "dx", Kind: ecscore.FieldF64}},
			Invariants: []ecscore.InvariantFactory{ecscore.RequiresComponent("Position")}},
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	e, _ := r.Create()

	// Act: add Velocity without ever adding Position.
	addErr := r.Add(e, "Velocity", nil)

	// Assert
	require.Error(t, addErr, "expected adding Velocity without Position to raise a shape violation")
	assert.True(t, ecscore.IsShapeViolation(addErr))
	assert.True(t, r.Has(e, "Velocity"), "expected the mutation itself to still stand despite the invariant failure")

	// Act: adding Position afterward satisfies the invariant.
	satisfyErr := r.Add(e, "Position", nil)
	assert.NoError(t, satisfyErr)
}

// Capacity ceilings: Remove must refuse to grow the component limbo pool
// past WorldConfig.MaxLimboComponents, and Delete must refuse to grow the
// entity limbo pool past WorldConfig.MaxLimboEntities — both raising a
// capacity error rather than silently letting the pending-finalize lists
// grow unbounded.
func Test_Registry_RemoveRejectsOnceComponentLimboPoolExhausted(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.MaxLimboComponents = 1
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	e1, _ := r.Create()
	e2, _ := r.Create()
	require.NoError(t, r.Add(e1, "A", nil))
	require.NoError(t, r.Add(e2, "A", nil))

	// Act: the first Remove fills the one-slot limbo pool.
	require.NoError(t, r.Remove(e1, "A"))
	secondErr := r.Remove(e2, "A")

	// Assert
	require.Error(t, secondErr, "expected the second Remove to exceed MaxLimboComponents")
	assert.True(t, ecscore.IsCapacity(secondErr))
	assert.True(t, ecscore.Is(secondErr, ecscore.CodeLimboPoolExhausted))
	assert.True(t, r.Has(e2, "A"), "expected the rejected Remove to leave the component in place")

	// Act: elapsing the window frees the slot for later removals.
	r.AdvanceLimbo()
	r.AdvanceLimbo()
	assert.NoError(t, r.Remove(e2, "A"))
}

func Test_Registry_DeleteRejectsOnceEntityLimboPoolExhausted(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.MaxLimboEntities = 1
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	e1, _ := r.Create()
	e2, _ := r.Create()

	// Act: the first Delete fills the one-slot entity limbo pool.
	require.NoError(t, r.Delete(e1))
	secondErr := r.Delete(e2)

	// Assert
	require.Error(t, secondErr, "expected the second Delete to exceed MaxLimboEntities")
	assert.True(t, ecscore.IsCapacity(secondErr))
	assert.True(t, ecscore.Is(secondErr, ecscore.CodeLimboPoolExhausted))
	assert.True(t, r.Validate(e2), "expected the rejected Delete to leave e2 alive")

	// Act: elapsing the window frees the slot for later deletions.
	r.AdvanceLimbo()
	r.AdvanceLimbo()
	assert.NoError(t, r.Delete(e2))
}

// Resurrection across a component's own limbo window: Remove marks a
// pending removal, a later Add before Finalize cancels it and reuses the
// previous row, whose value the Add's patch then overwrites.
func Test_Registry_ComponentResurrectionAcrossFrames(t *testing.T) {
	// Arrange
	r := newTestRegistry(t)
	e, _ := r.Create()
	require.NoError(t, r.Add(e, "B", func(v *store.RowView) error { return v.SetI32("v", 1) }))
	require.NoError(t, r.Remove(e, "B"))
	require.False(t, r.Has(e, "B"), "expected Has(B) false immediately after Remove")

	// Act: resurrect before AdvanceLimbo finalizes it.
	require.NoError(t, r.Add(e, "B", func(v *store.RowView) error { return v.SetI32("v", 2) }))

	// Assert
	assert.True(t, r.Has(e, "B"), "expected Has(B) true again after resurrection")
	view, err := r.Read(e, "B", false)
	require.NoError(t, err)
	v, _ := view.I32("v")
	assert.Equal(t, int32(2), v, "expected the resurrected row to carry the new value")

	r.AdvanceLimbo()
	r.AdvanceLimbo()
	assert.True(t, r.Has(e, "B"), "a resurrected component must survive AdvanceLimbo, since it was never actually finalized")
}

// Query soundness + change tracking: a system that writes +1 on entities
// carrying both A and C must affect exactly the intersection, and only
// those writes should surface on the changed stream — one frame after
// they happened, since BeginFrame only flushes the *previous* frame's
// queued shape/write events into query membership.
func Test_Registry_QueryIntersectionAndChangeTracking(t *testing.T) {
	// Arrange
	r := newTestRegistry(t)
	typA, _ := r.Types().Lookup("A")
	typC, _ := r.Types().Lookup("C")

	both1, _ := r.Create()
	both2, _ := r.Create()
	onlyA, _ := r.Create()
	onlyC, _ := r.Create()

	// Queries compile before the shape changes they observe — membership
	// is built incrementally from Add/Remove, not backfilled retroactively.
	withAC := bitset.FromBits(uint(typA.ID), uint(typC.ID))
	q := r.Queries().Compile(withAC, nil, []ecscore.TypeID{typA.ID}, nil)

	r.Add(both1, "A", func(v *store.RowView) error { return v.SetI32("v", 0) })
	r.Add(both1, "C", func(v *store.RowView) error { return v.SetI32("v", 0) })
	r.Add(both2, "A", func(v *store.RowView) error { return v.SetI32("v", 0) })
	r.Add(both2, "C", func(v *store.RowView) error { return v.SetI32("v", 0) })
	r.Add(onlyA, "A", func(v *store.RowView) error { return v.SetI32("v", 0) })
	r.Add(onlyC, "C", func(v *store.RowView) error { return v.SetI32("v", 0) })

	assert.Empty(t, r.QueryCurrent(q), "expected no membership yet — Add only queues a shape event, it doesn't flush it")

	// Act: the first BeginFrame flushes the Adds above, bringing both1 and
	// both2 into membership for this frame.
	r.BeginFrame()
	matched := r.QueryCurrent(q)
	assert.Len(t, matched, 2, "expected exactly 2 entities to match the A&C query once their Adds are flushed")

	for _, e := range r.QueryCurrent(q) {
		view, err := r.Write(e, "A")
		require.NoError(t, err)
		cur, _ := view.I32("v")
		view.SetI32("v", cur+1)
	}

	// Assert: the writes landed on the underlying store immediately...
	for _, e := range []ecscore.Entity{both1, both2} {
		view, _ := r.Read(e, "A", false)
		v, _ := view.I32("v")
		assert.Equal(t, int32(1), v)
	}
	for _, e := range []ecscore.Entity{onlyA, onlyC} {
		view, _ := r.Read(e, "A", false)
		if view != nil {
			v, _ := view.I32("v")
			assert.Equal(t, int32(0), v, "expected a non-matching entity's A.v to stay 0")
		}
	}

	// ...but the changed stream doesn't see them until next frame's flush.
	assert.Empty(t, r.QueryChanged(q), "expected the changed stream to stay empty until the writes are flushed")

	r.BeginFrame()
	changed := r.QueryChanged(q)
	assert.Len(t, changed, 2, "expected exactly 2 entities on the changed stream once the writes are flushed")
}
