package refindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecsframe/internal/ecs/ecscore"
)

func entity(idx, gen uint32) ecscore.Entity { return ecscore.Entity{Index: idx, Generation: gen} }

func containsEntity(list []ecscore.Entity, e ecscore.Entity) bool {
	for _, r := range list {
		if r.Same(e) {
			return true
		}
	}
	return false
}

func Test_RefIndex_OnRefWriteFansOutThreeGranularities(t *testing.T) {
	// Arrange
	r := New()
	source := entity(1, 1)
	target := entity(2, 1)
	const sourceType ecscore.TypeID = 7

	// Act
	r.OnRefWrite(source, sourceType, "target", ecscore.Nil, target)

	// Assert
	assert.True(t, containsEntity(r.ReferrersOf(target, sourceType, "target"), source), "precise lookup")
	assert.True(t, containsEntity(r.ReferrersOfType(target, sourceType), source), "byType lookup")
	assert.True(t, containsEntity(r.AllReferrers(target), source), "global lookup")
}

func Test_RefIndex_OnRefWriteRetarget(t *testing.T) {
	// Arrange
	r := New()
	source := entity(1, 1)
	oldTarget, newTarget := entity(2, 1), entity(3, 1)
	const sourceType ecscore.TypeID = 7
	r.OnRefWrite(source, sourceType, "target", ecscore.Nil, oldTarget)

	// Act
	r.OnRefWrite(source, sourceType, "target", oldTarget, newTarget)

	// Assert
	assert.False(t, containsEntity(r.AllReferrers(oldTarget), source), "old target should drop the referrer")
	assert.True(t, containsEntity(r.AllReferrers(newTarget), source), "new target should list the referrer")
}

func Test_RefIndex_OnReferentFinalizedDropsReferrer(t *testing.T) {
	// Arrange
	r := New()
	source := entity(1, 1)
	target := entity(2, 1)
	const sourceType ecscore.TypeID = 7
	r.OnRefWrite(source, sourceType, "target", ecscore.Nil, target)

	// Act
	r.OnReferentFinalized(source, sourceType, "target", target)

	// Assert
	assert.False(t, containsEntity(r.AllReferrers(target), source), "expected finalizing the referent to drop the referrer")
}

func Test_RefIndex_BucketEscalatesPastThreshold(t *testing.T) {
	// Arrange
	r := New()
	target := entity(2, 1)
	const sourceType ecscore.TypeID = 7

	// Act
	for i := uint32(10); i < 10+uint32(indexUpgradeThreshold)+5; i++ {
		r.OnRefWrite(entity(i, 1), sourceType, "target", ecscore.Nil, target)
	}

	// Assert
	referrers := r.AllReferrers(target)
	assert.Len(t, referrers, int(indexUpgradeThreshold)+5)

	// Remove one and confirm the indexed removal path still finds it.
	victim := entity(10, 1)
	r.OnRefWrite(victim, sourceType, "target", target, ecscore.Nil)
	assert.False(t, containsEntity(r.AllReferrers(target), victim), "expected victim removed from the escalated bucket")
	assert.Len(t, r.AllReferrers(target), int(indexUpgradeThreshold)+4)
}

func Test_RefIndex_ResurrectRefusesRecycledTarget(t *testing.T) {
	// Arrange
	r := New()
	source := entity(1, 1)
	target := entity(2, 1)
	const sourceType ecscore.TypeID = 7
	// Target's slot was recycled to generation 3 during source's limbo window.
	currentGen := func(idx uint32) uint32 { return 3 }

	// Act
	err := r.Resurrect(source, sourceType, "target", target, currentGen)

	// Assert
	assert.Error(t, err, "expected Resurrect to refuse a since-recycled target")
	assert.False(t, containsEntity(r.AllReferrers(target), source), "a refused resurrection must not add the referrer")
}

func Test_RefIndex_OnRefWriteRejectsOnceFrameCapReached(t *testing.T) {
	// Arrange
	r := NewWithLimit(2)
	target := entity(9, 1)
	const sourceType ecscore.TypeID = 7

	// Act
	err1 := r.OnRefWrite(entity(1, 1), sourceType, "target", ecscore.Nil, target)
	err2 := r.OnRefWrite(entity(2, 1), sourceType, "target", ecscore.Nil, target)
	err3 := r.OnRefWrite(entity(3, 1), sourceType, "target", ecscore.Nil, target)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	require.Error(t, err3, "expected the third write this frame to exceed the cap of 2")
	assert.True(t, ecscore.Is(err3, ecscore.CodeRefJournalFull))
	assert.False(t, containsEntity(r.AllReferrers(target), entity(3, 1)), "a rejected write must not touch the buckets")

	// Act: ResetFrame clears the counter for the next frame.
	r.ResetFrame()
	err4 := r.OnRefWrite(entity(3, 1), sourceType, "target", ecscore.Nil, target)

	// Assert
	assert.NoError(t, err4, "expected the cap to lift again after ResetFrame")
}

func Test_RefIndex_ResurrectRestoresLiveTarget(t *testing.T) {
	// Arrange
	r := New()
	source := entity(1, 1)
	target := entity(2, 1)
	const sourceType ecscore.TypeID = 7
	currentGen := func(idx uint32) uint32 { return 1 }

	// Act
	err := r.Resurrect(source, sourceType, "target", target, currentGen)

	// Assert
	assert.NoError(t, err)
	assert.True(t, containsEntity(r.AllReferrers(target), source), "expected the referrer to be restored")
}
