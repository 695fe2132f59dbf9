// Package refindex maintains inverted back-reference indexes over the
// forward `ref` fields tracked by package store. A `backrefs` field can
// resolve three ways (spec.md §3): precise (one source type's one named
// field), byType (every ref field of one source type), or global (every
// ref field anywhere) — so every forward-ref write is fanned out into all
// three granularities up front rather than aggregated at query time.
//
// Representation escalates per spec.md's component table entry for
// back-references: empty, a single Entity, a packed slice, and — past
// indexUpgradeThreshold referrers — a slice plus an index map for O(1)
// removal. No teacher file does inverted-index bookkeeping directly; the
// closest precedent is the teacher's HierarchyManager parent/child
// bookkeeping in entity.go, whose single-mutex-per-manager guarding style
// this package follows.
package refindex

import (
	"sync"

	"ecsframe/internal/ecs/ecscore"
)

const indexUpgradeThreshold = 100

type bucketKey struct {
	targetIdx  uint32
	sourceType ecscore.TypeID // 0 => any type (byType/global keys)
	fieldName  string         // "" => any field (byType/global keys)
}

func preciseKey(target ecscore.Entity, sourceType ecscore.TypeID, field string) bucketKey {
	return bucketKey{targetIdx: target.Index, sourceType: sourceType, fieldName: field}
}

func byTypeKey(target ecscore.Entity, sourceType ecscore.TypeID) bucketKey {
	return bucketKey{targetIdx: target.Index, sourceType: sourceType}
}

func globalKey(target ecscore.Entity) bucketKey {
	return bucketKey{targetIdx: target.Index}
}

// bucket is one back-reference set, with representation escalating from
// empty -> single -> packed -> packed+index as it grows.
type bucket struct {
	hasSingle bool
	single    ecscore.Entity
	packed    []ecscore.Entity
	index     map[uint32]int // entity index -> position in packed; nil below threshold
}

func (b *bucket) add(e ecscore.Entity) {
	if b.hasSingle && b.single.Same(e) {
		return
	}
	if !b.hasSingle && len(b.packed) == 0 {
		b.single = e
		b.hasSingle = true
		return
	}
	if b.hasSingle {
		b.packed = append(b.packed, b.single, e)
		b.hasSingle = false
		b.single = ecscore.Nil
		return
	}
	for _, r := range b.packed {
		if r.Same(e) {
			return
		}
	}
	b.packed = append(b.packed, e)
	if b.index != nil {
		b.index[e.Index] = len(b.packed) - 1
	} else if len(b.packed) > indexUpgradeThreshold {
		b.buildIndex()
	}
}

func (b *bucket) buildIndex() {
	b.index = make(map[uint32]int, len(b.packed))
	for i, e := range b.packed {
		b.index[e.Index] = i
	}
}

func (b *bucket) remove(e ecscore.Entity) {
	if b.hasSingle {
		if b.single.Same(e) {
			b.hasSingle = false
			b.single = ecscore.Nil
		}
		return
	}
	if b.index != nil {
		pos, ok := b.index[e.Index]
		if !ok {
			return
		}
		last := len(b.packed) - 1
		b.packed[pos] = b.packed[last]
		b.index[b.packed[pos].Index] = pos
		delete(b.index, e.Index)
		b.packed = b.packed[:last]
		return
	}
	for i, r := range b.packed {
		if r.Same(e) {
			last := len(b.packed) - 1
			b.packed[i] = b.packed[last]
			b.packed = b.packed[:last]
			return
		}
	}
}

func (b *bucket) empty() bool {
	return b == nil || (!b.hasSingle && len(b.packed) == 0)
}

func (b *bucket) entries() []ecscore.Entity {
	if b == nil {
		return nil
	}
	if b.hasSingle {
		return []ecscore.Entity{b.single}
	}
	out := make([]ecscore.Entity, len(b.packed))
	copy(out, b.packed)
	return out
}

// RefIndex is the back-reference inverted index for a whole world: one
// set of three buckets (precise, byType, global) per target entity per
// referencing (sourceType, field) combination actually seen.
type RefIndex struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*bucket

	// maxPerFrame caps OnRefWrite calls between ResetFrame calls, guarding
	// against an unbounded ref-change ring within a single frame. Zero (or
	// negative) disables the cap.
	maxPerFrame  int
	frameChanges int
}

// New creates an empty RefIndex with no per-frame ref-change cap.
func New() *RefIndex {
	return &RefIndex{buckets: make(map[bucketKey]*bucket)}
}

// NewWithLimit creates an empty RefIndex that raises CodeRefJournalFull
// from OnRefWrite once more than maxPerFrame ref changes are observed
// since the last ResetFrame. A non-positive maxPerFrame disables the cap.
func NewWithLimit(maxPerFrame int) *RefIndex {
	return &RefIndex{buckets: make(map[bucketKey]*bucket), maxPerFrame: maxPerFrame}
}

// ResetFrame clears the per-frame ref-change counter. Registry calls this
// once per frame, in lockstep with the query engine's own per-frame reset.
func (r *RefIndex) ResetFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameChanges = 0
}

func (r *RefIndex) bucketFor(k bucketKey) *bucket {
	b, ok := r.buckets[k]
	if !ok {
		b = &bucket{}
		r.buckets[k] = b
	}
	return b
}

func (r *RefIndex) detachIfEmpty(k bucketKey) {
	if b, ok := r.buckets[k]; ok && b.empty() {
		delete(r.buckets, k)
	}
}

// OnRefWrite updates the index for one forward-ref field write: source
// (of sourceType, in field) moved from oldTarget to newTarget, either of
// which may be ecscore.Nil. Safe to call with oldTarget == newTarget (a
// no-op write still observed by the caller). Returns a CodeRefJournalFull
// capacity error, without touching the buckets, once the per-frame
// ref-change cap configured via NewWithLimit is exceeded.
func (r *RefIndex) OnRefWrite(source ecscore.Entity, sourceType ecscore.TypeID, field string, oldTarget, newTarget ecscore.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldTarget.Same(newTarget) {
		return nil
	}
	if r.maxPerFrame > 0 && r.frameChanges >= r.maxPerFrame {
		return ecscore.NewCapacityError(ecscore.CodeRefJournalFull,
			"ref-change ring exhausted: MaxRefChangesPerFrame reached for this frame")
	}
	r.frameChanges++

	if !oldTarget.IsNil() {
		pk, tk, gk := preciseKey(oldTarget, sourceType, field), byTypeKey(oldTarget, sourceType), globalKey(oldTarget)
		r.bucketFor(pk).remove(source)
		r.bucketFor(tk).remove(source)
		r.bucketFor(gk).remove(source)
		r.detachIfEmpty(pk)
		r.detachIfEmpty(tk)
		r.detachIfEmpty(gk)
	}
	if !newTarget.IsNil() {
		r.bucketFor(preciseKey(newTarget, sourceType, field)).add(source)
		r.bucketFor(byTypeKey(newTarget, sourceType)).add(source)
		r.bucketFor(globalKey(newTarget)).add(source)
	}
	return nil
}

// OnReferentFinalized drops source from every bucket keyed on target once
// the referencing component row itself is finalized-removed (the ref
// field no longer exists to resolve), or once a ref pointing at a deleted
// entity is cleared. Registry calls this from finalizeComponentLocked
// (after Store.Finalize) and from finalizeReferrerClearsLocked. Finalization
// cleanup is exempt from the per-frame ref-change cap: it unwinds state a
// prior write already accounted for, not new churn.
func (r *RefIndex) OnReferentFinalized(source ecscore.Entity, sourceType ecscore.TypeID, field string, target ecscore.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pk, tk, gk := preciseKey(target, sourceType, field), byTypeKey(target, sourceType), globalKey(target)
	r.bucketFor(pk).remove(source)
	r.bucketFor(tk).remove(source)
	r.bucketFor(gk).remove(source)
	r.detachIfEmpty(pk)
	r.detachIfEmpty(tk)
	r.detachIfEmpty(gk)
}

// ReferrersOf returns referrers under the precise (sourceType, field)
// granularity.
func (r *RefIndex) ReferrersOf(target ecscore.Entity, sourceType ecscore.TypeID, field string) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets[preciseKey(target, sourceType, field)].entries()
}

// ReferrersOfType returns referrers under the byType granularity.
func (r *RefIndex) ReferrersOfType(target ecscore.Entity, sourceType ecscore.TypeID) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets[byTypeKey(target, sourceType)].entries()
}

// AllReferrers returns referrers under the global granularity.
func (r *RefIndex) AllReferrers(target ecscore.Entity) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets[globalKey(target)].entries()
}

// Resurrect restores source as a referrer of target after a component
// resurrection carried a forward ref through its own limbo window. The
// Open Question this resolves: a resurrected ref field may point at a
// target that was itself deleted and had its index recycled during the
// same window. currentGeneration reports the live generation for an
// entity index (e.g. Registry.GenerationOf); Resurrect compares it
// against target's stored generation and refuses to restore a reference
// to a since-recycled slot, consistent with invariant I2 being checked at
// read time rather than at write time.
func (r *RefIndex) Resurrect(source ecscore.Entity, sourceType ecscore.TypeID, field string, target ecscore.Entity, currentGeneration func(idx uint32) uint32) error {
	if target.IsNil() {
		return nil
	}
	if currentGeneration(target.Index) != target.Generation {
		return ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "ref target was recycled during the source's own limbo window").WithEntity(target)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucketFor(preciseKey(target, sourceType, field)).add(source)
	r.bucketFor(byTypeKey(target, sourceType)).add(source)
	r.bucketFor(globalKey(target)).add(source)
	return nil
}
