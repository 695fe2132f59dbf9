package ecs

import (
	"sync"

	"ecsframe/internal/ecs/bitset"
	"ecsframe/internal/ecs/ecscore"
	"ecsframe/internal/ecs/pool"
	"ecsframe/internal/ecs/query"
	"ecsframe/internal/ecs/refindex"
	"ecsframe/internal/ecs/store"
)

// limboWindowFrames is how many frames a deleted entity or removed
// component keeps its row addressable (for staleness-enabled reads)
// before Registry actually frees it. spec.md leaves the exact window
// length to the implementation; one frame is the smallest window that
// still lets a staleness-enabled read observe "the value as of just
// before deletion" from a system scheduled after the deleting system in
// the same frame, which is the scenario the Open Question in DESIGN.md
// is grounded on.
const limboWindowFrames = 1

// Registry owns entity generational identity, every component Store,
// the back-reference index, and the query engine's membership streams.
// Grounded on the teacher's entity_manager.go lifecycle bookkeeping, with
// a shape journal modeled on the teacher's event_bus.go history ring
// (absorbed here rather than kept as a separate subsystem) and limbo
// windows that entity_manager.go didn't have at all.
type Registry struct {
	mu sync.RWMutex

	types *ecscore.TypeRegistry
	cfg   WorldConfig

	entityPool  *pool.Pool
	generations []uint32
	presence    []*bitset.Set

	stores map[ecscore.TypeID]*store.Store
	refs   *refindex.RefIndex
	query  *query.Engine

	frame uint64

	shapeJournal []ecscore.ShapeEvent

	// pendingShape/pendingWrites queue this frame's membership/write events
	// for the query engine, deduplicated by entity (and by entity+type for
	// writes). BeginFrame flushes the *previous* frame's queue into the
	// query engine's streams before clearing these for the new frame, so a
	// query only observes a shape change or a write once the frame after it
	// happened — matching the one-frame-delayed visibility the executor's
	// begin/run/advance loop is built around.
	pendingShape  map[uint32]ecscore.Entity
	pendingWrites map[writeKey]ecscore.Entity

	componentFinalize []pendingComponentFinalize
	entityFinalize    []pendingEntityFinalize

	unhealthy    bool
	unhealthyErr error
}

type pendingComponentFinalize struct {
	entity  ecscore.Entity
	typ     ecscore.TypeID
	dueFrame uint64
}

type pendingEntityFinalize struct {
	entity   ecscore.Entity
	dueFrame uint64
}

type writeKey struct {
	idx uint32
	typ ecscore.TypeID
}

// NewRegistry registers every component def in cfg and returns a Registry
// ready for entity/component operations. The type registry is sealed
// immediately after registration, matching the non-goal of dynamic
// component-type registration after world construction.
func NewRegistry(cfg WorldConfig) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	types := ecscore.NewTypeRegistry()
	r := &Registry{
		types:         types,
		cfg:           cfg,
		entityPool:    pool.New(cfg.MaxEntities),
		generations:   make([]uint32, cfg.MaxEntities+1),
		presence:      make([]*bitset.Set, cfg.MaxEntities+1),
		stores:        make(map[ecscore.TypeID]*store.Store),
		refs:          refindex.NewWithLimit(cfg.MaxRefChangesPerFrame),
		query:         query.New(),
		pendingShape:  make(map[uint32]ecscore.Entity),
		pendingWrites: make(map[writeKey]ecscore.Entity),
	}
	for _, d := range cfg.Defs {
		ct, err := types.Register(d.Name, d.Storage, d.Fields)
		if err != nil {
			return nil, err
		}
		r.stores[ct.ID] = store.New(ct)
	}
	types.Seal()

	// Invariant factories run only once every type is registered, so a
	// factory declared on one type can resolve another's TypeID by name
	// regardless of registration order.
	for _, d := range cfg.Defs {
		if len(d.Invariants) == 0 {
			continue
		}
		ct, _ := types.Lookup(d.Name)
		for _, factory := range d.Invariants {
			ct.Invariants = append(ct.Invariants, factory(types))
		}
	}
	return r, nil
}

// Types returns the sealed type registry, e.g. for host code resolving a
// component name to its TypeID once at startup.
func (r *Registry) Types() *ecscore.TypeRegistry { return r.types }

// Queries returns the query engine for compiling declarations before
// execution starts. Once the world is executing frames, use the
// QueryCurrent/QueryAdded/... accessors below instead of reading through
// this reference directly: the engine's own maps aren't safe for
// concurrent reads against Registry's Add/Remove/Write calls, which can
// come from other lanes mid-frame.
func (r *Registry) Queries() *query.Engine { return r.query }

// QueryCurrent returns a query's steady-state membership.
func (r *Registry) QueryCurrent(id int) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query.Current(id)
}

// QueryAdded returns entities that newly matched a query this frame.
func (r *Registry) QueryAdded(id int) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query.Added(id)
}

// QueryRemoved returns entities that stopped matching a query this frame.
func (r *Registry) QueryRemoved(id int) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query.Removed(id)
}

// QueryChanged returns member entities with a tracked-field write this
// frame.
func (r *Registry) QueryChanged(id int) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query.Changed(id)
}

// QueryAddedOrChanged returns the union of QueryAdded and QueryChanged.
func (r *Registry) QueryAddedOrChanged(id int) []ecscore.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query.AddedOrChanged(id)
}

// RefIndex returns the back-reference index, for host code implementing
// backref-field reads.
func (r *Registry) RefIndex() *refindex.RefIndex { return r.refs }

// Frame returns the current frame counter.
func (r *Registry) Frame() uint64 { return r.frame }

// MarkUnhealthy latches a propagated system error; once set it is
// sticky for the World's lifetime (spec.md's "world unhealthy" state).
func (r *Registry) MarkUnhealthy(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.unhealthy {
		r.unhealthy = true
		r.unhealthyErr = err
	}
}

// Unhealthy reports whether the world has latched a fatal error.
func (r *Registry) Unhealthy() (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unhealthy, r.unhealthyErr
}

// Create allocates a fresh entity: a pooled index and its next (odd,
// alive) generation.
func (r *Registry) Create() (ecscore.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.entityPool.Take()
	if !ok {
		return ecscore.Nil, ecscore.NewCapacityError(ecscore.CodeCapacityExceeded, "entity capacity exhausted")
	}
	r.generations[idx]++
	e := ecscore.Entity{Index: idx, Generation: r.generations[idx]}
	r.presence[idx] = bitset.New(uint(len(r.types.All())) + 1)
	return e, nil
}

// Validate reports whether e still refers to a live entity: its index's
// current generation matches e.Generation and is odd (alive).
func (r *Registry) Validate(e ecscore.Entity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateLocked(e)
}

func (r *Registry) validateLocked(e ecscore.Entity) bool {
	if e.IsNil() || int(e.Index) >= len(r.generations) {
		return false
	}
	return r.generations[e.Index] == e.Generation && e.IsAlive()
}

// GenerationOf returns the live generation currently assigned to idx,
// used by refindex.Resurrect to detect a recycled slot.
func (r *Registry) GenerationOf(idx uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.generations) {
		return 0
	}
	return r.generations[idx]
}

// recordShape journals a shape change and queues it for the query engine.
// The query engine itself isn't touched here: BeginFrame flushes this
// frame's queued entities into query membership at the start of the next
// frame, so queries only observe the change one frame after it happened.
func (r *Registry) recordShape(e ecscore.Entity, typ ecscore.TypeID, op ecscore.ShapeOp) error {
	if len(r.shapeJournal) >= r.cfg.MaxShapeChangesPerFrame {
		return ecscore.NewCapacityError(ecscore.CodeShapeJournalFull, "shape journal exceeded maxShapeChangesPerFrame")
	}
	r.shapeJournal = append(r.shapeJournal, ecscore.ShapeEvent{Entity: e, Type: typ, Op: op, Frame: r.frame})
	r.pendingShape[e.Index] = e
	return nil
}

// Add attaches component typeName to e, allocating or resurrecting its
// row. patch may be nil to accept the zero value (or the resurrected
// value, if the row was still in its limbo window).
func (r *Registry) Add(e ecscore.Entity, typeName string, patch func(*store.RowView) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validateLocked(e) {
		return ecscore.NewShapeViolationError(e, "cannot add a component to a dead entity")
	}
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return ecscore.NewConfigurationError(ecscore.CodeUnknownField, "unknown component type "+typeName)
	}
	st := r.stores[ct.ID]
	if _, err := st.Add(e.Index, patch); err != nil {
		return err
	}
	r.presence[e.Index].Set(uint(ct.ID))
	if err := r.recordShape(e, ct.ID, ecscore.OpAdd); err != nil {
		return err
	}
	return r.checkInvariantsLocked(e)
}

// Remove detaches component typeName from e. The row stays addressable
// (for staleness-enabled reads) until its limbo window elapses.
func (r *Registry) Remove(e ecscore.Entity, typeName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validateLocked(e) {
		return ecscore.NewShapeViolationError(e, "cannot remove a component from a dead entity")
	}
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return ecscore.NewConfigurationError(ecscore.CodeUnknownField, "unknown component type "+typeName)
	}
	if len(r.componentFinalize) >= r.cfg.MaxLimboComponents {
		return ecscore.NewCapacityError(ecscore.CodeLimboPoolExhausted,
			"component limbo pool exhausted: MaxLimboComponents reached before this frame's removals finalized")
	}
	st := r.stores[ct.ID]
	if err := st.Remove(e.Index); err != nil {
		return err
	}
	r.presence[e.Index].Clear(uint(ct.ID))
	r.componentFinalize = append(r.componentFinalize, pendingComponentFinalize{entity: e, typ: ct.ID, dueFrame: r.frame + limboWindowFrames})
	if err := r.recordShape(e, ct.ID, ecscore.OpRemove); err != nil {
		return err
	}
	return r.checkInvariantsLocked(e)
}

// checkInvariantsLocked evaluates every currently-present component
// type's declared invariants against e's presence bitset, raising
// InvalidShape (spec.md's "shape violation" error kind) at the first
// failure found. The mutation that triggered the check already stands;
// this only reports the violation back to the caller.
func (r *Registry) checkInvariantsLocked(e ecscore.Entity) error {
	presence := r.presence[e.Index]
	for _, ct := range r.types.All() {
		if !presence.Has(uint(ct.ID)) {
			continue
		}
		for _, inv := range ct.Invariants {
			if !inv.Check(presence) {
				return ecscore.NewShapeViolationError(e, "invariant "+inv.Name+" failed for component "+ct.Name)
			}
		}
	}
	return nil
}

// Has reports whether e currently carries typeName (not pending removal).
func (r *Registry) Has(e ecscore.Entity, typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return false
	}
	return r.stores[ct.ID].Has(e.Index)
}

// HasType reports whether e carries component typ, by TypeID rather than
// name — used by package coroutine's CancelIfComponentMissing trigger,
// which only ever holds a TypeID.
func (r *Registry) HasType(e ecscore.Entity, typ ecscore.TypeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[typ]
	if !ok {
		return false
	}
	return st.Has(e.Index)
}

// Read returns a read-only RowView for e's typeName component.
func (r *Registry) Read(e ecscore.Entity, typeName string, allowStale bool) (*store.RowView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return nil, ecscore.NewConfigurationError(ecscore.CodeUnknownField, "unknown component type "+typeName)
	}
	if int(e.Index) >= len(r.generations) || (r.generations[e.Index] != e.Generation && r.generations[e.Index] != e.Generation+1) {
		return nil, ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "entity index was recycled for a newer entity").WithEntity(e)
	}
	return r.stores[ct.ID].Read(e.Index, allowStale)
}

// Write returns a writable RowView for e's typeName component, queuing
// the write for the query engine's changed/addedOrChanged streams — like
// recordShape, this surfaces on the next frame's BeginFrame flush rather
// than immediately.
func (r *Registry) Write(e ecscore.Entity, typeName string) (*store.RowView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return nil, ecscore.NewConfigurationError(ecscore.CodeUnknownField, "unknown component type "+typeName)
	}
	v, err := r.stores[ct.ID].Write(e.Index)
	if err != nil {
		return nil, err
	}
	r.pendingWrites[writeKey{idx: e.Index, typ: ct.ID}] = e
	return v, nil
}

// SetRef writes a ref field through Write and maintains the back-
// reference index in lockstep, so the two can never drift.
func (r *Registry) SetRef(e ecscore.Entity, typeName, fieldName string, target ecscore.Entity) error {
	ct, ok := r.types.Lookup(typeName)
	if !ok {
		return ecscore.NewConfigurationError(ecscore.CodeUnknownField, "unknown component type "+typeName)
	}
	v, err := r.Write(e, typeName)
	if err != nil {
		return err
	}
	old, err := v.Ref(fieldName, true)
	if err != nil {
		return err
	}
	if err := v.SetRef(fieldName, target); err != nil {
		return err
	}
	return r.refs.OnRefWrite(e, ct.ID, fieldName, old, target)
}

// Delete removes every component from e, propagates deletion to anything
// holding a forward ref to e (invariant I2), and enqueues e itself for
// finalization once its limbo window elapses.
func (r *Registry) Delete(e ecscore.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validateLocked(e) {
		return ecscore.NewShapeViolationError(e, "cannot delete an already-dead entity")
	}
	if len(r.entityFinalize) >= r.cfg.MaxLimboEntities {
		return ecscore.NewCapacityError(ecscore.CodeLimboPoolExhausted,
			"entity limbo pool exhausted: MaxLimboEntities reached before prior deletions finalized")
	}

	present := make([]ecscore.TypeID, 0)
	for _, ct := range r.types.All() {
		if r.stores[ct.ID].Has(e.Index) {
			present = append(present, ct.ID)
		}
	}
	if len(r.componentFinalize)+len(present) > r.cfg.MaxLimboComponents {
		return ecscore.NewCapacityError(ecscore.CodeLimboPoolExhausted,
			"component limbo pool exhausted: deleting this entity would push MaxLimboComponents over its ceiling")
	}

	for _, typ := range present {
		st := r.stores[typ]
		_ = st.Remove(e.Index)
		r.presence[e.Index].Clear(uint(typ))
		r.componentFinalize = append(r.componentFinalize, pendingComponentFinalize{entity: e, typ: typ, dueFrame: r.frame + limboWindowFrames})
	}

	r.deferReferrerClearsLocked(e)

	if err := r.recordShape(e, ecscore.InvalidTypeID, ecscore.OpDelete); err != nil {
		return err
	}
	r.entityFinalize = append(r.entityFinalize, pendingEntityFinalize{entity: e, dueFrame: r.frame + limboWindowFrames})
	r.generations[e.Index]++ // flip to even: no longer alive
	return nil
}

// deferReferrerClearsLocked flags every forward ref pointing at e for a
// deferred clear, satisfying invariant I2 without destroying the value a
// stale-enabled read needs to still observe until e's own limbo window
// elapses (mirroring how component removal defers its own clear to
// finalizeComponentLocked rather than mutating the row synchronously).
// The back-reference index is left untouched here too: it's what lets
// finalizeReferrerClearsLocked find these same referrers again once the
// window elapses.
func (r *Registry) deferReferrerClearsLocked(e ecscore.Entity) {
	for _, referrer := range r.refs.AllReferrers(e) {
		for _, ct := range r.types.All() {
			st := r.stores[ct.ID]
			if !st.HasIncludingLimbo(referrer.Index) {
				continue
			}
			for _, f := range ct.Fields {
				if f.Kind != ecscore.FieldRef {
					continue
				}
				v, err := st.Read(referrer.Index, true)
				if err != nil {
					continue
				}
				cur, _ := v.Ref(f.Name, true)
				if cur.Same(e) {
					_ = st.MarkRefPendingClear(referrer.Index, f.Name)
				}
			}
		}
	}
}

// finalizeReferrerClearsLocked actually zeroes every forward ref pointing
// at entity once its limbo window elapses, dropping the referrer from
// entity's back-reference buckets in lockstep so the two can never drift.
func (r *Registry) finalizeReferrerClearsLocked(entity ecscore.Entity) {
	for _, referrer := range r.refs.AllReferrers(entity) {
		for _, ct := range r.types.All() {
			st := r.stores[ct.ID]
			for _, f := range ct.Fields {
				if f.Kind != ecscore.FieldRef {
					continue
				}
				if old := st.FinalizeRefClear(referrer.Index, f.Name); !old.IsNil() {
					r.refs.OnReferentFinalized(referrer, ct.ID, f.Name, old)
				}
			}
		}
	}
}

// BeginFrame clears the per-frame shape journal, then flushes the
// *previous* frame's queued shape/write events into the query engine's
// streams before clearing them for the new frame. Called once by
// Executor before running systems.
func (r *Registry) BeginFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapeJournal = r.shapeJournal[:0]
	r.refs.ResetFrame()

	r.query.BeginFrame()
	for idx, e := range r.pendingShape {
		wasMember := r.query.MembershipSnapshot(idx)
		r.query.ObserveShapeChange(e, r.presence[idx], wasMember)
	}
	for key, e := range r.pendingWrites {
		r.query.ObserveWrite(e, key.typ)
	}

	r.pendingShape = make(map[uint32]ecscore.Entity)
	r.pendingWrites = make(map[writeKey]ecscore.Entity)
}

// AdvanceLimbo finalizes every component removal and entity deletion
// whose limbo window has elapsed as of the current frame, then advances
// the frame counter. Called once by Executor at the end of a frame.
func (r *Registry) AdvanceLimbo() {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.componentFinalize[:0]
	for _, p := range r.componentFinalize {
		if p.dueFrame <= r.frame {
			r.finalizeComponentLocked(p)
		} else {
			kept = append(kept, p)
		}
	}
	r.componentFinalize = kept

	keptE := r.entityFinalize[:0]
	for _, p := range r.entityFinalize {
		if p.dueFrame <= r.frame {
			r.finalizeReferrerClearsLocked(p.entity)
			r.entityPool.Return(p.entity.Index)
			r.presence[p.entity.Index] = nil
		} else {
			keptE = append(keptE, p)
		}
	}
	r.entityFinalize = keptE

	r.frame++
}

// finalizeComponentLocked actually frees one component row once its
// limbo window elapses. If the row carries ref fields, their current
// targets are read before the store clears them so the referrer can be
// dropped from those targets' back-reference buckets — a no-op if the
// row was resurrected (Add'd again) before this ran, since Store.Finalize
// itself no-ops once a row is no longer pending removal.
func (r *Registry) finalizeComponentLocked(p pendingComponentFinalize) {
	st := r.stores[p.typ]
	if !st.IsLimbo(p.entity.Index) {
		return
	}
	ct := r.types.Get(p.typ)
	var refFields []ecscore.FieldDef
	for _, f := range ct.Fields {
		if f.Kind == ecscore.FieldRef {
			refFields = append(refFields, f)
		}
	}
	var targets []ecscore.Entity
	if len(refFields) > 0 {
		if v, err := st.Read(p.entity.Index, true); err == nil {
			for _, f := range refFields {
				t, _ := v.Ref(f.Name, true)
				targets = append(targets, t)
			}
		}
	}
	st.Finalize(p.entity.Index)
	for i, f := range refFields {
		if !targets[i].IsNil() {
			r.refs.OnReferentFinalized(p.entity, p.typ, f.Name, targets[i])
		}
	}
}
