// Package query implements the compiled query declarations and
// double-buffered result streams spec.md §5 calls for: a presence-bitset
// filter (with/without), change-tracking streams (added/removed/changed/
// addedOrChanged plus the steady-state current set), and named-ref joins.
//
// Grounded on the teacher's query/builder.go fluent With/Without/WithAny
// surface, trimmed of its spatial/temporal/hierarchy query surface (out of
// core-engine scope) and given real streams where the teacher's own
// Execute() was a stub returning nil.
package query

import (
	"sort"

	"ecsframe/internal/ecs/bitset"
	"ecsframe/internal/ecs/ecscore"
)

// Join names a ref field to traverse from a matched entity. The Engine
// stores joins on the Declaration but does not resolve them; ResolveJoin
// follows one for a caller-supplied list of entities.
type Join struct {
	Name      string
	FieldName string
	With      []ecscore.TypeID
	Without   []ecscore.TypeID
}

// Declaration is a compiled query: a with/without bitset filter, an
// optional subset of tracked-for-change types, and optional joins.
type Declaration struct {
	ID          int
	With        *bitset.Set
	Without     *bitset.Set
	TrackChange []ecscore.TypeID // types whose writes feed the changed/addedOrChanged streams
	Joins       []Join
}

// Matches reports whether an entity's component presence bitset satisfies
// this declaration's with/without filter (spec.md P3).
func (d *Declaration) Matches(presence *bitset.Set) bool {
	return presence.Satisfies(d.With, d.Without)
}

// Engine holds every compiled Declaration and the live membership +
// double-buffered change streams for each, advancing them once per frame
// from the shape/write journals Registry produces.
type Engine struct {
	decls map[int]*Declaration
	state map[int]*streamState
	next  int
}

type streamState struct {
	current        map[uint32]ecscore.Entity
	added          map[uint32]ecscore.Entity
	removed        map[uint32]ecscore.Entity
	changed        map[uint32]ecscore.Entity
	addedOrChanged map[uint32]ecscore.Entity
}

func newStreamState() *streamState {
	return &streamState{
		current:        make(map[uint32]ecscore.Entity),
		added:          make(map[uint32]ecscore.Entity),
		removed:        make(map[uint32]ecscore.Entity),
		changed:        make(map[uint32]ecscore.Entity),
		addedOrChanged: make(map[uint32]ecscore.Entity),
	}
}

// New creates an empty query engine.
func New() *Engine {
	return &Engine{decls: make(map[int]*Declaration), state: make(map[int]*streamState)}
}

// Compile registers a new declaration and returns its id.
func (e *Engine) Compile(with, without *bitset.Set, trackChange []ecscore.TypeID, joins []Join) int {
	id := e.next
	e.next++
	if with == nil {
		with = bitset.New(0)
	}
	e.decls[id] = &Declaration{ID: id, With: with, Without: without, TrackChange: trackChange, Joins: joins}
	e.state[id] = newStreamState()
	return id
}

// Declaration returns the compiled declaration for id, or nil.
func (e *Engine) Declaration(id int) *Declaration { return e.decls[id] }

// BeginFrame clears every declaration's added/removed/changed streams,
// retaining only `current`. Call once at the start of Executor's frame
// before replaying the frame's shape/write events.
func (e *Engine) BeginFrame() {
	for _, st := range e.state {
		st.added = make(map[uint32]ecscore.Entity)
		st.removed = make(map[uint32]ecscore.Entity)
		st.changed = make(map[uint32]ecscore.Entity)
		st.addedOrChanged = make(map[uint32]ecscore.Entity)
	}
}

// ObserveShapeChange re-evaluates every declaration's membership for
// entity given its presence bitset (after applying op), feeding the
// added/removed streams and refreshing `current`.
func (e *Engine) ObserveShapeChange(entity ecscore.Entity, presence *bitset.Set, wasMember map[int]bool) {
	for id, d := range e.decls {
		st := e.state[id]
		isMember := presence != nil && d.Matches(presence)
		was := wasMember[id]
		switch {
		case isMember && !was:
			st.current[entity.Index] = entity
			st.added[entity.Index] = entity
			st.addedOrChanged[entity.Index] = entity
		case !isMember && was:
			delete(st.current, entity.Index)
			st.removed[entity.Index] = entity
		case isMember && was:
			st.current[entity.Index] = entity // refresh generation/stale flag
		}
	}
}

// MembershipSnapshot reports, for every declaration, whether entity is
// currently a member — used by Registry to diff before/after a shape
// change before calling ObserveShapeChange.
func (e *Engine) MembershipSnapshot(entityIdx uint32) map[int]bool {
	out := make(map[int]bool, len(e.decls))
	for id, st := range e.state {
		_, ok := st.current[entityIdx]
		out[id] = ok
	}
	return out
}

// ObserveWrite feeds a tracked-field write into every declaration that
// tracks typ and currently counts entity as a member.
func (e *Engine) ObserveWrite(entity ecscore.Entity, typ ecscore.TypeID) {
	for id, d := range e.decls {
		if !tracks(d, typ) {
			continue
		}
		st := e.state[id]
		if _, member := st.current[entity.Index]; !member {
			continue
		}
		st.changed[entity.Index] = entity
		st.addedOrChanged[entity.Index] = entity
	}
}

func tracks(d *Declaration, typ ecscore.TypeID) bool {
	for _, t := range d.TrackChange {
		if t == typ {
			return true
		}
	}
	return false
}

func sortedEntities(m map[uint32]ecscore.Entity) []ecscore.Entity {
	idxs := make([]uint32, 0, len(m))
	for i := range m {
		idxs = append(idxs, i)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	out := make([]ecscore.Entity, len(idxs))
	for i, idx := range idxs {
		out[i] = m[idx]
	}
	return out
}

// Current returns the declaration's steady-state membership, ascending by
// entity index.
func (e *Engine) Current(id int) []ecscore.Entity { return sortedEntities(e.state[id].current) }

// Added returns entities that newly matched this frame.
func (e *Engine) Added(id int) []ecscore.Entity { return sortedEntities(e.state[id].added) }

// Removed returns entities that stopped matching this frame.
func (e *Engine) Removed(id int) []ecscore.Entity { return sortedEntities(e.state[id].removed) }

// Changed returns member entities with a tracked-field write this frame.
func (e *Engine) Changed(id int) []ecscore.Entity { return sortedEntities(e.state[id].changed) }

// AddedOrChanged returns the union of Added and Changed.
func (e *Engine) AddedOrChanged(id int) []ecscore.Entity {
	return sortedEntities(e.state[id].addedOrChanged)
}
