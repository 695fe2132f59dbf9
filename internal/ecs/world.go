// Package ecs assembles the entity/component/query/planner/coroutine
// layers into one embeddable world: World.Create builds a Registry and
// Executor from a WorldConfig, World.Execute steps one frame, and Handle
// gives host code an ergonomic per-entity accessor surface. Grounded on
// the teacher's world.go/game.go NewGame/Run shape and entity_manager.go
// handle-style accessors.
package ecs

import (
	"github.com/sirupsen/logrus"

	"ecsframe/internal/ecs/coroutine"
	"ecsframe/internal/ecs/ecscore"
	"ecsframe/internal/ecs/planner"
	"ecsframe/internal/ecs/store"
)

// World is the embeddable ECS runtime: a sealed type registry, a
// Registry holding every entity/component/ref/query state, and an
// Executor holding the resolved system schedule.
type World struct {
	registry *Registry
	executor *Executor
	log      *logrus.Logger
}

// SystemEntry pairs a planner.System's scheduling metadata with the
// function that implements it.
type SystemEntry struct {
	planner.System
	Fn SystemFunc
}

// Create registers every component def in cfg, then calls buildSystems
// with the resulting Registry (already sealed, so component TypeIDs and
// compiled query ids are available) to obtain the system list, resolves
// that list into a schedule, and returns a ready-to-run World.
func Create(cfg WorldConfig, buildSystems func(*Registry) []SystemEntry, log *logrus.Logger) (*World, error) {
	if log == nil {
		log = logrus.New()
	}
	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	var systems []SystemEntry
	if buildSystems != nil {
		systems = buildSystems(reg)
	}
	exec, err := NewExecutor(reg, log, systems)
	if err != nil {
		return nil, err
	}
	return &World{registry: reg, executor: exec, log: log}, nil
}

// Registry exposes the underlying Registry for advanced host code (query
// compilation, direct store access).
func (w *World) Registry() *Registry { return w.registry }

// Execute steps one frame: every system in schedule order (each
// immediately followed by its own coroutines), then any unassociated
// coroutines, then the limbo window.
func (w *World) Execute(dt float64) error {
	return w.executor.RunFrame(dt)
}

// Spawn registers a coroutine owned by systemName, stepped right after
// that system executes each frame. Pass "" for a coroutine spawned
// outside any system's body; it steps in a final pass once every system
// has run for the frame.
func (w *World) Spawn(systemName string, fn coroutine.Fn) *coroutine.Task {
	return w.executor.Spawn(systemName, fn)
}

// Build runs fn once, typically at startup, to create an initial set of
// entities and components outside the regular frame loop (the call site
// is itself a single-borrow scope: it's wrong to hold a Handle or
// RowView across a later unrelated Build/Execute call).
func (w *World) Build(fn func(*World) error) error {
	return fn(w)
}

// CreateEntity allocates a new entity and returns a Handle onto it.
func (w *World) CreateEntity() (Handle, error) {
	e, err := w.registry.Create()
	if err != nil {
		return Handle{}, err
	}
	return Handle{world: w, entity: e}, nil
}

// Handle returns an accessor for an already-known entity (e.g. one
// produced by a query stream).
func (w *World) Handle(e ecscore.Entity) Handle {
	return Handle{world: w, entity: e}
}

// Handle is the ergonomic per-entity accessor surface: read/write/add/
// remove/has, backed by Registry underneath.
type Handle struct {
	world  *World
	entity ecscore.Entity
}

// Entity returns the underlying generational entity id.
func (h Handle) Entity() ecscore.Entity { return h.entity }

// IsSame reports whether h and other refer to the identical (index,
// generation) entity.
func (h Handle) IsSame(other Handle) bool { return h.entity.Same(other.entity) }

// Hold returns a copy of h that remains valid to compare/pass around
// after the entity may have been deleted (IsSame and Entity still work;
// reads will fail once the entity leaves limbo).
func (h Handle) Hold() Handle { return h }

// Add attaches typeName to h's entity.
func (h Handle) Add(typeName string, patch func(*store.RowView) error) error {
	return h.world.registry.Add(h.entity, typeName, patch)
}

// Remove detaches typeName from h's entity.
func (h Handle) Remove(typeName string) error {
	return h.world.registry.Remove(h.entity, typeName)
}

// Has reports whether h's entity currently carries typeName.
func (h Handle) Has(typeName string) bool {
	return h.world.registry.Has(h.entity, typeName)
}

// HasAllOf reports whether h's entity carries every named type.
func (h Handle) HasAllOf(typeNames ...string) bool {
	for _, n := range typeNames {
		if !h.Has(n) {
			return false
		}
	}
	return true
}

// HasSomeOf reports whether h's entity carries at least one named type.
func (h Handle) HasSomeOf(typeNames ...string) bool {
	for _, n := range typeNames {
		if h.Has(n) {
			return true
		}
	}
	return false
}

// HasAnyOtherThan reports whether h's entity carries any component type
// not named in typeNames.
func (h Handle) HasAnyOtherThan(typeNames ...string) bool {
	excluded := make(map[string]bool, len(typeNames))
	for _, n := range typeNames {
		excluded[n] = true
	}
	for _, ct := range h.world.registry.Types().All() {
		if excluded[ct.Name] {
			continue
		}
		if h.world.registry.Has(h.entity, ct.Name) {
			return true
		}
	}
	return false
}

// CountHas returns how many of typeNames h's entity currently carries.
func (h Handle) CountHas(typeNames ...string) int {
	n := 0
	for _, name := range typeNames {
		if h.Has(name) {
			n++
		}
	}
	return n
}

// Read returns a read-only RowView for typeName. allowStale permits
// reading through a component pending removal this frame.
func (h Handle) Read(typeName string, allowStale bool) (*store.RowView, error) {
	return h.world.registry.Read(h.entity, typeName, allowStale)
}

// Write returns a writable RowView for typeName.
func (h Handle) Write(typeName string) (*store.RowView, error) {
	return h.world.registry.Write(h.entity, typeName)
}

// SetRef writes a ref field and maintains the back-reference index.
func (h Handle) SetRef(typeName, fieldName string, target ecscore.Entity) error {
	return h.world.registry.SetRef(h.entity, typeName, fieldName, target)
}

// Delete removes every component from h's entity and schedules the
// entity index itself for reuse once its limbo window elapses.
func (h Handle) Delete() error {
	return h.world.registry.Delete(h.entity)
}

// IsAlive reports whether h's entity is still valid.
func (h Handle) IsAlive() bool {
	return h.world.registry.Validate(h.entity)
}
