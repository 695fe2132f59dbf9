package ecs

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ecsframe/internal/ecs/coroutine"
	"ecsframe/internal/ecs/ecscore"
	"ecsframe/internal/ecs/planner"
)

// SystemFunc is one system's per-frame body.
type SystemFunc func(ctx *Context) error

// Context is what a running system sees: the registry, the current frame
// number, and the elapsed time since the previous frame.
type Context struct {
	Registry  *Registry
	Frame     uint64
	DeltaTime float64
}

type registeredSystem struct {
	planner.System
	fn SystemFunc
}

// Executor runs the per-frame loop: flush the previous frame's shape
// journal into query membership (via Registry.BeginFrame), run every
// system in planned lane/topological order - stepping each system's own
// coroutines immediately after that system's execute call, so a
// coroutine spawned by a system sees its owning system's writes land
// before it resumes in the same frame - then step any coroutines not
// associated with a system, advance the limbo window, and latch the
// world unhealthy on a propagated system error. Grounded on the
// teacher's system_manager.go execution-order walk and world.go
// frame-loop shape, newly wired to golang.org/x/sync/errgroup for lane
// parallelism (the teacher ran every system on one goroutine).
type Executor struct {
	reg     *Registry
	log     *logrus.Entry
	systems []registeredSystem
	plan    *planner.Plan
	lanes   map[int][]int // lane -> system indices, preserving the plan's topological order

	coroMu       sync.Mutex
	coroutinesOf map[string][]*coroutine.Task // system name -> its coroutines; "" is the unassociated bucket
}

// NewExecutor resolves systems into a schedule via package planner. Each
// entry's planner.System.Name must be unique.
func NewExecutor(reg *Registry, log *logrus.Logger, systems []SystemEntry) (*Executor, error) {
	if log == nil {
		log = logrus.New()
	}
	pSystems := make([]planner.System, len(systems))
	for i, s := range systems {
		pSystems[i] = s.System
	}
	plan, cycles, err := planner.Build(pSystems)
	if err != nil {
		log.WithField("cycles", cycles).WithError(err).Error("system schedule rejected")
		return nil, err
	}

	byName := make(map[string]int, len(systems))
	for i, s := range systems {
		byName[s.System.Name] = i
	}

	e := &Executor{
		reg:          reg,
		log:          log.WithField("component", "executor"),
		systems:      make([]registeredSystem, len(systems)),
		plan:         plan,
		lanes:        make(map[int][]int),
		coroutinesOf: make(map[string][]*coroutine.Task),
	}
	for i, s := range systems {
		e.systems[i] = registeredSystem{System: s.System, fn: s.Fn}
	}
	for _, name := range plan.Order {
		idx := byName[name]
		lane := plan.Lane[name]
		// WorldConfig.Lanes caps the lane count: 1 or less runs every system
		// on lane 0; otherwise lanes past the cap fold onto lanes 1..Lanes-1.
		if n := reg.cfg.Lanes; n <= 1 {
			lane = 0
		} else if lane >= n {
			lane = 1 + (lane-1)%(n-1)
		}
		e.lanes[lane] = append(e.lanes[lane], idx)
	}
	return e, nil
}

// Spawn registers a coroutine owned by systemName, stepped once per frame
// immediately after that system's own execute call. systemName may be
// "" for a coroutine spawned outside any system's body (e.g. directly on
// World); those step in a final pass once every lane has finished.
func (e *Executor) Spawn(systemName string, fn coroutine.Fn) *coroutine.Task {
	t := coroutine.New(fn)
	e.coroMu.Lock()
	e.coroutinesOf[systemName] = append(e.coroutinesOf[systemName], t)
	e.coroMu.Unlock()
	return t
}

// stepCoroutines steps every still-running coroutine owned by systemName
// and prunes the ones that finished this step.
func (e *Executor) stepCoroutines(systemName string, dt float64, alive func(ecscore.Entity) bool, hasComponent func(ecscore.Entity, ecscore.TypeID) bool) {
	e.coroMu.Lock()
	tasks := e.coroutinesOf[systemName]
	e.coroMu.Unlock()
	if len(tasks) == 0 {
		return
	}

	live := tasks[:0]
	for _, t := range tasks {
		if t.Status() == coroutine.StatusRunning {
			t.Step(dt, alive, hasComponent)
		}
		if t.Status() == coroutine.StatusRunning {
			live = append(live, t)
		}
	}

	e.coroMu.Lock()
	e.coroutinesOf[systemName] = live
	e.coroMu.Unlock()
}

// RunFrame executes one frame: begin, run every lane concurrently (each
// lane internally sequential, respecting the planner's topological
// order), stepping each system's coroutines right after that system
// executes, then step any unassociated coroutines, then advance the
// limbo window. If any system returns an error, that error propagates
// out of RunFrame and the world is latched unhealthy; later frames
// should not be run.
func (e *Executor) RunFrame(dt float64) error {
	if unhealthy, cause := e.reg.Unhealthy(); unhealthy {
		return ecscore.NewInternalError("world is unhealthy from a previous frame", cause)
	}

	e.reg.BeginFrame()
	frame := e.reg.Frame()

	laneIDs := make([]int, 0, len(e.lanes))
	for l := range e.lanes {
		laneIDs = append(laneIDs, l)
	}
	sort.Ints(laneIDs)

	alive := func(ent ecscore.Entity) bool { return e.reg.Validate(ent) }
	hasComponent := func(ent ecscore.Entity, typ ecscore.TypeID) bool { return e.reg.HasType(ent, typ) }

	g, _ := errgroup.WithContext(context.Background())
	for _, laneID := range laneIDs {
		indices := e.lanes[laneID]
		g.Go(func() error {
			ctx := &Context{Registry: e.reg, Frame: frame, DeltaTime: dt}
			for _, idx := range indices {
				s := e.systems[idx]
				if err := s.fn(ctx); err != nil {
					e.log.WithFields(logrus.Fields{"system": s.Name, "frame": frame}).WithError(err).Error("system execute failed")
					return ecscore.NewInternalError("system "+s.Name+" failed", err).WithSystem(s.Name)
				}
				e.stepCoroutines(s.Name, dt, alive, hasComponent)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.reg.MarkUnhealthy(err)
		return err
	}

	e.stepCoroutines("", dt, alive, hasComponent)

	e.reg.AdvanceLimbo()
	return nil
}

// Plan returns the resolved execution plan, e.g. for diagnostics.
func (e *Executor) Plan() *planner.Plan { return e.plan }
