// Command ecsdemo builds a small world, registers one system over a
// compiled query, and runs a handful of frames — a host program shaped
// like the teacher's NewGame()/Run() pair, minus any render loop.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"ecsframe/internal/ecs"
	"ecsframe/internal/ecs/bitset"
	"ecsframe/internal/ecs/ecscore"
	"ecsframe/internal/ecs/planner"
	"ecsframe/internal/ecs/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := ecs.DefaultWorldConfig()
	cfg.MaxEntities = 1024
	cfg.Defs = []ecs.ComponentDef{
		{
			Name:    "Position",
			Storage: ecscore.Packed,
			Fields: []ecscore.FieldDef{
				{Name: "x", Kind: ecscore.FieldF64},
				{Name: "y", Kind: ecscore.FieldF64},
			},
		},
		{
			Name:    "Velocity",
			Storage: ecscore.Packed,
			Fields: []ecscore.FieldDef{
				{Name: "dx", Kind: ecscore.FieldF64},
				{Name: "dy", Kind: ecscore.FieldF64},
			},
		},
	}

	w, err := ecs.Create(cfg, buildSystems, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create world:", err)
		os.Exit(1)
	}

	if err := w.Build(func(world *ecs.World) error {
		for i := 0; i < 5; i++ {
			h, err := world.CreateEntity()
			if err != nil {
				return err
			}
			if err := h.Add("Position", func(v *store.RowView) error {
				return v.SetF64("x", float64(i))
			}); err != nil {
				return err
			}
			if err := h.Add("Velocity", func(v *store.RowView) error {
				return v.SetF64("dx", 1.0)
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}

	for frame := 0; frame < 10; frame++ {
		if err := w.Execute(1.0 / 60.0); err != nil {
			fmt.Fprintln(os.Stderr, "execute:", err)
			os.Exit(1)
		}
	}
	log.WithField("frames", 10).Info("demo world advanced")
}

// buildSystems is called by ecs.Create once the registry's component
// types are sealed, so it can resolve TypeIDs and compile queries before
// the schedule is built.
func buildSystems(reg *ecs.Registry) []ecs.SystemEntry {
	posType, _ := reg.Types().Lookup("Position")
	velType, _ := reg.Types().Lookup("Velocity")

	withBoth := bitset.FromBits(uint(posType.ID), uint(velType.ID))
	moveQuery := reg.Queries().Compile(withBoth, nil, []ecscore.TypeID{velType.ID}, nil)

	move := func(ctx *ecs.Context) error {
		for _, e := range ctx.Registry.QueryCurrent(moveQuery) {
			vel, err := ctx.Registry.Read(e, "Velocity", false)
			if err != nil {
				return err
			}
			dx, _ := vel.F64("dx")
			dy, _ := vel.F64("dy")

			pos, err := ctx.Registry.Write(e, "Position")
			if err != nil {
				return err
			}
			x, _ := pos.F64("x")
			y, _ := pos.F64("y")
			if err := pos.SetF64("x", x+dx*ctx.DeltaTime); err != nil {
				return err
			}
			if err := pos.SetF64("y", y+dy*ctx.DeltaTime); err != nil {
				return err
			}
		}
		return nil
	}

	return []ecs.SystemEntry{
		{
			System: planner.System{
				Name: "Move",
				Accesses: []planner.Access{
					{Type: posType.ID, Write: true},
					{Type: velType.ID, Write: false},
				},
			},
			Fn: move,
		},
	}
}
