package ecs

import "ecsframe/internal/ecs/ecscore"

// ComponentDef is one component type to register at World creation, the
// host-supplied analogue of a decorated component class in a reflection-
// based ECS. Declaring these as plain Go data (rather than parsing them
// from a config file) is deliberate: the defs list is genuinely
// host-authored Go data, not external configuration, so no config-file
// library from the retrieval pack has anything to parse here.
type ComponentDef struct {
	Name       string
	Storage    ecscore.StorageFlavor
	Fields     []ecscore.FieldDef
	Invariants []ecscore.InvariantFactory
}

// WorldConfig holds every tunable World.Create needs: capacity ceilings
// for entities and limbo, per-frame journal ceilings, the default storage
// flavor for components that don't declare one, the component defs
// themselves, and the lane count for parallel system execution.
type WorldConfig struct {
	MaxEntities             int
	MaxLimboEntities        int
	MaxLimboComponents      int
	MaxShapeChangesPerFrame int
	MaxRefChangesPerFrame   int
	DefaultComponentStorage ecscore.StorageFlavor
	Defs                    []ComponentDef
	Lanes                   int
}

// DefaultWorldConfig returns conservative defaults; callers override what
// they need.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		MaxEntities:             1 << 16,
		MaxLimboEntities:        1024,
		MaxLimboComponents:      4096,
		MaxShapeChangesPerFrame: 8192,
		MaxRefChangesPerFrame:   8192,
		DefaultComponentStorage: ecscore.Packed,
		Lanes:                   1,
	}
}

func (c WorldConfig) validate() error {
	if c.MaxEntities <= 0 {
		return ecscore.NewConfigurationError(ecscore.CodeWorldSealed, "maxEntities must be positive")
	}
	for _, d := range c.Defs {
		if d.Name == "" {
			return ecscore.NewConfigurationError(ecscore.CodeDuplicateRegistration, "component def missing a name")
		}
	}
	return nil
}
