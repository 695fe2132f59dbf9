package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecsframe/internal/ecs/ecscore"
)

const typeFoo ecscore.TypeID = 1

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func Test_Build_RejectsConflictingDirectives(t *testing.T) {
	// Arrange: A must run after B, and B must run after A - two directives
	// directly contradicting each other, not a transitive cycle.
	systems := []System{
		{Name: "A", Accesses: []Access{{Type: typeFoo, Write: true}}, Directives: []Directive{{Kind: After, Other: "B"}}},
		{Name: "B", Accesses: []Access{{Type: typeFoo, Write: true}}, Directives: []Directive{{Kind: After, Other: "A"}}},
	}

	// Act
	_, cycles, err := Build(systems)

	// Assert
	require.Error(t, err, "expected Build to reject directly contradicting directives")
	assert.True(t, ecscore.IsConfiguration(err))
	assert.True(t, ecscore.Is(err, ecscore.CodeConflictingScheduleDirective), "expected the dedicated conflicting-directive code, not a generic cycle")
	assert.Empty(t, cycles, "a direct directive contradiction is diagnosed before FindCycles ever runs")
}

func Test_Build_RejectsDirectiveCycle(t *testing.T) {
	// Arrange: A before B, B before C, C before A - no single pair of
	// directives directly contradicts, but the chain still cycles.
	systems := []System{
		{Name: "A", Directives: []Directive{{Kind: Before, Other: "B"}}},
		{Name: "B", Directives: []Directive{{Kind: Before, Other: "C"}}},
		{Name: "C", Directives: []Directive{{Kind: Before, Other: "A"}}},
	}

	// Act
	_, cycles, err := Build(systems)

	// Assert
	require.Error(t, err, "expected Build to reject a transitive directive cycle")
	assert.True(t, ecscore.IsConfiguration(err))
	assert.True(t, ecscore.Is(err, ecscore.CodeCycleDetected))
	assert.NotEmpty(t, cycles, "expected the detected cycle to be reported")
}

func Test_Build_UnknownDirectiveTarget(t *testing.T) {
	// Arrange
	systems := []System{
		{Name: "A", Directives: []Directive{{Kind: Before, Other: "Ghost"}}},
	}

	// Act
	_, _, err := Build(systems)

	// Assert
	assert.Error(t, err, "expected Build to reject a directive referencing an unknown system")
}

func Test_Build_ScheduleTransitivity(t *testing.T) {
	// Arrange: Prep before writers of Foo, G1 after Prep. Late before
	// readers of Foo and after G1. Writer writes Foo, Reader reads it.
	// Transitively chaining After/beforeWritersOf/beforeReadersOf
	// directives with a genuine read/write conflict must resolve to the
	// single order these constraints allow: Prep, G1, Late, Writer, Reader.
	prep := System{Name: "Prep", Directives: []Directive{{Kind: BeforeWritersOf, Type: typeFoo}}}
	g1 := System{Name: "G1", Directives: []Directive{{Kind: After, Other: "Prep"}}}
	late := System{Name: "Late", Directives: []Directive{
		{Kind: BeforeReadersOf, Type: typeFoo},
		{Kind: After, Other: "G1"},
	}}
	writer := System{Name: "Writer", Accesses: []Access{{Type: typeFoo, Write: true}}}
	reader := System{Name: "Reader", Accesses: []Access{{Type: typeFoo, Write: false}}}

	// Act
	plan, _, err := Build([]System{prep, g1, late, writer, reader})

	// Assert
	require.NoError(t, err)
	pos := func(name string) int { return indexOf(plan.Order, name) }
	assert.Less(t, pos("Prep"), pos("G1"))
	assert.Less(t, pos("G1"), pos("Late"))
	assert.Less(t, pos("Late"), pos("Writer"))
	assert.Less(t, pos("Writer"), pos("Reader"))
}

func Test_AssignLanes_PinsMainThreadAndConflictingAccess(t *testing.T) {
	// Arrange
	systems := []System{
		{Name: "Render", OnMainThread: true, Accesses: []Access{{Type: typeFoo, Write: true}}},
		{Name: "Physics", Accesses: []Access{{Type: typeFoo, Write: false}}}, // reads a main-thread-written type
		{Name: "Ai", Accesses: []Access{{Type: 99, Write: true}}},            // independent type, can parallelize
	}

	// Act
	plan, _, err := Build(systems)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Lane["Render"], "expected the main-thread system pinned to lane 0")
	assert.Equal(t, 0, plan.Lane["Physics"], "expected a reader of a main-thread-written type pinned to lane 0 too")
	assert.NotEqual(t, 0, plan.Lane["Ai"], "expected an unrelated system to avoid lane 0")
}
