package coroutine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ecsframe/internal/ecs/ecscore"
)

func alwaysAlive(ecscore.Entity) bool                { return true }
func alwaysHas(ecscore.Entity, ecscore.TypeID) bool { return true }

func Test_Task_WaitsExactlyNFrames(t *testing.T) {
	// Arrange
	counter := 0
	task := New(func(c *Control) (interface{}, error) {
		counter++
		c.Frames(2)
		counter++
		return "done", nil
	})

	// Act & Assert
	task.Step(1.0/60, alwaysAlive, alwaysHas) // starts the body, runs to the Frames(2) yield
	assert.Equal(t, 1, counter, "expected the body to have incremented once before yielding")

	task.Step(1.0/60, alwaysAlive, alwaysHas) // frame 1 of the wait
	assert.Equal(t, 1, counter)
	assert.Equal(t, StatusRunning, task.Status(), "expected the task to still be waiting after 1 of 2 frames")

	task.Step(1.0/60, alwaysAlive, alwaysHas) // frame 2 of the wait: resumes
	assert.Equal(t, 2, counter, "expected the body to resume after 2 frames")
	assert.Equal(t, StatusComplete, task.Status())
	assert.Equal(t, "done", task.Result())
}

func Test_Task_SelfCancel(t *testing.T) {
	// Arrange
	task := New(func(c *Control) (interface{}, error) {
		c.Cancel()
		return "unreachable", nil
	})

	// Act
	task.Step(0, alwaysAlive, alwaysHas)

	// Assert
	assert.Equal(t, StatusCancelled, task.Status(), "expected self-cancellation to land StatusCancelled")
	assert.True(t, ecscore.IsCancelled(task.Err()))
}

func Test_Task_ExternalCancel(t *testing.T) {
	// Arrange
	task := New(func(c *Control) (interface{}, error) {
		c.NextFrame()
		return "done", nil
	})
	task.Step(0, alwaysAlive, alwaysHas) // starts, yields NextFrame

	// Act
	task.Cancel()
	task.Step(0, alwaysAlive, alwaysHas) // cancellation takes effect here

	// Assert
	assert.Equal(t, StatusCancelled, task.Status(), "expected external Cancel to land StatusCancelled")
}

func Test_Task_ScopeToCancelsOnDeath(t *testing.T) {
	// Arrange
	scope := ecscore.Entity{Index: 5, Generation: 1}
	dead := false
	alive := func(e ecscore.Entity) bool { return !dead }
	task := New(func(c *Control) (interface{}, error) {
		c.NextFrame()
		return "done", nil
	}).ScopeTo(scope)

	// Act
	task.Step(0, alive, alwaysHas)
	dead = true
	task.Step(0, alive, alwaysHas)

	// Assert
	assert.Equal(t, StatusCancelled, task.Status(), "expected ScopeTo death to cancel the task")
}

func Test_Task_CancelIfComponentMissing(t *testing.T) {
	// Arrange
	scope := ecscore.Entity{Index: 5, Generation: 1}
	const typ ecscore.TypeID = 3
	has := true
	hasComponent := func(e ecscore.Entity, ty ecscore.TypeID) bool { return has }
	task := New(func(c *Control) (interface{}, error) {
		c.NextFrame()
		return "done", nil
	}).ScopeTo(scope).CancelIfComponentMissing(typ)

	// Act
	task.Step(0, alwaysAlive, hasComponent)
	has = false
	task.Step(0, alwaysAlive, hasComponent)

	// Assert
	assert.Equal(t, StatusCancelled, task.Status(), "expected the missing-component trigger to cancel the task")
}

func Test_Task_SubtaskAdvancesAcrossParentSteps(t *testing.T) {
	// Arrange
	subSteps := 0
	sub := New(func(c *Control) (interface{}, error) {
		subSteps++
		c.Frames(2)
		subSteps++
		return 42, nil
	})
	parent := New(func(c *Control) (interface{}, error) {
		res, err := c.Await(sub)
		if err != nil {
			return nil, err
		}
		return res, nil
	})

	// Act & Assert
	parent.Step(0, alwaysAlive, alwaysHas) // starts parent, which awaits sub (auto-kicks sub's first step)
	assert.Equal(t, 1, subSteps, "expected the subtask's first step to run automatically")

	parent.Step(0, alwaysAlive, alwaysHas) // drives sub's wait frame 1 of 2
	assert.Equal(t, StatusRunning, parent.Status(), "expected parent still running while subtask waits")

	parent.Step(0, alwaysAlive, alwaysHas) // drives sub's wait frame 2 of 2: sub resumes and completes
	assert.Equal(t, StatusComplete, parent.Status(), "expected parent to complete once the subtask resolves")
	assert.Equal(t, 42, parent.Result(), "expected parent's result to be the subtask's result")
}

func Test_Task_CancelCascadesToAwaitedSubtask(t *testing.T) {
	// Arrange: a parent awaiting a long-running subtask.
	sub := New(func(c *Control) (interface{}, error) {
		c.Frames(10)
		return "sub done", nil
	})
	parent := New(func(c *Control) (interface{}, error) {
		res, err := c.Await(sub)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	parent.Step(0, alwaysAlive, alwaysHas) // starts parent, kicks sub's first step; sub now waiting on Frames(10)
	require := assert.New(t)
	require.Equal(StatusRunning, sub.Status(), "expected the subtask to still be waiting")

	// Act: cancel the parent before the subtask resolves.
	parent.Cancel()
	parent.Step(0, alwaysAlive, alwaysHas)

	// Assert: cancellation cascades to the still-pending awaited subtask.
	assert.Equal(t, StatusCancelled, parent.Status(), "expected the parent to land StatusCancelled")
	assert.Equal(t, StatusCancelled, sub.Status(), "expected the awaited subtask to be cancelled along with its parent")
	assert.True(t, ecscore.IsCancelled(sub.Err()))
}
