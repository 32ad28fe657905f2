// Package workflow runs migrations through the analyze, plan, convert and
// verify stages and keeps the state of every run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
)

// ErrIllegalTransition is returned when a state change skips or reverses a
// stage.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[models.AgentStatus][]models.AgentStatus{
	models.AgentIdle:       {models.AgentAnalyzing},
	models.AgentAnalyzing:  {models.AgentPlanning, models.AgentError},
	models.AgentPlanning:   {models.AgentConverting, models.AgentError},
	models.AgentConverting: {models.AgentVerifying, models.AgentError},
	models.AgentVerifying:  {models.AgentCompleted, models.AgentError},
	models.AgentCompleted:  {models.AgentIdle},
	models.AgentError:      {models.AgentIdle},
}

// State is the position of a run in the workflow.
type State struct {
	Status models.AgentStatus
	Since  time.Time
}

// Idle returns the initial state.
func Idle() State {
	return State{Status: models.AgentIdle, Since: time.Now()}
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.AgentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns the state after moving s to next.
func Transition(s State, next models.AgentStatus) (State, error) {
	if !CanTransition(s.Status, next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, next)
	}
	return State{Status: next, Since: time.Now()}, nil
}

// StepFunc performs one stage of a pipeline. It receives the current state
// and returns the state it left the run in.
type StepFunc func(ctx context.Context, s State) (State, error)

// Pipeline runs steps in order, stopping at the first error.
func Pipeline(ctx context.Context, s State, steps ...StepFunc) (State, error) {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		next, err := step(ctx, s)
		if err != nil {
			return next, err
		}
		s = next
	}
	return s, nil
}
