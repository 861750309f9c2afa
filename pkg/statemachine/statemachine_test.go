package statemachine_test

import (
	"testing"

	"github.com/exos-project/exoscore/pkg/statemachine"
	"github.com/stretchr/testify/assert"
)

type state int

const (
	stateReady state = iota
	stateRunning
	stateDead
)

type event int

const (
	eventDispatch event = iota
	eventKill
)

func TestProcessEvent(t *testing.T) {
	entered := []state{}
	hooks := map[state]statemachine.StateHooks[state]{
		stateRunning: {OnEnter: func(ctx any) { entered = append(entered, stateRunning) }},
	}
	transitions := []statemachine.Transition[state, event]{
		{From: stateReady, Event: eventDispatch, To: stateRunning},
		{From: stateRunning, Event: eventKill, To: stateDead},
	}

	m := statemachine.New(transitions, hooks, stateReady, nil)
	assert.True(t, m.ProcessEvent(eventDispatch))
	assert.Equal(t, stateRunning, m.CurrentState())
	assert.Equal(t, stateReady, m.PreviousState())
	assert.Equal(t, []state{stateRunning}, entered)

	assert.False(t, m.ProcessEvent(eventDispatch)) // no edge from Running on Dispatch
	assert.True(t, m.ProcessEvent(eventKill))
	assert.Equal(t, stateDead, m.CurrentState())
}

func TestConditionGuardsTransition(t *testing.T) {
	allowed := false
	transitions := []statemachine.Transition[state, event]{
		{From: stateReady, Event: eventDispatch, To: stateRunning, Condition: func(ctx any) bool { return allowed }},
	}
	m := statemachine.New(transitions, nil, stateReady, nil)

	assert.False(t, m.ProcessEvent(eventDispatch))
	assert.Equal(t, stateReady, m.CurrentState())

	allowed = true
	assert.True(t, m.ProcessEvent(eventDispatch))
	assert.Equal(t, stateRunning, m.CurrentState())
}

func TestForceState(t *testing.T) {
	m := statemachine.New[state, event](nil, nil, stateReady, nil)
	m.ForceState(stateDead)
	assert.Equal(t, stateDead, m.CurrentState())
	assert.True(t, m.IsInState(stateDead))
}

func TestDisable(t *testing.T) {
	transitions := []statemachine.Transition[state, event]{
		{From: stateReady, Event: eventDispatch, To: stateRunning},
	}
	m := statemachine.New(transitions, nil, stateReady, nil)
	m.Disable()
	assert.False(t, m.ProcessEvent(eventDispatch))
	assert.False(t, m.IsEnabled())
}
