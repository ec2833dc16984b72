package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusOpen, StatusAssigned},
		{StatusOpen, StatusCancelled},
		{StatusAssigned, StatusInProgress},
		{StatusAssigned, StatusCancelled},
		{StatusInProgress, StatusPaused},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCancelled},
		{StatusPaused, StatusInProgress},
		{StatusPaused, StatusCancelled},
		{StatusCompleted, StatusConfirmed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	rejected := []struct {
		from, to Status
	}{
		{StatusOpen, StatusInProgress},
		{StatusOpen, StatusCompleted},
		{StatusAssigned, StatusCompleted},
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusInProgress},
		{StatusConfirmed, StatusOpen},
		{StatusConfirmed, StatusCancelled},
		{StatusCancelled, StatusOpen},
		{StatusCancelled, StatusAssigned},
		{StatusPaused, StatusCompleted},
		{StatusOpen, StatusOpen},
	}
	for _, tc := range rejected {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []Status{StatusConfirmed, StatusCancelled} {
		assert.True(t, IsTerminal(terminal))
		assert.Empty(t, AllowedTransitions[terminal])
	}
	for _, s := range []Status{StatusOpen, StatusAssigned, StatusInProgress, StatusPaused, StatusCompleted} {
		assert.False(t, IsTerminal(s))
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(StatusOpen))
	assert.True(t, IsValidStatus(StatusPaused))
	assert.False(t, IsValidStatus(Status("DONE")))
	assert.False(t, IsValidStatus(Status("")))
}

func TestIsValidPriority(t *testing.T) {
	assert.True(t, IsValidPriority(PriorityUrgent))
	assert.False(t, IsValidPriority(Priority("CRITICAL")))
}
