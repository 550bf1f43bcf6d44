package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestDailyGateFiresOncePerDay(t *testing.T) {
	gate := &dailyGate{hour: 2, minute: 0}

	assert.False(t, gate.due(at(1, 1, 59)))
	assert.True(t, gate.due(at(1, 2, 0)))
	assert.False(t, gate.due(at(1, 2, 1)))
	assert.False(t, gate.due(at(1, 14, 0)))

	assert.True(t, gate.due(at(2, 2, 0)))
}

func TestDailyGateAcceptsLateTicks(t *testing.T) {
	gate := &dailyGate{hour: 2, minute: 0}

	// The tick at the exact target minute never arrived.
	assert.True(t, gate.due(at(1, 2, 17)))
	assert.False(t, gate.due(at(1, 2, 18)))
}

func TestDailyGateStaysQuietPastGrace(t *testing.T) {
	gate := &dailyGate{hour: 2, minute: 30}

	assert.False(t, gate.due(at(1, 3, 30)))
	assert.False(t, gate.due(at(1, 3, 31)))
	assert.True(t, gate.due(at(2, 2, 30)))
}
