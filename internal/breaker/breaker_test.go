package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClosedByDefault(t *testing.T) {
	b := New(3, time.Minute)
	assert.False(t, b.IsOpen())
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "should still be closed below threshold")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestSuccessResetsStreak(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, uint32(0), b.ConsecutiveFailures())
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b := New(1, 20*time.Millisecond)
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsOpen(), "should allow a trial attempt once reset timeout elapses")
}

func TestFailureDuringHalfOpenReopens(t *testing.T) {
	b := New(1, 20*time.Millisecond)
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestReset(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, uint32(0), b.ConsecutiveFailures())
}
