package server

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts := NewTimerService(clock)
	room := ArenaRef(1)

	var fired atomic.Int32
	ts.Arm(room, TimerCountdown, time.Second, func() { fired.Add(1) })
	require.True(t, ts.Armed(room, TimerCountdown))

	clock.Advance(time.Second)
	waitFor(t, "timer fire", func() bool { return fired.Load() == 1 })
	waitFor(t, "timer disarm", func() bool { return !ts.Armed(room, TimerCountdown) })

	clock.Advance(time.Minute)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimerRearmReplaces(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts := NewTimerService(clock)
	room := ArenaRef(1)

	var first, second atomic.Int32
	ts.Arm(room, TimerDeadline, time.Second, func() { first.Add(1) })
	ts.Arm(room, TimerDeadline, 3*time.Second, func() { second.Add(1) })

	clock.Advance(time.Second)
	assert.Zero(t, first.Load(), "replaced timer must not fire")

	clock.Advance(2 * time.Second)
	waitFor(t, "rearmed timer fire", func() bool { return second.Load() == 1 })
	assert.Zero(t, first.Load())
}

func TestTimerCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts := NewTimerService(clock)
	room := BattleRef("ch")

	var fired atomic.Int32
	ts.Arm(room, TimerBattleStart, time.Second, func() { fired.Add(1) })
	ts.Cancel(room, TimerBattleStart)
	assert.False(t, ts.Armed(room, TimerBattleStart))

	clock.Advance(time.Minute)
	assert.Zero(t, fired.Load())
}

func TestTimerCancelRoom(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts := NewTimerService(clock)

	var fired atomic.Int32
	ts.Arm(ArenaRef(1), TimerAutoStart, time.Second, func() { fired.Add(1) })
	ts.Arm(ArenaRef(1), TimerCountdown, time.Second, func() { fired.Add(1) })
	ts.Arm(ArenaRef(2), TimerCountdown, time.Second, func() { fired.Add(1) })

	ts.CancelRoom(ArenaRef(1))
	assert.False(t, ts.Armed(ArenaRef(1), TimerAutoStart))
	assert.False(t, ts.Armed(ArenaRef(1), TimerCountdown))
	require.True(t, ts.Armed(ArenaRef(2), TimerCountdown))

	clock.Advance(time.Second)
	waitFor(t, "other room's timer", func() bool { return fired.Load() == 1 })
}

func TestTimerKindsAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ts := NewTimerService(clock)
	room := ArenaRef(1)

	var autoStart, countdown atomic.Int32
	ts.Arm(room, TimerAutoStart, time.Second, func() { autoStart.Add(1) })
	ts.Arm(room, TimerCountdown, 2*time.Second, func() { countdown.Add(1) })

	clock.Advance(time.Second)
	waitFor(t, "auto-start fire", func() bool { return autoStart.Load() == 1 })
	assert.Zero(t, countdown.Load())
	assert.True(t, ts.Armed(room, TimerCountdown))

	clock.Advance(time.Second)
	waitFor(t, "countdown fire", func() bool { return countdown.Load() == 1 })
}
