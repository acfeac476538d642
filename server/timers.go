package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerKind names a per-room one-shot timer.
type TimerKind string

const (
	TimerAutoStart     TimerKind = "auto_start"
	TimerCountdown     TimerKind = "countdown"
	TimerDeadline      TimerKind = "deadline"
	TimerBattleStart   TimerKind = "battle_start"
	TimerBattleCleanup TimerKind = "battle_cleanup"
)

type timerKey struct {
	room RoomRef
	kind TimerKind
}

// TimerService schedules named one-shot timers keyed by (room, kind).
// Arming an already-armed key replaces the pending timer, which makes
// rearm-on-update and cancel-on-room-delete trivial and keeps closures
// from outliving their room. Callbacks run on their own goroutine and
// must re-enter session state through a manager dispatch method.
type TimerService struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	timers map[timerKey]clockwork.Timer
}

func NewTimerService(clock clockwork.Clock) *TimerService {
	return &TimerService{
		clock:  clock,
		timers: make(map[timerKey]clockwork.Timer),
	}
}

// Arm schedules fn to run once after delay, replacing any pending timer
// for the same (room, kind).
func (ts *TimerService) Arm(room RoomRef, kind TimerKind, delay time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	key := timerKey{room: room, kind: kind}
	if t, ok := ts.timers[key]; ok {
		t.Stop()
	}
	var timer clockwork.Timer
	timer = ts.clock.AfterFunc(delay, func() {
		ts.mu.Lock()
		// A rearm may have replaced us between firing and locking.
		if ts.timers[key] == timer {
			delete(ts.timers, key)
		}
		ts.mu.Unlock()
		fn()
	})
	ts.timers[key] = timer
}

// Cancel removes a pending timer without firing it.
func (ts *TimerService) Cancel(room RoomRef, kind TimerKind) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	key := timerKey{room: room, kind: kind}
	if t, ok := ts.timers[key]; ok {
		t.Stop()
		delete(ts.timers, key)
	}
}

// CancelRoom drops every pending timer belonging to the room. Called on
// room deletion so no closure fires against a vanished session.
func (ts *TimerService) CancelRoom(room RoomRef) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for key, t := range ts.timers {
		if key.room == room {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}

// Armed reports whether (room, kind) has a pending timer.
func (ts *TimerService) Armed(room RoomRef, kind TimerKind) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	_, ok := ts.timers[timerKey{room: room, kind: kind}]
	return ok
}
