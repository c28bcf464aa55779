package resolver

import "time"

// queryTimer is a one-shot scheduled callback with cancel (spec §2, §4.4).
//
// It adopts the simplified cancellation protocol spec §9 sanctions for
// memory-safe runtimes: Stop is synchronous and, when it returns true,
// guarantees the callback will never run. When it returns false the
// callback has already started (or already finished) and the caller must
// not assume the timer is still pending.
type queryTimer struct {
	t *time.Timer
}

// armTimer schedules fn to run after d on its own goroutine. d < 0 means
// "disabled"; armTimer returns nil in that case and fn is never called. d
// == 0 still arms: fn fires as soon as the runtime schedules it.
func armTimer(d time.Duration, fn func()) *queryTimer {
	if d < 0 {
		return nil
	}
	return &queryTimer{t: time.AfterFunc(d, fn)}
}

// stop cancels the timer. Returns true if the callback is guaranteed to
// never run, false if it has already fired (or is in the middle of
// firing).
func (qt *queryTimer) stop() bool {
	if qt == nil {
		return true
	}
	return qt.t.Stop()
}
