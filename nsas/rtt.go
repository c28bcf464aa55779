package nsas

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

const ewmaAlpha = 0.3
const unreachablePenaltyMillis = 3000
const maxUnreachableStreak = 5

type addrStat struct {
	ewmaMillis  float64
	unreachable int
	lastUpdate  time.Time
}

// rttTracker keeps a per-address exponentially-weighted moving average of
// round-trip time plus an unreachable-streak counter, generalizing the
// teacher's single-shot root RTT probe (timeroot.go/orderroots.go) to
// every address NSAS has ever contacted (spec §9 NSAS RTT feedback).
type rttTracker struct {
	mu    sync.Mutex
	stats map[netip.Addr]*addrStat
}

func newRTTTracker() *rttTracker {
	return &rttTracker{stats: make(map[netip.Addr]*addrStat)}
}

// update records a completed exchange (rttMillis >= 0) or a failure
// (rttMillis == UnreachableRTT, i.e. negative).
func (t *rttTracker) update(addr netip.Addr, rttMillis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[addr]
	if !ok {
		st = &addrStat{}
		t.stats[addr] = st
	}
	st.lastUpdate = time.Now()
	if rttMillis < 0 {
		st.unreachable++
		return
	}
	st.unreachable = 0
	if st.ewmaMillis == 0 {
		st.ewmaMillis = float64(rttMillis)
	} else {
		st.ewmaMillis = ewmaAlpha*float64(rttMillis) + (1-ewmaAlpha)*st.ewmaMillis
	}
}

// score returns a lower-is-better cost for addr; addresses with no
// history get a neutral default so they get a fair first try.
func (t *rttTracker) score(addr netip.Addr) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[addr]
	if !ok {
		return float64(unreachablePenaltyMillis) / 2
	}
	if st.unreachable >= maxUnreachableStreak {
		return float64(unreachablePenaltyMillis) * float64(st.unreachable)
	}
	if st.ewmaMillis == 0 {
		return float64(unreachablePenaltyMillis) / 2
	}
	return st.ewmaMillis
}

// rank returns addrs sorted best (lowest cost) first.
func (t *rttTracker) rank(addrs []netip.Addr) []netip.Addr {
	out := append([]netip.Addr(nil), addrs...)
	sort.SliceStable(out, func(i, j int) bool {
		return t.score(out[i]) < t.score(out[j])
	})
	return out
}
