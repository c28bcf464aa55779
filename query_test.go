package resolver

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// fakeCache is a minimal in-memory Cache for exercising runningQuery
// without the real cache package's TTL bookkeeping.
type fakeCache struct {
	mu      sync.Mutex
	entries map[dns.Question]*dns.Msg
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[dns.Question]*dns.Msg)}
}

func (c *fakeCache) Lookup(q dns.Question) (*dns.Msg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[q]
	return m, ok
}

func (c *fakeCache) LookupRRset(dns.Question) ([]dns.RR, bool) { return nil, false }

func (c *fakeCache) Insert(msg *dns.Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[msg.Question[0]] = msg.Copy()
}

// fakeFetcher answers each Fetch call via a per-qname responder function,
// optionally after a delay, letting tests model retries, timeouts, and
// client/lookup-timer races deterministically.
type fakeFetcher struct {
	mu        sync.Mutex
	responder map[string]func(attempt int) FetchResult
	attempts  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responder: make(map[string]func(attempt int) FetchResult), attempts: make(map[string]int)}
}

func (f *fakeFetcher) on(qname string, fn func(attempt int) FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responder[qname] = fn
}

func (f *fakeFetcher) Fetch(question *dns.Msg, _ netip.AddrPort, _ int64) <-chan FetchResult {
	out := make(chan FetchResult, 1)
	qname := question.Question[0].Name

	f.mu.Lock()
	f.attempts[qname]++
	attempt := f.attempts[qname]
	fn := f.responder[qname]
	f.mu.Unlock()

	go func() {
		if fn == nil {
			out <- FetchResult{}
			return
		}
		out <- fn(attempt)
	}()
	return out
}

// fakeNSAS answers each Lookup call via a per-zone responder function,
// letting tests drive iterative-mode delegation deterministically.
type fakeNSAS struct {
	mu        sync.Mutex
	responder map[string]func() NSASResult
	states    map[NSASHandle]*fakeNSASState
	next      uint64
}

type fakeNSASState struct {
	once sync.Once
	ch   chan NSASResult
}

func newFakeNSAS() *fakeNSAS {
	return &fakeNSAS{
		responder: make(map[string]func() NSASResult),
		states:    make(map[NSASHandle]*fakeNSASState),
	}
}

func (f *fakeNSAS) on(zone string, fn func() NSASResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responder[zone] = fn
}

func (f *fakeNSAS) Lookup(zone string, _ uint16) (NSASHandle, <-chan NSASResult) {
	f.mu.Lock()
	f.next++
	handle := NSASHandle(f.next)
	state := &fakeNSASState{ch: make(chan NSASResult, 1)}
	f.states[handle] = state
	fn := f.responder[zone]
	f.mu.Unlock()

	go func() {
		res := NSASResult{Unreachable: true}
		if fn != nil {
			res = fn()
		}
		state.once.Do(func() {
			state.ch <- res
			close(state.ch)
		})
	}()
	return handle, state.ch
}

func (f *fakeNSAS) Cancel(handle NSASHandle) {
	f.mu.Lock()
	state, ok := f.states[handle]
	f.mu.Unlock()
	if ok {
		state.once.Do(func() { close(state.ch) })
	}
}

func (f *fakeNSAS) UpdateRTT(string, uint16, netip.AddrPort, int64) {}

type syncCallback struct {
	done   chan struct{}
	answer *dns.Msg
	ok     bool
}

func newSyncCallback() *syncCallback {
	return &syncCallback{done: make(chan struct{})}
}

func (c *syncCallback) Success(answer *dns.Msg) {
	c.answer, c.ok = answer, true
	close(c.done)
}

func (c *syncCallback) Failure() {
	c.ok = false
	close(c.done)
}

func testForwarderConfig() Config {
	return Config{
		Forwarders:    []netip.AddrPort{netip.MustParseAddrPort("192.0.2.53:53")},
		QueryTimeout:  time.Second,
		ClientTimeout: -1, // disabled; tests exercising it set an explicit value
		LookupTimeout: time.Second,
		Retries:       2,
	}
}

func answerMsg(q *dns.Msg, owner string, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   netip.MustParseAddr(ip).AsSlice(),
	})
	return resp
}

func cnameMsg(q *dns.Msg, owner, target string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Answer = append(resp.Answer, &dns.CNAME{
		Hdr:    dns.RR_Header{Name: owner, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
		Target: target,
	})
	return resp
}

func referralMsg(q *dns.Msg, nsOwner, nsName string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Ns = append(resp.Ns, &dns.NS{
		Hdr: dns.RR_Header{Name: nsOwner, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
		Ns:  nsName,
	})
	return resp
}

func TestResolveCacheHitShortCircuitsWithoutFetch(t *testing.T) {
	fetcher := newFakeFetcher() // no responder registered for any name
	c := newFakeCache()
	question := dns.Question{Name: "cached.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	cached := new(dns.Msg)
	cached.SetQuestion(question.Name, question.Qtype)
	cached.Response = true
	cached.Rcode = dns.RcodeSuccess
	cached.Answer = append(cached.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   netip.MustParseAddr("203.0.113.9").AsSlice(),
	})
	c.Insert(cached)

	engine := NewQueryEngine(testForwarderConfig(), c, nil, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(question, cb)

	select {
	case <-cb.done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("cache hit should resolve without touching the network")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeSuccess || len(cb.answer.Answer) != 1 {
		t.Fatalf("expected cached answer, got ok=%v answer=%+v", cb.ok, cb.answer)
	}
	if attempts := fetcher.attempts[question.Name]; attempts != 0 {
		t.Fatalf("expected zero fetches on cache hit, got %d", attempts)
	}
}

func TestResolveCNAMELoopBoundedToServfail(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("loop.example.com.", func(int) FetchResult {
		q := new(dns.Msg)
		q.SetQuestion("loop.example.com.", dns.TypeA)
		return FetchResult{Msg: cnameMsg(q, "loop.example.com.", "loop.example.com.")}
	})

	// CNAMEs are only followed in iterative mode; a forwarder's response is
	// handed back as is.
	nsas := newFakeNSAS()
	nsas.on(".", func() NSASResult { return NSASResult{Address: netip.MustParseAddrPort("198.51.100.1:53")} })

	cfg := testForwarderConfig()
	cfg.Forwarders = nil // empty ⇒ iterative mode
	engine := NewQueryEngine(cfg, newFakeCache(), nsas, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "loop.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeServerFailure {
		t.Fatalf("expected SERVFAIL once the CNAME chain exceeds the bound, got ok=%v answer=%+v", cb.ok, cb.answer)
	}
}

// TestResolveIterativeReferralChain walks the three-hop delegation from
// spec.md's iterative referral scenario: root refers to "b.", "b." refers
// to "a.b.", and "a.b." finally answers.
func TestResolveIterativeReferralChain(t *testing.T) {
	rootAddr := netip.MustParseAddrPort("198.51.100.1:53")
	bAddr := netip.MustParseAddrPort("198.51.100.2:53")
	abAddr := netip.MustParseAddrPort("198.51.100.3:53")

	nsas := newFakeNSAS()
	nsas.on(".", func() NSASResult { return NSASResult{Address: rootAddr} })
	nsas.on("b.", func() NSASResult { return NSASResult{Address: bAddr} })
	nsas.on("a.b.", func() NSASResult { return NSASResult{Address: abAddr} })

	fetcher := newFakeFetcher()
	fetcher.on("www.a.b.", func(attempt int) FetchResult {
		q := new(dns.Msg)
		q.SetQuestion("www.a.b.", dns.TypeA)
		switch attempt {
		case 1:
			return FetchResult{Msg: referralMsg(q, "b.", "ns.b.")}
		case 2:
			return FetchResult{Msg: referralMsg(q, "a.b.", "ns.a.b.")}
		default:
			return FetchResult{Msg: answerMsg(q, "www.a.b.", "10.0.0.1")}
		}
	})

	cfg := testForwarderConfig()
	cfg.Forwarders = nil // empty ⇒ iterative mode
	c := newFakeCache()
	engine := NewQueryEngine(cfg, c, nsas, fetcher, nil)
	cb := newSyncCallback()
	question := dns.Question{Name: "www.a.b.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	engine.Resolve(question, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected success via delegation walk, got ok=%v answer=%+v", cb.ok, cb.answer)
	}
	if attempts := fetcher.attempts["www.a.b."]; attempts != 3 {
		t.Fatalf("expected two referral fetches then an answer fetch, got %d attempts", attempts)
	}
	if _, ok := c.Lookup(question); !ok {
		t.Fatal("expected the final answer to be cached")
	}
}

func TestResolveForwardingAnswer(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("example.com.", func(attempt int) FetchResult {
		q := new(dns.Msg)
		q.SetQuestion("example.com.", dns.TypeA)
		return FetchResult{Msg: answerMsg(q, "example.com.", "203.0.113.1")}
	})

	engine := NewQueryEngine(testForwarderConfig(), newFakeCache(), nil, fetcher, nil)

	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok {
		t.Fatal("expected success")
	}
	if cb.answer.Rcode != dns.RcodeSuccess || len(cb.answer.Answer) != 1 {
		t.Fatalf("unexpected answer: %+v", cb.answer)
	}
}

func TestResolveIterativeCNAMEChase(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("alias.example.com.", func(int) FetchResult {
		q := new(dns.Msg)
		q.SetQuestion("alias.example.com.", dns.TypeA)
		return FetchResult{Msg: cnameMsg(q, "alias.example.com.", "target.example.com.")}
	})
	fetcher.on("target.example.com.", func(int) FetchResult {
		q := new(dns.Msg)
		q.SetQuestion("target.example.com.", dns.TypeA)
		return FetchResult{Msg: answerMsg(q, "target.example.com.", "203.0.113.2")}
	})

	nsas := newFakeNSAS()
	nsas.on(".", func() NSASResult { return NSASResult{Address: netip.MustParseAddrPort("198.51.100.1:53")} })

	cfg := testForwarderConfig()
	cfg.Forwarders = nil // empty ⇒ iterative mode
	engine := NewQueryEngine(cfg, newFakeCache(), nsas, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "alias.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected success, got %+v ok=%v", cb.answer, cb.ok)
	}
	if len(cb.answer.Answer) != 2 {
		t.Fatalf("expected CNAME + A in answer, got %d records", len(cb.answer.Answer))
	}
}

func TestResolveRetriesBeforeSuccess(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("retry.example.com.", func(attempt int) FetchResult {
		if attempt < 2 {
			return FetchResult{TimedOut: true}
		}
		q := new(dns.Msg)
		q.SetQuestion("retry.example.com.", dns.TypeA)
		return FetchResult{Msg: answerMsg(q, "retry.example.com.", "203.0.113.3")}
	})

	engine := NewQueryEngine(testForwarderConfig(), newFakeCache(), nil, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "retry.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok {
		t.Fatal("expected eventual success after retry")
	}
}

func TestResolveExhaustsRetriesToServfail(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("gone.example.com.", func(int) FetchResult {
		return FetchResult{TimedOut: true}
	})

	cfg := testForwarderConfig()
	cfg.Retries = 1
	engine := NewQueryEngine(cfg, newFakeCache(), nil, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "gone.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never completed")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeServerFailure {
		t.Fatalf("expected SERVFAIL delivered via Success, got ok=%v answer=%+v", cb.ok, cb.answer)
	}
}

func TestLookupTimeoutFailsQuery(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("stuck.example.com.", func(int) FetchResult {
		time.Sleep(5 * time.Second) // outlives the test; the lookup timer must win
		return FetchResult{}
	})

	cfg := testForwarderConfig()
	cfg.LookupTimeout = 30 * time.Millisecond
	cfg.QueryTimeout = time.Hour
	cfg.Retries = 0
	engine := NewQueryEngine(cfg, newFakeCache(), nil, fetcher, nil)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: "stuck.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, cb)

	select {
	case <-cb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup timeout never fired")
	}
	if cb.ok {
		t.Fatal("expected Failure, got Success")
	}
}

func TestClientTimeoutDeliversServfailButCachesLateAnswer(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.on("slow.example.com.", func(int) FetchResult {
		time.Sleep(80 * time.Millisecond)
		q := new(dns.Msg)
		q.SetQuestion("slow.example.com.", dns.TypeA)
		return FetchResult{Msg: answerMsg(q, "slow.example.com.", "203.0.113.4")}
	})

	cfg := testForwarderConfig()
	cfg.ClientTimeout = 20 * time.Millisecond
	cfg.LookupTimeout = time.Second
	c := newFakeCache()
	engine := NewQueryEngine(cfg, c, nil, fetcher, nil)
	cb := newSyncCallback()
	question := dns.Question{Name: "slow.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	engine.Resolve(question, cb)

	select {
	case <-cb.done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("client timeout never fired")
	}
	if !cb.ok || cb.answer.Rcode != dns.RcodeServerFailure {
		t.Fatalf("expected early SERVFAIL, got ok=%v answer=%+v", cb.ok, cb.answer)
	}

	time.Sleep(150 * time.Millisecond)
	cached, ok := c.Lookup(question)
	if !ok {
		t.Fatal("expected late answer to populate cache after client timeout")
	}
	if cached.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected the real answer cached, got rcode=%v", cached.Rcode)
	}
}
