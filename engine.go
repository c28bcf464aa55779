// Package resolver implements the execution core of an iterative/
// forwarding DNS resolver: the per-query state machine that drives a
// single in-flight question through cache lookup, upstream selection,
// nameserver address resolution, UDP exchange, response classification,
// delegation/CNAME following, retry, and the client/lookup deadlines.
package resolver

import (
	"math/rand"
	"net/netip"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/miekg/dns"

	"github.com/linkdata/resolvcore/metrics"
)

// MaxCNAMEChain bounds the number of CNAME hops a query follows
// (spec §6 Constants).
const MaxCNAMEChain = 16

// DefaultDNSPort is the well-known port DNS is served on (spec §6).
const DefaultDNSPort = 53

// Callback receives the single completion signal for a resolved question
// (spec §4.1, invariant 1).
type Callback interface {
	Success(answer *dns.Msg)
	Failure()
}

// CallbackFunc adapts a pair of plain functions to Callback.
type CallbackFunc struct {
	OnSuccess func(*dns.Msg)
	OnFailure func()
}

func (f CallbackFunc) Success(answer *dns.Msg) {
	if f.OnSuccess != nil {
		f.OnSuccess(answer)
	}
}

func (f CallbackFunc) Failure() {
	if f.OnFailure != nil {
		f.OnFailure()
	}
}

// Config holds the per-engine tunables a RunningQuery is constructed
// with (spec §6).
type Config struct {
	Forwarders    []netip.AddrPort // empty ⇒ iterative mode
	QueryTimeout  time.Duration
	ClientTimeout time.Duration // <0 disables
	LookupTimeout time.Duration // <0 disables
	Retries       int
}

// QueryEngine is the factory that accepts a new question and either
// answers it from cache or constructs a RunningQuery (spec §4.1).
type QueryEngine struct {
	Config Config
	Cache     Cache
	NSAS      NSAS
	Fetch     UdpFetcher
	Log       Logger
	Raven     *raven.Client // optional; nil disables error capture
	Metrics   metrics.ResolutionHook
	Blocklist *Blocklist // optional; nil disables blocklist pre-filtering

	rand *rand.Rand
}

// Logger is the minimal structured-logging surface the engine needs;
// satisfied by resolvcore/rlog.Logger and by NopLogger for tests.
type Logger interface {
	Debug(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(map[string]any, string) {}
func (NopLogger) Error(map[string]any, string) {}

// NewQueryEngine constructs an engine from its collaborators. Log
// defaults to NopLogger when nil.
func NewQueryEngine(cfg Config, cache Cache, nsas NSAS, fetcher UdpFetcher, log Logger) *QueryEngine {
	if log == nil {
		log = NopLogger{}
	}
	return &QueryEngine{
		Config:  cfg,
		Cache:   cache,
		NSAS:    nsas,
		Fetch:   fetcher,
		Log:     log,
		Metrics: metrics.NewNoopResolutionHook(),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve implements the QueryEngine.resolve contract (spec §4.1): exactly
// one of callback.Success or callback.Failure is eventually invoked. The
// callback may be invoked synchronously (on this call's goroutine) only in
// the blocklist and cache-hit paths; the iterative/forwarding path always
// invokes it from the query's own goroutine.
func (e *QueryEngine) Resolve(question dns.Question, cb Callback) {
	answer := newAnswer(question)

	if e.Blocklist != nil && e.Blocklist.Blocked(question.Name) {
		answer.Rcode = dns.RcodeNameError
		cb.Success(answer)
		return
	}

	if msg, ok := e.Cache.Lookup(question); ok && len(msg.Answer) > 0 {
		e.Metrics.EmitCacheHit(question.Qtype)
		answer.Rcode = dns.RcodeSuccess
		copyTerminal(answer, msg)
		cb.Success(answer)
		return
	}
	if rrs, ok := e.Cache.LookupRRset(question); ok && len(rrs) > 0 {
		e.Metrics.EmitCacheHit(question.Qtype)
		answer.Rcode = dns.RcodeSuccess
		appendAnswerSection(answer, rrs)
		cb.Success(answer)
		return
	}

	e.Metrics.EmitCacheMiss(question.Qtype)
	rq := newRunningQuery(e, question, answer, cb)
	rq.start()
}

func (e *QueryEngine) captureError(err error, tags map[string]string) {
	if e.Raven == nil || err == nil {
		return
	}
	e.Raven.CaptureError(err, tags)
}

func (e *QueryEngine) pickForwarder() netip.AddrPort {
	forwarders := e.Config.Forwarders
	return forwarders[e.rand.Intn(len(forwarders))]
}
