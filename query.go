package resolver

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/linkdata/resolvcore/classify"
)

// queryEvent is the sum type flowing through a runningQuery's single
// events channel; every asynchronous collaborator (timer, NSAS, fetch)
// has a small non-owning adapter goroutine that translates its own
// channel into one of these and forwards it here, so all state mutation
// happens on the runningQuery's own goroutine (spec §5).
type queryEvent any

type fetchEvent struct{ res FetchResult }
type nsasEvent struct{ res NSASResult }
type lookupTimerFiredEvent struct{}
type clientTimerFiredEvent struct{}

// runningQuery is the per-question state machine (spec §3, §4.2).
type runningQuery struct {
	engine *QueryEngine
	cb     Callback

	original dns.Question // the question resolve() was called with; the cache key for the accumulated answer (spec §9 open question)
	question dns.Question // current question; rebound on each CNAME hop
	answer   *dns.Msg      // accumulating AnswerMessage
	zone     string        // current zone cut, "." initially

	cnameCount       int
	retriesRemaining int
	queriesOut       int

	nsasOutstanding bool
	nsasHandle      NSASHandle

	done            bool // stop() has run at least once
	answerSent      bool // caller has received its one callback
	lookupTimerLive bool
	clientTimerLive bool

	sentAddr netip.AddrPort
	sentAt   time.Time

	events chan queryEvent

	lookupTimer *queryTimer
	clientTimer *queryTimer
}

func newRunningQuery(e *QueryEngine, question dns.Question, answer *dns.Msg, cb Callback) *runningQuery {
	return &runningQuery{
		engine:           e,
		cb:               cb,
		original:         question,
		question:         question,
		answer:           answer,
		zone:             ".",
		retriesRemaining: e.Config.Retries,
		events:           make(chan queryEvent, 4),
	}
}

func (rq *runningQuery) iterative() bool {
	return len(rq.engine.Config.Forwarders) == 0
}

// start arms both deadlines (if enabled) and launches the query's own
// goroutine (spec §4.2 "Initial transition on construction").
func (rq *runningQuery) start() {
	if rq.engine.Config.LookupTimeout >= 0 {
		rq.lookupTimerLive = true
		rq.lookupTimer = armTimer(rq.engine.Config.LookupTimeout, func() {
			rq.events <- lookupTimerFiredEvent{}
		})
	}
	if rq.engine.Config.ClientTimeout >= 0 {
		rq.clientTimerLive = true
		rq.clientTimer = armTimer(rq.engine.Config.ClientTimeout, func() {
			rq.events <- clientTimerFiredEvent{}
		})
	}
	go rq.run()
}

func (rq *runningQuery) run() {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("running query panic: %v", r)
			rq.engine.Log.Error(map[string]any{"question": rq.original.Name, "error": err.Error()}, "running query panicked")
			rq.engine.captureError(err, map[string]string{"question": rq.original.Name, "zone": rq.zone})
			rq.stop(false)
		}
	}()
	rq.doLookup()
	for !rq.isTerminal() {
		rq.dispatch(<-rq.events)
	}
}

// isTerminal reports whether every resource this query could hold has
// been released (spec §3 lifecycle, invariant 2).
func (rq *runningQuery) isTerminal() bool {
	return rq.done && !rq.lookupTimerLive && !rq.clientTimerLive && rq.queriesOut == 0 && !rq.nsasOutstanding
}

func (rq *runningQuery) dispatch(ev queryEvent) {
	switch e := ev.(type) {
	case fetchEvent:
		rq.handleFetch(e.res)
	case nsasEvent:
		rq.handleNSAS(e.res)
	case lookupTimerFiredEvent:
		rq.handleLookupTimerFired()
	case clientTimerFiredEvent:
		rq.handleClientTimerFired()
	}
}

// doLookup is the lookup step (spec §4.2.1): probe the cache, and on miss
// reset the zone cut and send.
func (rq *runningQuery) doLookup() {
	if msg, ok := rq.engine.Cache.Lookup(rq.question); ok {
		if rq.processResponse(msg) {
			rq.stop(true)
		}
		return
	}
	rq.zone = "."
	rq.send()
}

// send is the send step (spec §4.2.2): forward to a random upstream, or
// ask NSAS for a nameserver address in the current zone.
func (rq *runningQuery) send() {
	if !rq.iterative() {
		rq.dispatchFetch(rq.engine.pickForwarder())
		return
	}
	handle, ch := rq.engine.NSAS.Lookup(rq.zone, rq.question.Qclass)
	rq.nsasHandle = handle
	rq.nsasOutstanding = true
	go rq.forwardNSAS(ch)
}

func (rq *runningQuery) dispatchFetch(addr netip.AddrPort) {
	rq.sentAddr = addr
	rq.sentAt = time.Now()
	rq.queriesOut++
	ch := rq.engine.Fetch.Fetch(rq.buildQuery(), addr, rq.engine.Config.QueryTimeout.Milliseconds())
	go rq.forwardFetch(ch)
}

func (rq *runningQuery) buildQuery() *dns.Msg {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.Question = []dns.Question{rq.question}
	m.RecursionDesired = !rq.iterative()
	return m
}

func (rq *runningQuery) forwardFetch(ch <-chan FetchResult) {
	res := <-ch
	rq.events <- fetchEvent{res}
}

func (rq *runningQuery) forwardNSAS(ch <-chan NSASResult) {
	if res, ok := <-ch; ok {
		rq.events <- nsasEvent{res}
	}
	// !ok means Cancel closed the channel before delivery; nothing to forward.
}

// handleNSAS implements the NSAS outcomes (spec §4.2.3).
func (rq *runningQuery) handleNSAS(res NSASResult) {
	rq.nsasOutstanding = false
	if res.Unreachable {
		setServfail(rq.answer, rq.original)
		rq.stop(false)
		return
	}
	rq.dispatchFetch(res.Address)
}

// handleFetch implements UDP response handling (spec §4.2.4).
func (rq *runningQuery) handleFetch(res FetchResult) {
	rq.queriesOut--
	if res.Err != nil && !res.TimedOut {
		rq.engine.captureError(res.Err, map[string]string{"question": rq.question.Name, "zone": rq.zone})
	}

	switch {
	case !rq.done && !res.TimedOut && res.Err == nil:
		rtt := rttMillis(rq.sentAt)
		rq.engine.Metrics.EmitRTT(time.Since(rq.sentAt), rq.sentAddr)
		if rq.iterative() {
			rq.engine.NSAS.UpdateRTT(rq.zone, rq.question.Qclass, rq.sentAddr, rtt)
		}
		var final bool
		if rq.iterative() && res.Msg != nil && res.Msg.Rcode == dns.RcodeSuccess {
			final = rq.processResponse(res.Msg)
		} else if res.Msg != nil {
			copyTerminal(rq.answer, res.Msg)
			final = true
		} else {
			setServfail(rq.answer, rq.original)
			final = true
		}
		if final {
			rq.stop(true)
		}

	case !rq.done && (res.TimedOut || res.Err != nil) && rq.retriesRemaining > 0:
		rq.retriesRemaining--
		rq.engine.Metrics.EmitRetry(rq.zone)
		if rq.iterative() {
			rq.engine.NSAS.UpdateRTT(rq.zone, rq.question.Qclass, rq.sentAddr, UnreachableRTT)
		}
		rq.send()

	default:
		rq.engine.Metrics.EmitUnreachable(rq.sentAddr)
		if rq.iterative() {
			rq.engine.NSAS.UpdateRTT(rq.zone, rq.question.Qclass, rq.sentAddr, UnreachableRTT)
		}
		if !rq.answerSent {
			setServfail(rq.answer, rq.original)
		}
		rq.stop(!rq.answerSent)
	}
}

// processResponse implements the classification/recursion table (spec
// §4.3). Returns true when the AnswerMessage is now final.
func (rq *runningQuery) processResponse(resp *dns.Msg) (final bool) {
	var cnameTarget string
	switch classify.Classify(rq.question, resp, &cnameTarget, rq.cnameCount, true) {
	case classify.ANSWER, classify.ANSWERCNAME:
		rq.engine.Cache.Insert(resp)
		copyTerminal(rq.answer, resp)
		return true

	case classify.CNAME:
		rq.engine.Cache.Insert(resp)
		if rq.cnameCount >= MaxCNAMEChain {
			setServfail(rq.answer, rq.original)
			return true
		}
		rq.cnameCount++
		appendAnswerSection(rq.answer, resp.Answer)
		rq.question = dns.Question{Name: cnameTarget, Qtype: rq.question.Qtype, Qclass: rq.question.Qclass}
		rq.doLookup()
		return false

	case classify.NXDOMAIN, classify.NXRRSET:
		copyTerminal(rq.answer, resp)
		return true

	case classify.REFERRAL:
		rq.engine.Cache.Insert(resp)
		if owner, ok := firstNSOwner(resp); ok {
			rq.zone = owner
			rq.send()
			return false
		}
		copyTerminal(rq.answer, resp)
		return true

	default: // any error category
		setServfail(rq.answer, rq.original)
		return true
	}
}

// handleLookupTimerFired implements the lookup timer (spec §4.4).
func (rq *runningQuery) handleLookupTimerFired() {
	rq.lookupTimerLive = false
	rq.stop(false)
}

// handleClientTimerFired implements the client timer (spec §4.4): it
// bounds the caller's wait without stopping the query.
func (rq *runningQuery) handleClientTimerFired() {
	rq.clientTimerLive = false
	if !rq.answerSent {
		setServfail(rq.answer, rq.original)
		rq.answerSent = true
		rq.engine.Metrics.EmitServfail(rq.original.Qtype)
		rq.cb.Success(rq.answer)
	}
}

// stop is the single exit path (spec §4.5). It is safe to call more than
// once; every call after the first only attempts to release whatever
// resources are still outstanding. Go's synchronous timer.Stop (spec §9)
// lets every cascade step run in one pass instead of BIND10's
// cancel-races-with-fire re-entry sequence.
func (rq *runningQuery) stop(resume bool) {
	if !rq.done {
		rq.done = true
		if resume {
			rq.engine.Cache.Insert(rq.answer)
		}
		if !rq.answerSent {
			rq.answerSent = true
			if resume {
				if rq.answer.Rcode == dns.RcodeServerFailure {
					rq.engine.Metrics.EmitServfail(rq.original.Qtype)
				} else {
					rq.engine.Metrics.EmitAnswer(rq.original.Qtype, rq.answer.Rcode)
				}
				rq.cb.Success(rq.answer)
			} else {
				rq.engine.Metrics.EmitServfail(rq.original.Qtype)
				rq.cb.Failure()
			}
		}
	}

	if rq.lookupTimerLive && rq.lookupTimer.stop() {
		rq.lookupTimerLive = false
	}
	if rq.clientTimerLive && rq.clientTimer.stop() {
		rq.clientTimerLive = false
	}
	if rq.nsasOutstanding {
		rq.engine.NSAS.Cancel(rq.nsasHandle)
		rq.nsasOutstanding = false
	}
	// queriesOut cannot be cancelled (spec §5); it drains on its own via
	// handleFetch, which re-enters here through the default case above.
}

func rttMillis(sentAt time.Time) int64 {
	d := time.Since(sentAt)
	if d <= 0 {
		return 1
	}
	return d.Milliseconds()
}

func firstNSOwner(resp *dns.Msg) (string, bool) {
	for _, rr := range resp.Ns {
		if ns, ok := rr.(*dns.NS); ok {
			return ns.Hdr.Name, true
		}
	}
	return "", false
}
