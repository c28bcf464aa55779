package resolver

import "github.com/miekg/dns"

// newAnswer builds the empty AnswerMessage for q, a QUERY response
// echoing the question (spec §3).
func newAnswer(q dns.Question) *dns.Msg {
	m := new(dns.Msg)
	m.Question = []dns.Question{q}
	m.Response = true
	m.Opcode = dns.OpcodeQuery
	m.Rcode = dns.RcodeSuccess
	return m
}

// setServfail clears ANSWER/AUTHORITY/ADDITIONAL and sets RCODE=SERVFAIL,
// preserving the echoed question (spec §7).
func setServfail(m *dns.Msg, original dns.Question) *dns.Msg {
	if m == nil {
		m = newAnswer(original)
	}
	m.Answer = nil
	m.Ns = nil
	m.Extra = nil
	m.Rcode = dns.RcodeServerFailure
	return m
}

// appendAnswerSection appends rrs to m's ANSWER section, used when a
// CNAME hop's answer is folded into the accumulating AnswerMessage
// (spec §4.3, CNAME row).
func appendAnswerSection(m *dns.Msg, rrs []dns.RR) {
	m.Answer = append(m.Answer, rrs...)
}

// copyTerminal copies resp's ANSWER/AUTHORITY/ADDITIONAL and RCODE into m,
// used for the ANSWER/ANSWERCNAME/NXDOMAIN/NXRRSET/error terminal cases.
func copyTerminal(m *dns.Msg, resp *dns.Msg) {
	m.Answer = append(m.Answer, resp.Answer...)
	m.Ns = resp.Ns
	m.Extra = resp.Extra
	m.Rcode = resp.Rcode
}
