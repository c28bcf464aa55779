// Package classify categorizes a received DNS response against the
// question that was sent, per the fixed category table the resolution
// state machine drives off of.
package classify

import (
	"strings"

	"github.com/miekg/dns"
)

// Category is one of the fixed classification outcomes.
type Category int

const (
	// Success categories.
	ANSWER Category = iota
	ANSWERCNAME
	CNAME
	NXDOMAIN
	NXRRSET
	REFERRAL

	// Error categories.
	EMPTY
	EXTRADATA
	INVNAMCLASS
	INVTYPE
	MISMATQUEST
	MULTICLASS
	NOTONEQUEST
	NOTRESPONSE
	NOTSINGLE
	OPCODE
	RCODE
	TRUNCATED
)

func (c Category) String() string {
	switch c {
	case ANSWER:
		return "ANSWER"
	case ANSWERCNAME:
		return "ANSWERCNAME"
	case CNAME:
		return "CNAME"
	case NXDOMAIN:
		return "NXDOMAIN"
	case NXRRSET:
		return "NXRRSET"
	case REFERRAL:
		return "REFERRAL"
	case EMPTY:
		return "EMPTY"
	case EXTRADATA:
		return "EXTRADATA"
	case INVNAMCLASS:
		return "INVNAMCLASS"
	case INVTYPE:
		return "INVTYPE"
	case MISMATQUEST:
		return "MISMATQUEST"
	case MULTICLASS:
		return "MULTICLASS"
	case NOTONEQUEST:
		return "NOTONEQUEST"
	case NOTRESPONSE:
		return "NOTRESPONSE"
	case NOTSINGLE:
		return "NOTSINGLE"
	case OPCODE:
		return "OPCODE"
	case RCODE:
		return "RCODE"
	case TRUNCATED:
		return "TRUNCATED"
	default:
		return "UNKNOWN"
	}
}

// IsError reports whether c is one of the error categories, all of which
// are handled identically by the caller (SERVFAIL, terminal).
func (c Category) IsError() bool {
	return c >= EMPTY
}

// Classify categorizes incoming against question (spec §4.3). When the
// result is CNAME or ANSWERCNAME and followCNAMEs is true, *cnameTarget
// is set to the lowercased, fully-qualified CNAME target name.
func Classify(question dns.Question, incoming *dns.Msg, cnameTarget *string, cnameCount int, followCNAMEs bool) Category {
	if incoming == nil || !incoming.Response {
		return NOTRESPONSE
	}
	if incoming.Opcode != dns.OpcodeQuery {
		return OPCODE
	}
	if incoming.Truncated {
		return TRUNCATED
	}
	switch len(incoming.Question) {
	case 0:
		return EMPTY
	case 1:
	default:
		return NOTONEQUEST
	}

	iq := incoming.Question[0]
	if !strings.EqualFold(iq.Name, question.Name) {
		return MISMATQUEST
	}
	if iq.Qclass != question.Qclass {
		return INVNAMCLASS
	}
	if iq.Qtype != question.Qtype {
		return INVTYPE
	}

	for _, rr := range allRecords(incoming) {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		if rr.Header().Class != iq.Qclass {
			return MULTICLASS
		}
	}

	switch incoming.Rcode {
	case dns.RcodeServerFailure, dns.RcodeRefused, dns.RcodeFormatError, dns.RcodeNotImplemented:
		return RCODE
	case dns.RcodeNameError:
		return NXDOMAIN
	case dns.RcodeSuccess:
		// fall through to answer-section analysis
	default:
		return RCODE
	}

	if len(incoming.Answer) == 0 {
		if owner := firstNSOwner(incoming.Ns); owner != "" {
			return REFERRAL
		}
		return NXRRSET
	}

	if hasOwnerType(incoming.Answer, question.Name, question.Qtype) {
		if extraUnrelated(incoming.Answer, question.Name, question.Qtype, "") {
			return EXTRADATA
		}
		return ANSWER
	}

	if target, ok := firstCNAMETarget(incoming.Answer, question.Name); ok {
		if !followCNAMEs {
			return CNAME
		}
		if cnameTarget != nil {
			*cnameTarget = target
		}
		if hasOwnerType(incoming.Answer, target, question.Qtype) {
			if extraUnrelated(incoming.Answer, question.Name, question.Qtype, target) {
				return EXTRADATA
			}
			return ANSWERCNAME
		}
		return CNAME
	}

	return NOTSINGLE
}

func allRecords(m *dns.Msg) []dns.RR {
	out := make([]dns.RR, 0, len(m.Answer)+len(m.Ns)+len(m.Extra))
	out = append(out, m.Answer...)
	out = append(out, m.Ns...)
	out = append(out, m.Extra...)
	return out
}

func firstNSOwner(ns []dns.RR) string {
	for _, rr := range ns {
		if _, ok := rr.(*dns.NS); ok {
			return rr.Header().Name
		}
	}
	return ""
}

func hasOwnerType(rrs []dns.RR, owner string, qtype uint16) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == qtype && strings.EqualFold(rr.Header().Name, owner) {
			return true
		}
	}
	return false
}

func firstCNAMETarget(rrs []dns.RR, owner string) (string, bool) {
	for _, rr := range rrs {
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, owner) {
			return dns.Fqdn(strings.ToLower(c.Target)), true
		}
	}
	return "", false
}

// extraUnrelated reports whether the answer section contains records that
// belong to neither owner, target, nor the matched rrtype at owner/target
// — i.e. data the resolver did not ask for.
func extraUnrelated(rrs []dns.RR, owner string, qtype uint16, target string) bool {
	for _, rr := range rrs {
		h := rr.Header()
		switch {
		case strings.EqualFold(h.Name, owner) && (h.Rrtype == qtype || h.Rrtype == dns.TypeCNAME):
			continue
		case target != "" && strings.EqualFold(h.Name, target) && (h.Rrtype == qtype || h.Rrtype == dns.TypeCNAME):
			continue
		default:
			return true
		}
	}
	return false
}
