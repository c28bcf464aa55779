package classify

import (
	"testing"

	"github.com/miekg/dns"
)

func question(name string, qtype uint16) dns.Question {
	return dns.Question{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}
}

func TestClassifyAnswer(t *testing.T) {
	q := question("example.com.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(&dns.Msg{Question: []dns.Question{q}})
	resp.Answer = []dns.RR{mustRR(t, "example.com. 300 IN A 93.184.216.34")}

	if got := Classify(q, resp, nil, 0, true); got != ANSWER {
		t.Fatalf("got %v, want ANSWER", got)
	}
}

func TestClassifyCNAMEChase(t *testing.T) {
	q := question("alias.test.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(&dns.Msg{Question: []dns.Question{q}})
	resp.Answer = []dns.RR{mustRR(t, "alias.test. 300 IN CNAME real.test.")}

	var target string
	got := Classify(q, resp, &target, 0, true)
	if got != CNAME {
		t.Fatalf("got %v, want CNAME", got)
	}
	if target != "real.test." {
		t.Fatalf("target = %q, want real.test.", target)
	}
}

func TestClassifyAnswerCNAME(t *testing.T) {
	q := question("alias.test.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(&dns.Msg{Question: []dns.Question{q}})
	resp.Answer = []dns.RR{
		mustRR(t, "alias.test. 300 IN CNAME real.test."),
		mustRR(t, "real.test. 300 IN A 10.0.0.2"),
	}

	var target string
	if got := Classify(q, resp, &target, 0, true); got != ANSWERCNAME {
		t.Fatalf("got %v, want ANSWERCNAME", got)
	}
}

func TestClassifyReferral(t *testing.T) {
	q := question("www.a.b.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(&dns.Msg{Question: []dns.Question{q}})
	resp.Ns = []dns.RR{mustRR(t, "b. 300 IN NS ns1.b.")}

	if got := Classify(q, resp, nil, 0, true); got != REFERRAL {
		t.Fatalf("got %v, want REFERRAL", got)
	}
}

func TestClassifyNXDOMAIN(t *testing.T) {
	q := question("nope.test.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(&dns.Msg{Question: []dns.Question{q}})
	resp.Rcode = dns.RcodeNameError

	if got := Classify(q, resp, nil, 0, true); got != NXDOMAIN {
		t.Fatalf("got %v, want NXDOMAIN", got)
	}
}

func TestClassifyErrorCategories(t *testing.T) {
	q := question("x.test.", dns.TypeA)

	notResponse := new(dns.Msg)
	notResponse.SetQuestion(q.Name, q.Qtype)
	if got := Classify(q, notResponse, nil, 0, true); got != NOTRESPONSE {
		t.Fatalf("got %v, want NOTRESPONSE", got)
	}

	truncated := new(dns.Msg)
	truncated.SetReply(&dns.Msg{Question: []dns.Question{q}})
	truncated.Truncated = true
	if got := Classify(q, truncated, nil, 0, true); got != TRUNCATED {
		t.Fatalf("got %v, want TRUNCATED", got)
	}

	mismatched := new(dns.Msg)
	mismatched.SetReply(&dns.Msg{Question: []dns.Question{question("other.test.", dns.TypeA)}})
	if got := Classify(q, mismatched, nil, 0, true); got != MISMATQUEST {
		t.Fatalf("got %v, want MISMATQUEST", got)
	}
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}
