// Command genhints fetches the current IANA root hints and regenerates
// nsas/roothints.go from them.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"sort"
	"text/template"

	"github.com/miekg/dns"
)

const roothintsTemplate = `// Code generated by cmd/genhints. DO NOT EDIT.

package nsas

import "net/netip"

// Roots4 holds the IPv4 IANA root server addresses.
var Roots4 = []netip.Addr{
{{- range .Roots4}}
	netip.MustParseAddr("{{.}}"),
{{- end}}
}

// Roots6 holds the IPv6 IANA root server addresses.
var Roots6 = []netip.Addr{
{{- range .Roots6}}
	netip.MustParseAddr("{{.}}"),
{{- end}}
}
`

type roots struct {
	Roots4 []netip.Addr
	Roots6 []netip.Addr
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	resp, err := http.Get("https://www.internic.net/domain/named.root")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var r roots
	zp := dns.NewZoneParser(bytes.NewReader(body), "", "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		switch rr := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(rr.A); ok {
				if ip = ip.Unmap(); ip.Is4() {
					r.Roots4 = append(r.Roots4, ip)
				}
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(rr.AAAA); ok {
				r.Roots6 = append(r.Roots6, ip)
			}
		}
	}
	if err := zp.Err(); err != nil {
		return err
	}

	sort.Slice(r.Roots4, func(i, j int) bool { return r.Roots4[i].Less(r.Roots4[j]) })
	sort.Slice(r.Roots6, func(i, j int) bool { return r.Roots6[i].Less(r.Roots6[j]) })

	out := os.Stdout
	if len(os.Args) >= 2 {
		f, err := os.Create(os.Args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	t, err := template.New("roothints").Parse(roothintsTemplate)
	if err != nil {
		return err
	}
	return t.Execute(out, r)
}
