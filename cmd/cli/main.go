// Command resolvcore-cli resolves a single name from the command line,
// wiring together config, logging, metrics, and the resolution engine
// the same way a long-running resolver process would.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/miekg/dns"

	resolver "github.com/linkdata/resolvcore"
	"github.com/linkdata/resolvcore/cache"
	"github.com/linkdata/resolvcore/config"
	"github.com/linkdata/resolvcore/fetch"
	"github.com/linkdata/resolvcore/metrics"
	"github.com/linkdata/resolvcore/nsas"
	"github.com/linkdata/resolvcore/rlog"
)

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

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	qname := flag.String("name", "console.aws.amazon.com.", "question name to resolve")
	qtype := flag.String("type", "A", "question type")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := rlog.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := rlog.GetLogger()

	var hook metrics.ResolutionHook = metrics.NewNoopResolutionHook()
	if cfg.StatsdAddr != "" {
		if h, err := metrics.NewAsyncStatsdResolutionHook(cfg.StatsdAddr, 1.0); err == nil {
			hook = h
		} else {
			logger.Error(map[string]any{"error": err.Error()}, "failed to start statsd hook")
		}
	}

	dialer := &net.Dialer{}
	fetcher := fetch.New(dialer)
	store := nsas.New(dialer, fetcher)
	c := cache.New()
	if cfg.CachePersistPath != "" {
		if err := c.LoadFrom(cfg.CachePersistPath); err != nil {
			logger.Error(map[string]any{"error": err.Error()}, "failed to load cache snapshot")
		}
	}

	var forwarders []netip.AddrPort
	for _, f := range cfg.Forwarders {
		if addr, err := netip.ParseAddrPort(f); err == nil {
			forwarders = append(forwarders, addr)
		}
	}

	if len(forwarders) == 0 {
		store.OrderRoots(context.Background(), 500*time.Millisecond)
	}

	engine := resolver.NewQueryEngine(resolver.Config{
		Forwarders:    forwarders,
		QueryTimeout:  time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
		ClientTimeout: time.Duration(cfg.ClientTimeoutMs) * time.Millisecond,
		LookupTimeout: time.Duration(cfg.LookupTimeoutMs) * time.Millisecond,
		Retries:       cfg.Retries,
	}, c, store, fetcher, &rlogAdapter{logger})
	engine.Metrics = hook

	if cfg.BlocklistPath != "" {
		bl, err := loadBlocklist(cfg.BlocklistPath)
		if err != nil {
			logger.Error(map[string]any{"error": err.Error()}, "failed to load blocklist")
		} else {
			engine.Blocklist = bl
		}
	}

	if cfg.SentryDSN != "" {
		if client, err := raven.NewClient(cfg.SentryDSN, nil); err == nil {
			engine.Raven = client
		} else {
			logger.Error(map[string]any{"error": err.Error()}, "failed to start sentry client")
		}
	}

	qtypeCode, ok := dns.StringToType[*qtype]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown question type %q\n", *qtype)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	cb := newSyncCallback()
	engine.Resolve(dns.Question{Name: dns.Fqdn(*qname), Qtype: qtypeCode, Qclass: dns.ClassINET}, cb)
	go func() { <-cb.done; wg.Done() }()
	wg.Wait()

	if cfg.CachePersistPath != "" {
		if err := c.SaveTo(cfg.CachePersistPath); err != nil {
			logger.Error(map[string]any{"error": err.Error()}, "failed to save cache snapshot")
		}
	}

	if !cb.ok {
		fmt.Fprintln(os.Stderr, "resolution failed")
		os.Exit(1)
	}
	fmt.Println(cb.answer)
}

// loadBlocklist reads one domain name per line from path (blank lines and
// "#"-prefixed comments ignored) into a Bloom filter sized for the file.
func loadBlocklist(path string) (*resolver.Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, dns.Fqdn(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	bl := resolver.NewBlocklist(uint(len(names))+1, 0.01)
	for _, n := range names {
		bl.Add(n)
	}
	return bl, nil
}

// rlogAdapter satisfies resolver.Logger with an rlog.Logger.
type rlogAdapter struct {
	l rlog.Logger
}

func (a *rlogAdapter) Debug(fields map[string]any, msg string) { a.l.Debug(fields, msg) }
func (a *rlogAdapter) Error(fields map[string]any, msg string) { a.l.Error(fields, msg) }
