package fetch

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// maybeDisableUDP detects platform-level "UDP sockets not supported"
// errors and latches useUDP off, so subsequent Fetch calls fail fast
// instead of retrying a doomed syscall.
func (f *Fetcher) maybeDisableUDP(err error) (disabled bool) {
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		errstr := err.Error()
		if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPROTONOSUPPORT) ||
			strings.Contains(errstr, "network not implemented") {
			f.mu.Lock()
			defer f.mu.Unlock()
			disabled = f.useUDP
			f.useUDP = false
		}
	}
	return
}
