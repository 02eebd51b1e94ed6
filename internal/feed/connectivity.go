package feed

import (
	"context"
	"net"
	"net/url"
	"time"
)

// Prober answers the connectivity question asked at failure time: is the
// network reachable at all? The answer picks between the "offline" and
// "error" fallback reasons.
type Prober interface {
	Online(ctx context.Context) bool
}

// DialProber probes connectivity with a TCP dial against the origin.
type DialProber struct {
	addr    string
	timeout time.Duration
}

// NewDialProber builds a prober for the given origin URL, defaulting the port
// from the scheme.
func NewDialProber(originURL string) (*DialProber, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	return &DialProber{addr: host, timeout: 3 * time.Second}, nil
}

// Online dials the origin once; any successful connection counts as online.
func (p *DialProber) Online(ctx context.Context) bool {
	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// StaticProber always reports the configured answer. Used by tests.
type StaticProber bool

// Online implements Prober.
func (p StaticProber) Online(context.Context) bool {
	return bool(p)
}
