// Package transport builds the outbound HTTP client shared by platform clients.
package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every platform request.
const DefaultTimeout = 30 * time.Second

// Options configures NewClient.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces outbound requests per host. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// IdleTTL drops per-host limiters that have not been used for this long.
	IdleTTL time.Duration
}

// NewClient returns a pooled client with an explicit timeout and optional pacing.
func NewClient(opts Options) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = opts.Timeout
	if client.Timeout <= 0 {
		client.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond > 0 {
		client.Transport = NewPacer(client.Transport, opts.RequestsPerSecond, opts.Burst, opts.IdleTTL)
	}
	return client
}

// Pacer is a RoundTripper that waits on a token bucket per request host.
type Pacer struct {
	next  http.RoundTripper
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// NewPacer wraps next. A burst below one defaults to the per-second rate.
func NewPacer(next http.RoundTripper, rps float64, burst int, ttl time.Duration) *Pacer {
	if next == nil {
		next = http.DefaultTransport
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Pacer{
		next:  next,
		limit: rate.Limit(rps),
		burst: burst,
		ttl:   ttl,
		hosts: make(map[string]*hostEntry),
	}
}

// RoundTrip blocks until the host's limiter admits the request or the request
// context is done.
func (p *Pacer) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := p.limiter(hostKey(req)).Wait(req.Context()); err != nil {
		return nil, err
	}
	return p.next.RoundTrip(req)
}

func (p *Pacer) limiter(key string) *rate.Limiter {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for host, entry := range p.hosts {
		if host != key && now.Sub(entry.last) > p.ttl {
			delete(p.hosts, host)
		}
	}
	entry, ok := p.hosts[key]
	if !ok {
		entry = &hostEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.hosts[key] = entry
	}
	entry.last = now
	return entry.limiter
}

func hostKey(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return strings.ToLower(req.URL.Host)
}
