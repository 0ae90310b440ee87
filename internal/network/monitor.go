// Package network reports backend connectivity. The monitor is the single
// source of online/offline truth: every fetcher polls it before going to
// the network, and subscribers use offline-to-online transitions to kick a
// background resync.
package network

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vikings-osm-sync/internal/metrics"
)

// Prober answers "can we reach the backend right now".
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber probes by issuing a HEAD request to the backend's health
// endpoint. Any response, even an error status, proves reachability.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber creates a prober against baseURL.
func NewHTTPProber(baseURL string) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    baseURL + "/health",
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor caches probe results briefly so that the per-call IsOnline polls
// issued by every fetcher don't turn into a probe storm.
type Monitor struct {
	prober   Prober
	cacheFor time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	lastCheck time.Time
	checked   bool

	subMu   sync.Mutex
	subs    map[int]func(online bool)
	nextSub int
}

// NewMonitor creates a monitor. cacheFor bounds how stale a cached probe
// result may be before IsOnline re-probes.
func NewMonitor(prober Prober, cacheFor time.Duration) *Monitor {
	return &Monitor{
		prober:   prober,
		cacheFor: cacheFor,
		logger:   slog.Default(),
		subs:     make(map[int]func(bool)),
	}
}

// IsOnline reports current connectivity, re-probing when the cached result
// is stale.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	m.mu.Lock()
	if m.checked && time.Since(m.lastCheck) < m.cacheFor {
		online := m.online
		m.mu.Unlock()
		return online
	}
	m.mu.Unlock()

	return m.check(ctx)
}

// check probes and records the result, notifying subscribers on transition.
func (m *Monitor) check(ctx context.Context) bool {
	online := m.prober.Probe(ctx)

	m.mu.Lock()
	transitioned := m.checked && m.online != online
	m.online = online
	m.lastCheck = time.Now()
	m.checked = true
	m.mu.Unlock()

	if online {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}

	if transitioned {
		m.logger.Info("Connectivity changed", "online", online)
		m.notify(online)
	}
	return online
}

func (m *Monitor) notify(online bool) {
	m.subMu.Lock()
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers a transition listener, invoked with the new state on
// every online/offline change. Returns an id for Unsubscribe.
func (m *Monitor) Subscribe(fn func(online bool)) int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return id
}

// Unsubscribe removes a transition listener.
func (m *Monitor) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subs, id)
}

// Run polls connectivity until ctx is cancelled, so transitions are
// detected even when no fetcher is active.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}
