// Package connectivity tracks the online/offline state of the device.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/draftpad/internal/logging"
)

// Handler receives connectivity edge notifications.
type Handler func(online bool)

// Monitor wraps the platform's online/offline signal. It exposes the
// current boolean state and notifies subscribers on each transition.
// State changes arrive either from an external feed (SetOnline) or from
// the optional probe loop.
type Monitor struct {
	mu       sync.RWMutex
	online   bool
	handlers []Handler
}

// NewMonitor creates a Monitor. The initial state is assumed online.
func NewMonitor() *Monitor {
	return &Monitor{online: true}
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a handler invoked on every online/offline edge.
// Handlers run synchronously on the goroutine reporting the transition.
func (m *Monitor) Subscribe(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetOnline feeds the platform connectivity signal. Repeated reports of
// the same state raise no events.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})

	for _, handler := range handlers {
		handler(online)
	}
}

// Probe periodically checks reachability of probeURL and feeds the result
// into SetOnline, until ctx is cancelled. Any HTTP response counts as
// reachable; only transport errors count as offline.
func (m *Monitor) Probe(ctx context.Context, probeURL string, interval time.Duration) {
	client := &http.Client{Timeout: 5 * time.Second}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
			if err != nil {
				logging.Warn("Invalid probe URL", map[string]interface{}{"url": probeURL})
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				m.SetOnline(false)
				continue
			}
			resp.Body.Close()
			m.SetOnline(true)
		}
	}
}
