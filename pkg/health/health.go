// Package health serves liveness and readiness probes.
//
// Every check is polled in the background. A check turns unhealthy only
// after FailureThreshold consecutive failures and recovers after
// SuccessThreshold consecutive successes, so a single slow ping never flips
// a probe.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports a problem with a dependency, or nil.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// Check describes a polled dependency check.
type Check struct {
	Name    string
	Probe   Probe
	Timeout time.Duration
	Func    CheckFunc
	// Defaults: 3 failures, 1 success.
	FailureThreshold int
	SuccessThreshold int
}

type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Only touched by the polling goroutine.
	fails, oks int
}

func (s *state) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if err := s.Func(ctx); err != nil {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
		return
	}
	s.lastErr.Store(nil)
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.healthy.Store(true)
	}
}

func (s *state) failure() (string, bool) {
	if s.healthy.Load() {
		return "", false
	}
	if msg := s.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Health aggregates checks. It starts not ready; call SetReady once the
// service can take traffic.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	checks []*state
	cancel context.CancelFunc
}

// New returns an empty Health.
func New() *Health {
	return &Health{}
}

// Add registers c. Checks start healthy.
func (h *Health) Add(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, s)
}

// Start polls every check at interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, s := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			s.poll(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.poll(ctx)
				}
			}
		}()
	}
}

// Stop ends polling. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch, used at startup and while
// draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) failures(p Probe) map[string]string {
	h.mu.Lock()
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	out := map[string]string{}
	for _, s := range checks {
		if s.Probe != p {
			continue
		}
		if msg, failed := s.failure(); failed {
			out[s.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
