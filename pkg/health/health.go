// Package health serves liveness and readiness probes for long-running jobs.
//
// Every registered check is polled by its own goroutine. A check turns
// unhealthy after FailureThreshold consecutive failures and healthy again
// after SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports a problem with the checked component as an error.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Check describes a registered check. Zero thresholds default to 3 failures
// and 1 success; a zero timeout defaults to 5s.
type Check struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

// state is written by one polling goroutine and read by probe handlers.
type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the polling goroutine.
	fails int
	oks   int
}

func (s *state) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	s.lastErr.Store(&err)
	if err != nil {
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
		return
	}
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
	if p := s.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Prober owns the checks of a process and the manual readiness switch.
type Prober struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
}

// New returns a Prober that is not ready until SetReady(true).
func New() *Prober {
	return &Prober{}
}

// Register adds a check. Checks start out healthy.
func (p *Prober) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	p.mu.Lock()
	p.checks = append(p.checks, s)
	p.mu.Unlock()
}

// Start polls every check at interval until Stop or ctx is done.
func (p *Prober) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	checks := append([]*state(nil), p.checks...)
	p.mu.Unlock()

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

// Stop ends polling. It is safe to call more than once.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// SetReady flips the manual readiness switch, e.g. off during shutdown.
func (p *Prober) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Failures returns the failing checks of kind by name. An unready prober
// reports "_readiness" among the readiness failures.
func (p *Prober) Failures(kind Kind) map[string]string {
	p.mu.RLock()
	checks := append([]*state(nil), p.checks...)
	p.mu.RUnlock()

	failures := make(map[string]string)
	for _, s := range checks {
		if s.Kind != kind {
			continue
		}
		if msg, failed := s.failure(); failed {
			failures[s.Name] = msg
		}
	}
	if kind == Readiness && !p.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return failures
}

// Ready reports whether the readiness probe would pass.
func (p *Prober) Ready() bool {
	return len(p.Failures(Readiness)) == 0
}

// Mount registers /livez and /readyz on mux.
func (p *Prober) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, p.Failures(Liveness))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, p.Failures(Readiness))
	})
}

// writeStatus writes {"status":"ok"} or {"status":"unhealthy","checks":{...}}
// with 503.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	code := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		code = http.StatusServiceUnavailable
		e.Str("unhealthy")
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The status line is out; a write error only means the client went away.
	_, _ = w.Write(e.Bytes())
}
