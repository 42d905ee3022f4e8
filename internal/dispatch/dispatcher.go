// Package dispatch fans one probe out across many targets under a bounded
// worker pool and a two-level time budget. Every dispatched target produces
// exactly one result, and results come back in the order targets were given,
// so reports stay deterministic no matter how the run interleaved.
package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxConcurrency = 8
	DefaultGlobalTimeout  = 60 * time.Second
	DefaultTargetTimeout  = 10 * time.Second
)

// Options bound a dispatch run.
type Options struct {
	// MaxConcurrency caps how many targets are probed at once.
	MaxConcurrency int

	// GlobalTimeout bounds the whole run. Targets still waiting when it
	// passes are reported as timed out without being started.
	GlobalTimeout time.Duration

	// TargetTimeout bounds each target's run. A target's own Timeout
	// field overrides it.
	TargetTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.GlobalTimeout <= 0 {
		o.GlobalTimeout = DefaultGlobalTimeout
	}
	if o.TargetTimeout <= 0 {
		o.TargetTimeout = DefaultTargetTimeout
	}
	return o
}

// Dispatcher runs probes against target sets. It is stateless across runs
// and safe to reuse.
type Dispatcher struct {
	opts Options
}

// New creates a dispatcher. Zero option fields fall back to the defaults.
func New(opts Options) *Dispatcher {
	return &Dispatcher{opts: opts.withDefaults()}
}

// Dispatch runs the probe against every target and returns one result per
// target, in input order. It blocks until every target has a result; the
// global timeout bounds how long that can take. A slow probe run that
// ignores its context is abandoned at its deadline, its eventual result
// discarded in favor of the synthesized timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, p probe.Probe, targets []target.Target) []probe.Result {
	if len(targets) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.GlobalTimeout)
	defer cancel()

	start := time.Now()
	log.WithFields(log.Fields{
		"probe":       p.Kind(),
		"targets":     len(targets),
		"concurrency": d.opts.MaxConcurrency,
	}).Debug("dispatch started")

	type slot struct {
		idx int
		res *probe.Result
	}

	// Buffered to the full fan-out so no sender ever blocks: workers,
	// abandoned runs, and the launcher all complete regardless of
	// collection order.
	out := make(chan slot, len(targets))
	sem := make(chan struct{}, d.opts.MaxConcurrency)

	go func() {
		expired := false
		for i := range targets {
			t := &targets[i]
			if !expired {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					expired = true
				}
			}
			if expired {
				// The global budget is spent. Targets never
				// started are reported as timed out, never
				// silently dropped.
				out <- slot{i, probe.TimedOut(t, 0)}
				continue
			}
			go func(i int, t *target.Target) {
				defer func() { <-sem }()
				out <- slot{i, d.runOne(ctx, p, t)}
			}(i, t)
		}
	}()

	results := make([]probe.Result, len(targets))
	for range targets {
		s := <-out
		results[s.idx] = *s.res
		log.WithFields(log.Fields{
			"target":   s.res.Target,
			"outcome":  s.res.Outcome,
			"duration": s.res.Duration,
		}).Debug("target finished")
	}

	log.WithFields(log.Fields{
		"probe":   p.Kind(),
		"targets": len(targets),
		"elapsed": time.Since(start),
	}).Debug("dispatch complete")
	return results
}

// runOne executes the probe against a single target under its own deadline.
// Probe panics become internal failures so one bad target cannot take down
// the run.
func (d *Dispatcher) runOne(ctx context.Context, p probe.Probe, t *target.Target) *probe.Result {
	timeout := d.opts.TargetTimeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	// Buffered so an abandoned run can still deliver and exit.
	done := make(chan *probe.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probe.Failuref(t, probe.ErrInternal, "probe panicked: %v", r)
			}
		}()
		done <- p.Run(tctx, t)
	}()

	var res *probe.Result
	select {
	case res = <-done:
		if res == nil {
			res = probe.Failuref(t, probe.ErrInternal, "probe %s returned no result", p.Kind())
		}
	case <-tctx.Done():
		res = probe.TimedOut(t, time.Since(start))
	}

	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res
}
