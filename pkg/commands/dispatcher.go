package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/comigor/notarobot/internal/config"
	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/internal/metrics"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"
)

const (
	MsgUnknownCommand = "Not a viable command. Type '/help' to see a list of commands."
	MsgRateLimited    = "Slow down, I can only think so fast."
	MsgCommandError   = "There is something wrong here. Ask the mighty developer to check the logs."
)

// Dispatcher looks up and runs commands on behalf of a transport. It always
// returns text fit for the user.
type Dispatcher struct {
	registry *Registry
	limits   *limiterPool
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. Rate limiting is off when limits.RPS <= 0.
func NewDispatcher(registry *Registry, limits config.LimitsConfig, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{registry: registry, metrics: m}
	if limits.RPS > 0 {
		d.limits = &limiterPool{rps: limits.RPS, burst: limits.Burst}
	}
	return d
}

// Registry returns the registry commands are looked up in.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs the named command for inv.Author.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, inv Invocation) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	log := logger.L.With("command", name, "author", inv.Author)
	log.Info("command invoked", "args", len(inv.Args))

	cmd, err := d.registry.Get(name)
	if err != nil {
		log.Warn("unknown command")
		d.metrics.Command(name, "unknown")
		return MsgUnknownCommand
	}

	if d.limits != nil && !d.limits.Allow(inv.Author) {
		log.Warn("command rate limited")
		d.metrics.Command(name, "limited")
		return MsgRateLimited
	}

	var (
		out    string
		runErr error
		pc     panics.Catcher
	)
	pc.Try(func() { out, runErr = cmd.Run(ctx, inv) })
	if r := pc.Recovered(); r != nil {
		runErr = fmt.Errorf("command panicked: %w", r.AsError())
	}
	if runErr != nil {
		log.Error("command failed", "error", runErr)
		d.metrics.Command(name, "error")
		return MsgCommandError
	}

	d.metrics.Command(name, "ok")
	return out
}

// limiterPool hands out one token bucket per author. Buckets are never
// evicted; the map grows with the number of distinct authors seen since start.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	burst := p.burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(p.rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
