package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/quantbrief/alphapipe/internal/quarantine"
)

// Poller drives the quarantine retry loop. On each tick it asks the store
// for records whose backoff has elapsed and replays them through the
// orchestrator, oldest critical work first.
type Poller struct {
	orch     *Orchestrator
	store    *quarantine.Store
	interval time.Duration
	cron     *cronexpr.Expression
	logger   *log.Logger
}

// NewPoller builds a poller that fires on the given interval. If cronSpec is
// non-empty it takes precedence over the interval.
func NewPoller(orch *Orchestrator, store *quarantine.Store, interval time.Duration, cronSpec string, logger *log.Logger) (*Poller, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[POLL] ", log.LstdFlags)
	}
	p := &Poller{orch: orch, store: store, interval: interval, logger: logger}
	if cronSpec != "" {
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return nil, err
		}
		p.cron = expr
	}
	return p, nil
}

// Run blocks until ctx is cancelled, processing ready records on each tick.
func (p *Poller) Run(ctx context.Context) {
	for {
		wait := p.interval
		if p.cron != nil {
			wait = time.Until(p.cron.Next(time.Now()))
			if wait < time.Second {
				wait = time.Second
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		p.Tick(ctx)
	}
}

// Tick processes every record whose retry window has opened. Returns the
// number of records that resolved on this pass.
func (p *Poller) Tick(ctx context.Context) int {
	ready := p.store.ReadyForRetry()
	if len(ready) == 0 {
		return 0
	}
	p.logger.Printf("retrying %d quarantined record(s)", len(ready))
	resolved := 0
	for _, rec := range ready {
		if ctx.Err() != nil {
			return resolved
		}
		if p.orch.Retry(ctx, rec) {
			resolved++
		}
	}
	return resolved
}
