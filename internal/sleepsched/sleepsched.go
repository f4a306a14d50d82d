// Package sleepsched wakes executions suspended by a delay node (§4.10's
// await/resume contract generalized to "sleep", SPEC_FULL Part D). It is
// the in-process analogue of the teacher's SchedulerService.pollSleepSchedules
// ticker: poll on an interval, find everything due, resume it, move on.
package sleepsched

import (
	"context"
	"log"
	"time"

	"github.com/patali/fluxgraph/internal/engine"
)

// Resumer is the subset of Orchestrator the poller needs.
type Resumer interface {
	DueSleepWakeups(now time.Time) []engine.SleepWakeup
	Resume(ctx context.Context, executionID, interactionID, action string, form map[string]interface{}) error
}

// Poller periodically scans for due sleep wake-ups and resumes them.
type Poller struct {
	Orchestrator Resumer
	Interval     time.Duration
}

func NewPoller(orchestrator Resumer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{Orchestrator: orchestrator, Interval: interval}
}

// Run blocks, polling until ctx is cancelled. Intended to be launched in
// its own goroutine alongside the Trigger Manager at process startup.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	due := p.Orchestrator.DueSleepWakeups(time.Now().UTC())
	for _, wakeup := range due {
		if err := p.Orchestrator.Resume(ctx, wakeup.ExecutionID, wakeup.InteractionID, "wake", nil); err != nil {
			log.Printf("sleepsched: failed to wake execution=%s interaction=%s: %v", wakeup.ExecutionID, wakeup.InteractionID, err)
		}
	}
}
