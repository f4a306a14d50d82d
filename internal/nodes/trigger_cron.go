package nodes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/graph"
)

// timezoneSchedule wraps a cron.Schedule so cron.Next computes against the
// configured timezone rather than the process's local zone.
type timezoneSchedule struct {
	schedule cron.Schedule
	location *time.Location
}

func (ts *timezoneSchedule) Next(t time.Time) time.Time {
	return ts.schedule.Next(t.In(ts.location))
}

// CronTriggerNode is a triggers-category node (§4.9): its StartMonitoring
// registers a cron.Cron entry that spawns a fresh execution on every tick.
// It carries no workflow or execution state of its own — the Trigger
// Manager instantiates one per activation and discards it on deactivation.
type CronTriggerNode struct {
	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

func NewCronTriggerNode() engine.Node { return &CronTriggerNode{} }

func (n *CronTriggerNode) InputPorts() []graph.Port  { return nil }
func (n *CronTriggerNode) OutputPorts() []graph.Port { return []graph.Port{{Name: "output", Type: graph.PortUniversal}} }

func (n *CronTriggerNode) Execute(ctx context.Context, in *engine.NodeExecutionInput) (map[string]interface{}, error) {
	return nil, fmt.Errorf("cron trigger nodes are never auto-scheduled; they run via StartMonitoring")
}

func (n *CronTriggerNode) StartMonitoring(ctx context.Context, workflowID string, cfg map[string]interface{}, spawn engine.SpawnFunc) error {
	cronExpr, _ := cfg["schedule"].(string)
	if cronExpr == "" {
		return fmt.Errorf("cron trigger requires a schedule")
	}
	timezone, _ := cfg["timezone"].(string)
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	if !hasSixFields(cronExpr) {
		cronExpr = "0 " + cronExpr
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.cron = cron.New(cron.WithSeconds())
	tzSchedule := &timezoneSchedule{schedule: schedule, location: loc}
	n.entry = n.cron.Schedule(tzSchedule, cron.FuncJob(func() {
		if err := spawn(context.Background(), workflowID, map[string]interface{}{}, "cron"); err != nil {
			fmt.Printf("cron trigger: failed to spawn execution for workflow %s: %v\n", workflowID, err)
		}
	}))
	n.cron.Start()
	return nil
}

func (n *CronTriggerNode) StopMonitoring(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cron == nil {
		return nil
	}
	stopCtx := n.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	n.cron = nil
	return nil
}

// hasSixFields reports whether a cron expression already carries a seconds
// field, matching the teacher's field-counting heuristic for accepting
// both 5-field (no seconds) and 6-field cron strings.
func hasSixFields(expr string) bool {
	fields := 0
	inField := false
	for _, r := range expr {
		if r == ' ' {
			if inField {
				fields++
				inField = false
			}
		} else {
			inField = true
		}
	}
	if inField {
		fields++
	}
	return fields >= 6
}
