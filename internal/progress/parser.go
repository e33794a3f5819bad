package progress

import (
	"strings"

	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

// Snapshot is the parser's view of pipeline state at one point in the log.
type Snapshot struct {
	Status         string
	Percent        int
	CurrentStep    *string
	CompletedSteps []string
}

// LogParser turns the driver's step lifecycle markers into progress
// snapshots as lines arrive. It keeps the minimal state needed to attribute
// a completion marker to the step that opened it.
type LogParser struct {
	status      string
	percent     int
	currentStep string
	completed   []string
}

func NewLogParser() *LogParser {
	return &LogParser{status: types.JobStatusPending}
}

// Feed consumes one log line and reports whether it changed the parser's
// state. When it did, the returned snapshot should be pushed to the write
// path immediately.
func (p *LogParser) Feed(line string) (Snapshot, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "Step: "):
		p.status = types.JobStatusRunning
		p.currentStep = strings.TrimSpace(strings.TrimPrefix(trimmed, "Step: "))
		return p.snapshot(), true

	case strings.HasPrefix(trimmed, "✓") && strings.Contains(strings.ToLower(trimmed), "complete"):
		if p.currentStep == "" {
			return Snapshot{}, false
		}
		if pct := pipeline.PercentFor(p.currentStep); pct > p.percent {
			p.percent = pct
		}
		p.completed = append(p.completed, p.currentStep)
		p.currentStep = ""
		return p.snapshot(), true

	case strings.HasPrefix(trimmed, "Pipeline complete"):
		p.status = types.JobStatusCompleted
		p.percent = 100
		p.currentStep = ""
		return p.snapshot(), true

	case strings.HasPrefix(trimmed, "✗"), strings.Contains(strings.ToLower(trimmed), "pipeline failed"):
		p.status = types.JobStatusFailed
		return p.snapshot(), true
	}
	return Snapshot{}, false
}

func (p *LogParser) snapshot() Snapshot {
	s := Snapshot{
		Status:         p.status,
		Percent:        p.percent,
		CompletedSteps: append([]string(nil), p.completed...),
	}
	if p.currentStep != "" {
		step := p.currentStep
		s.CurrentStep = &step
	}
	return s
}

// State returns the current snapshot without consuming a line.
func (p *LogParser) State() Snapshot { return p.snapshot() }
