package pipeline

import (
	"context"
	"fmt"
	"io"
)

// RunOptions controls one driver invocation.
type RunOptions struct {
	// SkipExisting short-circuits steps whose artifacts already exist.
	SkipExisting bool
	// StopAfter halts the run once the named step is complete (whether it
	// was skipped or freshly executed). Empty means run to the end.
	StopAfter string
	Params    RunParams
}

// Driver runs the ordered step table over one working directory. It retries
// nothing itself; the first step failure is wrapped as a PipelineError and
// propagated. Step lifecycle markers are written to out, where the runner's
// log parser picks them up.
type Driver struct {
	detector *Detector
	actions  StepActions
	out      io.Writer
}

func NewDriver(detector *Detector, actions StepActions, out io.Writer) *Driver {
	if out == nil {
		out = io.Discard
	}
	return &Driver{detector: detector, actions: actions, out: out}
}

func (d *Driver) Run(ctx context.Context, w Workdir, opts RunOptions) error {
	if err := w.Ensure(); err != nil {
		return &PipelineError{Step: StepFetchPaper, Err: fmt.Errorf("create working directory: %w", err)}
	}
	for _, step := range Steps() {
		fmt.Fprintf(d.out, "Step: %s\n", step.Name)
		if opts.SkipExisting && d.detector.IsStepComplete(step.Name, w) {
			fmt.Fprintf(d.out, "  ✓ Already complete, skipping\n")
			if step.Name == opts.StopAfter {
				return nil
			}
			continue
		}
		fmt.Fprintf(d.out, "  → %s\n", step.Description)
		if err := d.execute(ctx, step.Name, w, opts.Params); err != nil {
			fmt.Fprintf(d.out, "  ✗ Step failed: %v\n", err)
			return &PipelineError{Step: step.Name, Err: err}
		}
		fmt.Fprintf(d.out, "  ✓ Complete\n")
		if step.Name == opts.StopAfter {
			return nil
		}
	}
	fmt.Fprintf(d.out, "Pipeline complete!\n")
	return nil
}

func (d *Driver) execute(ctx context.Context, step string, w Workdir, p RunParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch step {
	case StepFetchPaper:
		return d.actions.FetchPaper(ctx, w)
	case StepGenerateScript:
		return d.actions.GenerateScript(ctx, w)
	case StepGenerateAudio:
		return d.actions.GenerateAudio(ctx, w, p.Voice)
	case StepGenerateVideos:
		return d.actions.GenerateVideos(ctx, w, p.MaxWorkers, p.Merge)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}
