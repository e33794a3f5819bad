package pipeline

import "fmt"

// PipelineError wraps the first step failure with the failing step's name.
// The driver never continues past one of these; retry policy lives with the
// runner, which inspects the wrapped cause.
type PipelineError struct {
	Step string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at step %q: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
