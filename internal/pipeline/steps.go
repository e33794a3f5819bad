package pipeline

import "context"

const (
	StepFetchPaper     = "fetch-paper"
	StepGenerateScript = "generate-script"
	StepGenerateAudio  = "generate-audio"
	StepGenerateVideos = "generate-videos"
)

// Step is one named stage of the pipeline. Steps are plain data; the driver
// iterates the table generically. Percent is the cumulative checkpoint
// reached once this step completes.
type Step struct {
	Name        string
	Description string
	Percent     int
}

var stepTable = []Step{
	{Name: StepFetchPaper, Description: "Fetching paper from PubMed Central", Percent: 25},
	{Name: StepGenerateScript, Description: "Generating narration script", Percent: 50},
	{Name: StepGenerateAudio, Description: "Synthesizing narration audio", Percent: 75},
	{Name: StepGenerateVideos, Description: "Generating and merging video clips", Percent: 100},
}

// Steps returns the ordered step table. Callers must not mutate it.
func Steps() []Step { return stepTable }

// PercentFor maps a step name to its completion checkpoint, 0 if unknown.
func PercentFor(name string) int {
	for _, s := range stepTable {
		if s.Name == name {
			return s.Percent
		}
	}
	return 0
}

// StepIndex returns the position of a step in the table, -1 if unknown.
func StepIndex(name string) int {
	for i, s := range stepTable {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// RunParams are the per-job knobs forwarded to the step actions.
type RunParams struct {
	Voice      string
	MaxWorkers int
	Merge      bool
}

// StepActions is the contract the generation adapters fulfil. Each action
// writes its artifacts into the working directory via temp-and-rename so a
// crashed run never leaves corrupt output behind.
type StepActions interface {
	FetchPaper(ctx context.Context, w Workdir) error
	GenerateScript(ctx context.Context, w Workdir) error
	GenerateAudio(ctx context.Context, w Workdir, voice string) error
	GenerateVideos(ctx context.Context, w Workdir, maxWorkers int, merge bool) error
}
