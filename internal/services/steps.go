package services

import (
	"context"

	"github.com/hiddenhill/papervid-backend/internal/pipeline"
)

// StepAdapter binds the generation services to the pipeline's step table.
type StepAdapter struct {
	Paper  PaperService
	Script ScriptService
	Audio  AudioService
	Video  VideoService
}

func NewStepAdapter(paper PaperService, script ScriptService, audio AudioService, video VideoService) *StepAdapter {
	return &StepAdapter{Paper: paper, Script: script, Audio: audio, Video: video}
}

func (a *StepAdapter) FetchPaper(ctx context.Context, w pipeline.Workdir) error {
	return a.Paper.Fetch(ctx, w)
}

func (a *StepAdapter) GenerateScript(ctx context.Context, w pipeline.Workdir) error {
	return a.Script.Generate(ctx, w)
}

func (a *StepAdapter) GenerateAudio(ctx context.Context, w pipeline.Workdir, voice string) error {
	return a.Audio.Synthesize(ctx, w, voice)
}

func (a *StepAdapter) GenerateVideos(ctx context.Context, w pipeline.Workdir, maxWorkers int, merge bool) error {
	return a.Video.Generate(ctx, w, maxWorkers, merge)
}
