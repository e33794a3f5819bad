package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

// fakeActions writes the real artifacts so the detector sees steps as done,
// and records which actions actually ran.
type fakeActions struct {
	calls   []string
	failAt  string
	failErr error
}

func (f *fakeActions) FetchPaper(ctx context.Context, w Workdir) error {
	f.calls = append(f.calls, StepFetchPaper)
	if f.failAt == StepFetchPaper {
		return f.failErr
	}
	return types.SavePaper(&types.Paper{PaperID: w.PaperID, Source: "pmc"}, w.Paper())
}

func (f *fakeActions) GenerateScript(ctx context.Context, w Workdir) error {
	f.calls = append(f.calls, StepGenerateScript)
	if f.failAt == StepGenerateScript {
		return f.failErr
	}
	s := &types.Script{Scenes: []types.Scene{
		{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"},
	}}
	return types.SaveScript(s, w.Script())
}

func (f *fakeActions) GenerateAudio(ctx context.Context, w Workdir, voice string) error {
	f.calls = append(f.calls, StepGenerateAudio)
	if f.failAt == StepGenerateAudio {
		return f.failErr
	}
	m := &types.AudioMetadata{Voice: voice, SceneBoundaries: []float64{1, 2, 3, 4}, TotalDuration: 4}
	if err := types.SaveAudioMetadata(m, w.AudioMetadata()); err != nil {
		return err
	}
	return types.WriteFileAtomic(w.Audio(), []byte("RIFF"))
}

func (f *fakeActions) GenerateVideos(ctx context.Context, w Workdir, maxWorkers int, merge bool) error {
	f.calls = append(f.calls, StepGenerateVideos)
	if f.failAt == StepGenerateVideos {
		return f.failErr
	}
	for i := 0; i < 4; i++ {
		if err := types.WriteFileAtomic(w.ClipPath(i), []byte("mp4")); err != nil {
			return err
		}
	}
	if merge {
		return types.WriteFileAtomic(w.FinalVideo(), []byte("mp4"))
	}
	return nil
}

func TestDriverRunsAllStepsInOrder(t *testing.T) {
	w := testWorkdir(t)
	actions := &fakeActions{}
	var out bytes.Buffer
	drv := NewDriver(NewDetector(logger.NewNop()), actions, &out)

	opts := RunOptions{SkipExisting: true, Params: RunParams{Voice: "alloy", MaxWorkers: 2, Merge: true}}
	if err := drv.Run(context.Background(), w, opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{StepFetchPaper, StepGenerateScript, StepGenerateAudio, StepGenerateVideos}
	if len(actions.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", actions.calls, want)
	}
	for i := range want {
		if actions.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", actions.calls, want)
		}
	}
	if !strings.Contains(out.String(), "Pipeline complete!") {
		t.Fatalf("terminal marker missing from output:\n%s", out.String())
	}
}

func TestDriverIdempotentResume(t *testing.T) {
	w := testWorkdir(t)
	actions := &fakeActions{}
	drv := NewDriver(NewDetector(logger.NewNop()), actions, nil)
	opts := RunOptions{SkipExisting: true, Params: RunParams{Merge: true}}

	if err := drv.Run(context.Background(), w, opts); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := len(actions.calls)

	var out bytes.Buffer
	drv = NewDriver(NewDetector(logger.NewNop()), actions, &out)
	if err := drv.Run(context.Background(), w, opts); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(actions.calls) != first {
		t.Fatalf("second run executed %d extra actions", len(actions.calls)-first)
	}
	if n := strings.Count(out.String(), "Already complete, skipping"); n != 4 {
		t.Fatalf("expected 4 skip markers on resume, got %d", n)
	}
}

func TestDriverStopAfter(t *testing.T) {
	w := testWorkdir(t)
	actions := &fakeActions{}
	drv := NewDriver(NewDetector(logger.NewNop()), actions, nil)

	opts := RunOptions{SkipExisting: true, StopAfter: StepGenerateScript}
	if err := drv.Run(context.Background(), w, opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(actions.calls) != 2 {
		t.Fatalf("expected 2 steps before stop-after, ran %v", actions.calls)
	}
}

func TestDriverWrapsFirstFailure(t *testing.T) {
	w := testWorkdir(t)
	cause := errors.New("pmc returned 502")
	actions := &fakeActions{failAt: StepGenerateScript, failErr: cause}
	drv := NewDriver(NewDetector(logger.NewNop()), actions, nil)

	err := drv.Run(context.Background(), w, RunOptions{SkipExisting: true})
	if err == nil {
		t.Fatalf("expected failure")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error is not a PipelineError: %v", err)
	}
	if perr.Step != StepGenerateScript {
		t.Fatalf("failing step = %q, want %q", perr.Step, StepGenerateScript)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause lost: %v", err)
	}
	if got := len(actions.calls); got != 2 {
		t.Fatalf("driver continued past the failed step, calls=%v", actions.calls)
	}
}

func TestDriverHonorsContextCancellation(t *testing.T) {
	w := testWorkdir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	drv := NewDriver(NewDetector(logger.NewNop()), &fakeActions{}, nil)

	err := drv.Run(ctx, w, RunOptions{SkipExisting: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
