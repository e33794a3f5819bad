package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

func testWorkdir(t *testing.T) Workdir {
	t.Helper()
	w := NewWorkdir(t.TempDir(), "PMC123")
	if err := w.Ensure(); err != nil {
		t.Fatalf("ensure workdir: %v", err)
	}
	return w
}

func writeScript(t *testing.T, w Workdir, scenes int) {
	t.Helper()
	s := &types.Script{}
	for i := 0; i < scenes; i++ {
		s.Scenes = append(s.Scenes, types.Scene{Text: "scene", VisualType: "animation", VisualContent: "cells"})
	}
	if err := types.SaveScript(s, w.Script()); err != nil {
		t.Fatalf("save script: %v", err)
	}
}

func writeAudioMeta(t *testing.T, w Workdir, boundaries int) {
	t.Helper()
	m := &types.AudioMetadata{Voice: "alloy", SampleRate: 24000}
	for i := 0; i < boundaries; i++ {
		m.SceneBoundaries = append(m.SceneBoundaries, float64(i+1)*3.5)
	}
	m.TotalDuration = float64(boundaries) * 3.5
	if err := types.SaveAudioMetadata(m, w.AudioMetadata()); err != nil {
		t.Fatalf("save audio metadata: %v", err)
	}
	if err := os.WriteFile(w.Audio(), []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func TestFetchAndScriptDetection(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	if d.IsStepComplete(StepFetchPaper, w) {
		t.Fatalf("fetch-paper reported complete with no paper.json")
	}
	if err := types.SavePaper(&types.Paper{PaperID: "PMC123", Title: "t", Source: "pmc"}, w.Paper()); err != nil {
		t.Fatalf("save paper: %v", err)
	}
	if !d.IsStepComplete(StepFetchPaper, w) {
		t.Fatalf("fetch-paper not complete after paper.json written")
	}
	if d.IsStepComplete(StepGenerateScript, w) {
		t.Fatalf("generate-script reported complete with no script.json")
	}
	writeScript(t, w, 4)
	if !d.IsStepComplete(StepGenerateScript, w) {
		t.Fatalf("generate-script not complete after script.json written")
	}
}

func TestAudioSceneCountMismatchFailsClosed(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	writeScript(t, w, 5)
	writeAudioMeta(t, w, 3)
	if d.IsStepComplete(StepGenerateAudio, w) {
		t.Fatalf("audio reported complete with 3 boundaries for a 5-scene script")
	}

	writeAudioMeta(t, w, 5)
	if !d.IsStepComplete(StepGenerateAudio, w) {
		t.Fatalf("audio not complete with matching boundary count")
	}
}

func TestAudioCrossCheckFailsOpenOnParseError(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	writeAudioMeta(t, w, 3)
	if err := os.WriteFile(w.Script(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt script: %v", err)
	}
	if !d.IsStepComplete(StepGenerateAudio, w) {
		t.Fatalf("audio predicate failed closed on a script parse error")
	}
}

func TestVideosSlowPathWritesMarker(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	writeScript(t, w, 3)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(w.ClipPath(i), []byte("mp4"), 0o644); err != nil {
			t.Fatalf("write clip %d: %v", i, err)
		}
	}
	if !d.IsStepComplete(StepGenerateVideos, w) {
		t.Fatalf("videos not complete with full clip coverage")
	}
	if _, err := os.Stat(w.VideosMarker()); err != nil {
		t.Fatalf("slow path did not write the completion marker: %v", err)
	}
}

func TestVideosIncompleteCases(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	// No script means the expected clip count is unknowable.
	if err := os.WriteFile(w.ClipPath(0), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	if d.IsStepComplete(StepGenerateVideos, w) {
		t.Fatalf("videos reported complete with no script")
	}

	writeScript(t, w, 3)
	if d.IsStepComplete(StepGenerateVideos, w) {
		t.Fatalf("videos reported complete with 1 of 3 clips")
	}

	// Marker short-circuits everything.
	if err := os.WriteFile(w.VideosMarker(), []byte("complete\n"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if !d.IsStepComplete(StepGenerateVideos, w) {
		t.Fatalf("videos not complete with marker present")
	}
}

func TestCurrentAndCompletedSteps(t *testing.T) {
	w := testWorkdir(t)
	d := NewDetector(logger.NewNop())

	cur := d.CurrentStep(w)
	if cur == nil || *cur != StepFetchPaper {
		t.Fatalf("expected current step %q for empty dir, got %v", StepFetchPaper, cur)
	}

	if err := types.SavePaper(&types.Paper{PaperID: "PMC123"}, w.Paper()); err != nil {
		t.Fatalf("save paper: %v", err)
	}
	cur = d.CurrentStep(w)
	if cur == nil || *cur != StepGenerateScript {
		t.Fatalf("expected current step %q after fetch, got %v", StepGenerateScript, cur)
	}
	done := d.CompletedSteps(w)
	if len(done) != 1 || done[0] != StepFetchPaper {
		t.Fatalf("expected completed steps [fetch-paper], got %v", done)
	}

	if err := os.WriteFile(w.FinalVideo(), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write final video: %v", err)
	}
	if d.CurrentStep(w) != nil {
		t.Fatalf("current step should be nil once the final video exists")
	}
}

func TestClipPathPadding(t *testing.T) {
	w := NewWorkdir("/media", "P1")
	got := w.ClipPath(7)
	want := filepath.Join("/media", "P1", "clips", "scene_07.mp4")
	if got != want {
		t.Fatalf("clip path = %q, want %q", got, want)
	}
}
