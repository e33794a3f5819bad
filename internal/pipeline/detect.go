package pipeline

import (
	"os"
	"regexp"
	"strconv"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

var clipNameRe = regexp.MustCompile(`^scene_(\d+)\.mp4$`)

// Detector answers "has step X already produced its artifacts" purely from
// filesystem state. Every check is re-derivable, which is what makes the
// pipeline resumable after a crash or restart.
type Detector struct {
	log *logger.Logger
}

func NewDetector(log *logger.Logger) *Detector {
	return &Detector{log: log.With("component", "step_detector")}
}

// IsStepComplete reports whether the named step's expected artifacts exist.
// Unknown step names report false.
func (d *Detector) IsStepComplete(step string, w Workdir) bool {
	switch step {
	case StepFetchPaper:
		return fileExists(w.Paper())
	case StepGenerateScript:
		return fileExists(w.Script())
	case StepGenerateAudio:
		return d.audioComplete(w)
	case StepGenerateVideos:
		return d.videosComplete(w)
	default:
		return false
	}
}

// FinalVideoExists is the predicate for the terminal artifact. It always
// maps to 100 percent regardless of every other signal.
func (d *Detector) FinalVideoExists(w Workdir) bool {
	return fileExists(w.FinalVideo())
}

// CompletedSteps returns the names of completed steps in pipeline order.
func (d *Detector) CompletedSteps(w Workdir) []string {
	var done []string
	for _, s := range Steps() {
		if d.IsStepComplete(s.Name, w) {
			done = append(done, s.Name)
		}
	}
	return done
}

// CurrentStep returns the first incomplete step in order, or nil when the
// final artifact exists or every step is complete.
func (d *Detector) CurrentStep(w Workdir) *string {
	if d.FinalVideoExists(w) {
		return nil
	}
	for _, s := range Steps() {
		if !d.IsStepComplete(s.Name, w) {
			name := s.Name
			return &name
		}
	}
	return nil
}

// audioComplete requires both the combined audio file and its metadata, then
// cross-checks the recorded scene boundary count against the script's scene
// count. Stale audio from an older script regeneration fails the check. A
// parse error during the cross-check does not fail it; only a provable
// mismatch does.
func (d *Detector) audioComplete(w Workdir) bool {
	if !fileExists(w.Audio()) || !fileExists(w.AudioMetadata()) {
		return false
	}
	script, err := types.LoadScript(w.Script())
	if err != nil {
		d.log.Warn("Could not load script for audio cross-check", "paper_id", w.PaperID, "error", err)
		return true
	}
	meta, err := types.LoadAudioMetadata(w.AudioMetadata())
	if err != nil {
		d.log.Warn("Could not load audio metadata for cross-check", "paper_id", w.PaperID, "error", err)
		return true
	}
	if len(meta.SceneBoundaries) != len(script.Scenes) {
		d.log.Warn("Audio metadata scene count does not match script, forcing regeneration",
			"paper_id", w.PaperID, "boundaries", len(meta.SceneBoundaries), "scenes", len(script.Scenes))
		return false
	}
	return true
}

// videosComplete checks the completion marker first. With no marker it
// enumerates per-scene clips, compares index coverage against the script's
// scene count, and writes the marker back as a cache when coverage is full.
// No script means the expected count is unknowable, so incomplete.
func (d *Detector) videosComplete(w Workdir) bool {
	if fileExists(w.VideosMarker()) {
		return true
	}
	script, err := types.LoadScript(w.Script())
	if err != nil {
		return false
	}
	want := len(script.Scenes)
	if want == 0 {
		return false
	}
	entries, err := os.ReadDir(w.Clips())
	if err != nil {
		return false
	}
	have := make(map[int]bool, want)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := clipNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		have[idx] = true
	}
	for i := 0; i < want; i++ {
		if !have[i] {
			return false
		}
	}
	if err := os.WriteFile(w.VideosMarker(), []byte("complete\n"), 0o644); err != nil {
		d.log.Warn("Could not write videos completion marker", "paper_id", w.PaperID, "error", err)
	}
	return true
}
