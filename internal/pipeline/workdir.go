package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stable artifact names inside a job working directory. The completion
// detector and the reconciliation engine both key off these, so they live
// in one place.
const (
	PaperFile         = "paper.json"
	ScriptFile        = "script.json"
	AudioFile         = "audio.wav"
	AudioMetadataFile = "audio_metadata.json"
	ClipsDir          = "clips"
	VideosMarkerFile  = ".videos_complete"
	FinalVideoFile    = "final_video.mp4"
	LogFile           = "pipeline.log"
	TaskResultFile    = "task_result.json"
)

// Workdir addresses one job's working directory under the media root.
type Workdir struct {
	Root    string
	PaperID string
}

func NewWorkdir(mediaRoot, paperID string) Workdir {
	return Workdir{Root: mediaRoot, PaperID: paperID}
}

func (w Workdir) Path() string          { return filepath.Join(w.Root, w.PaperID) }
func (w Workdir) Paper() string         { return filepath.Join(w.Path(), PaperFile) }
func (w Workdir) Script() string        { return filepath.Join(w.Path(), ScriptFile) }
func (w Workdir) Audio() string         { return filepath.Join(w.Path(), AudioFile) }
func (w Workdir) AudioMetadata() string { return filepath.Join(w.Path(), AudioMetadataFile) }
func (w Workdir) Clips() string         { return filepath.Join(w.Path(), ClipsDir) }
func (w Workdir) VideosMarker() string  { return filepath.Join(w.Clips(), VideosMarkerFile) }
func (w Workdir) FinalVideo() string    { return filepath.Join(w.Path(), FinalVideoFile) }
func (w Workdir) Log() string           { return filepath.Join(w.Path(), LogFile) }
func (w Workdir) TaskResult() string    { return filepath.Join(w.Path(), TaskResultFile) }

// ClipPath returns the per-scene clip path, zero-padded so lexical order
// matches scene order.
func (w Workdir) ClipPath(sceneIndex int) string {
	return filepath.Join(w.Clips(), fmt.Sprintf("scene_%02d.mp4", sceneIndex))
}

// Ensure creates the working directory and the clips subdirectory.
func (w Workdir) Ensure() error {
	return os.MkdirAll(w.Clips(), 0o755)
}

func (w Workdir) Exists() bool {
	info, err := os.Stat(w.Path())
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
