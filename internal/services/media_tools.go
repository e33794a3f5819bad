package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
)

// MediaToolsService is the glue around the ffmpeg binary. It is synchronous
// and should be called from worker jobs, not request handlers.
type MediaToolsService interface {
	AssertReady(ctx context.Context) error
	RenderSceneClip(ctx context.Context, spec SceneClipSpec) error
	ConcatClipsWithAudio(ctx context.Context, clipPaths []string, audioPath string, outPath string) error
}

// SceneClipSpec describes one rendered scene clip: a colored background
// with the scene caption, sized to the scene's narration window.
type SceneClipSpec struct {
	OutPath  string
	Caption  string
	Duration float64
	Width    int
	Height   int
}

type mediaToolsService struct {
	log        *logger.Logger
	ffmpegPath string

	defaultTimeout time.Duration
}

func NewMediaToolsService(log *logger.Logger) MediaToolsService {
	return &mediaToolsService{
		log:            log.With("service", "MediaToolsService"),
		ffmpegPath:     "ffmpeg",
		defaultTimeout: 10 * time.Minute,
	}
}

func (m *mediaToolsService) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(m.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", m.ffmpegPath, err)
	}
	return nil
}

func (m *mediaToolsService) RenderSceneClip(ctx context.Context, spec SceneClipSpec) error {
	if spec.Duration <= 0 {
		spec.Duration = 3
	}
	if spec.Width <= 0 {
		spec.Width = 1280
	}
	if spec.Height <= 0 {
		spec.Height = 720
	}

	tmp := spec.OutPath + ".tmp.mp4"
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x101828:s=%dx%d:d=%.3f", spec.Width, spec.Height, spec.Duration),
		"-vf", fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=36:x=(w-text_w)/2:y=(h-text_h)/2", escapeDrawtext(spec.Caption)),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", "24",
		tmp,
	}
	if err := m.run(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, spec.OutPath)
}

func (m *mediaToolsService) ConcatClipsWithAudio(ctx context.Context, clipPaths []string, audioPath string, outPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listFile, err := os.CreateTemp(filepath.Dir(outPath), ".concat-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(listFile.Name())
	for _, p := range clipPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(listFile, "file '%s'\n", abs)
	}
	if err := listFile.Close(); err != nil {
		return err
	}

	tmp := outPath + ".tmp.mp4"
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath, "-c:a", "aac", "-shortest")
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		tmp,
	)
	if err := m.run(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, outPath)
}

func (m *mediaToolsService) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("ffmpeg failed: %w; stderr tail: %s", err, tail)
	}
	return nil
}

func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
