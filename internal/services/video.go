package services

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/storage"
	"github.com/hiddenhill/papervid-backend/internal/types"
	"github.com/hiddenhill/papervid-backend/internal/utils"
)

// VideoService renders one clip per scene, bounded-parallel, writes the
// clips completion marker, and optionally merges the clips with the
// narration into final_video.mp4. The merged artifact is also pushed to the
// configured store so remote deployments can serve it.
type VideoService interface {
	Generate(ctx context.Context, w pipeline.Workdir, maxWorkers int, merge bool) error
}

type videoService struct {
	log   *logger.Logger
	media MediaToolsService
	store storage.Store

	defaultWorkers int
}

func NewVideoService(media MediaToolsService, store storage.Store, log *logger.Logger) VideoService {
	l := log.With("service", "VideoService")
	return &videoService{
		log:            l,
		media:          media,
		store:          store,
		defaultWorkers: utils.GetEnvAsInt("VIDEO_MAX_WORKERS", 2, l),
	}
}

func (s *videoService) Generate(ctx context.Context, w pipeline.Workdir, maxWorkers int, merge bool) error {
	script, err := types.LoadScript(w.Script())
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	meta, err := types.LoadAudioMetadata(w.AudioMetadata())
	if err != nil {
		return fmt.Errorf("load audio metadata: %w", err)
	}
	if len(meta.SceneBoundaries) != len(script.Scenes) {
		return fmt.Errorf("audio metadata has %d boundaries for %d scenes", len(meta.SceneBoundaries), len(script.Scenes))
	}

	if maxWorkers <= 0 {
		maxWorkers = s.defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, scene := range script.Scenes {
		i, scene := i, scene
		g.Go(func() error {
			clipPath := w.ClipPath(i)
			if _, err := os.Stat(clipPath); err == nil {
				return nil
			}
			start := 0.0
			if i > 0 {
				start = meta.SceneBoundaries[i-1]
			}
			duration := meta.SceneBoundaries[i] - start
			caption := scene.VisualContent
			if caption == "" {
				caption = scene.Text
			}
			if err := s.media.RenderSceneClip(gctx, SceneClipSpec{
				OutPath:  clipPath,
				Caption:  caption,
				Duration: duration,
			}); err != nil {
				return fmt.Errorf("render scene %d: %w", i, err)
			}
			s.log.Debug("Scene clip rendered", "paper_id", w.PaperID, "scene", i, "duration", duration)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.WriteFile(w.VideosMarker(), []byte("complete\n"), 0o644); err != nil {
		return fmt.Errorf("write clips marker: %w", err)
	}

	if !merge {
		s.log.Info("Clips generated, merge skipped", "paper_id", w.PaperID, "scenes", len(script.Scenes))
		return nil
	}

	clips := make([]string, len(script.Scenes))
	for i := range script.Scenes {
		clips[i] = w.ClipPath(i)
	}
	if err := s.media.ConcatClipsWithAudio(ctx, clips, w.Audio(), w.FinalVideo()); err != nil {
		return fmt.Errorf("merge clips: %w", err)
	}
	s.log.Info("Final video merged", "paper_id", w.PaperID)

	if s.store != nil {
		f, err := os.Open(w.FinalVideo())
		if err != nil {
			return fmt.Errorf("open final video for upload: %w", err)
		}
		defer f.Close()
		key := w.PaperID + "/" + pipeline.FinalVideoFile
		if err := s.store.Save(ctx, key, f); err != nil {
			return fmt.Errorf("upload final video: %w", err)
		}
		s.log.Info("Final video uploaded", "paper_id", w.PaperID, "key", key)
	}
	return nil
}
