package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

const (
	minScenes = 4
	maxScenes = 10
	// How many malformed model outputs are tolerated before the step fails.
	maxMalformedRetries = 3
	// How much paper text goes into the prompt.
	maxPromptChars = 24000
)

const scriptSystemPrompt = `You write short narrated video scripts that explain scientific papers to a general audience.
Respond with a JSON object of the form {"scenes": [{"text": ..., "visual_type": ..., "visual_content": ...}]}.
Produce between 4 and 10 scenes. Each scene's "text" is 2-3 spoken sentences.
"visual_type" is one of "animation", "diagram", "text_overlay". "visual_content" describes the visual in one sentence.`

// ScriptService turns the fetched paper into an ordered scene list.
type ScriptService interface {
	Generate(ctx context.Context, w pipeline.Workdir) error
}

type scriptService struct {
	log *logger.Logger
	llm LLMClient
}

func NewScriptService(llm LLMClient, log *logger.Logger) ScriptService {
	return &scriptService{
		log: log.With("service", "ScriptService"),
		llm: llm,
	}
}

func (s *scriptService) Generate(ctx context.Context, w pipeline.Workdir) error {
	paper, err := types.LoadPaper(w.Paper())
	if err != nil {
		return fmt.Errorf("load paper: %w", err)
	}

	body := paper.FullText
	if body == "" {
		body = paper.Abstract
	}
	if len(body) > maxPromptChars {
		body = body[:maxPromptChars]
	}
	user := fmt.Sprintf("Title: %s\n\nAbstract: %s\n\nFull text:\n%s", paper.Title, paper.Abstract, body)

	var lastErr error
	for attempt := 1; attempt <= maxMalformedRetries; attempt++ {
		raw, err := s.llm.GenerateJSON(ctx, scriptSystemPrompt, user)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		script, err := decodeScript(raw)
		if err != nil {
			lastErr = err
			s.log.Warn("Model returned malformed script, retrying", "attempt", attempt, "error", err)
			continue
		}
		script.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
		if err := types.SaveScript(script, w.Script()); err != nil {
			return fmt.Errorf("save script: %w", err)
		}
		s.log.Info("Script generated", "paper_id", w.PaperID, "scenes", len(script.Scenes))
		return nil
	}
	return fmt.Errorf("script generation produced malformed output %d times: %w", maxMalformedRetries, lastErr)
}

func decodeScript(raw json.RawMessage) (*types.Script, error) {
	var script types.Script
	if err := json.Unmarshal(raw, &script); err != nil {
		return nil, fmt.Errorf("decode scenes: %w", err)
	}
	if n := len(script.Scenes); n < minScenes || n > maxScenes {
		return nil, fmt.Errorf("expected %d-%d scenes, got %d", minScenes, maxScenes, n)
	}
	for i, sc := range script.Scenes {
		if sc.Text == "" {
			return nil, fmt.Errorf("scene %d has empty narration", i)
		}
	}
	return &script, nil
}
