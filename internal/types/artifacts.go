package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Paper is the normalized paper.json payload, whether fetched from PubMed
// Central or converted from an uploaded file.
type Paper struct {
	PaperID         string   `json:"paper_id"`
	Title           string   `json:"title"`
	Abstract        string   `json:"abstract"`
	FullText        string   `json:"full_text"`
	Authors         []string `json:"authors,omitempty"`
	Source          string   `json:"source"`
	PublicationDate string   `json:"publication_date,omitempty"`
	FetchedAt       string   `json:"fetched_at,omitempty"`
}

// Scene is a single narrated scene of the video script.
type Scene struct {
	Text          string `json:"text"`
	VisualType    string `json:"visual_type"`
	VisualContent string `json:"visual_content"`
}

// Script is the script.json payload produced by the generate-script step.
type Script struct {
	Scenes      []Scene `json:"scenes"`
	GeneratedAt string  `json:"generated_at,omitempty"`
}

// AudioMetadata is the audio_metadata.json payload. SceneBoundaries holds
// the end offset in seconds of each scene, one entry per script scene; the
// audio completion predicate cross-checks its length against the script.
type AudioMetadata struct {
	TotalDuration   float64   `json:"total_duration"`
	Voice           string    `json:"voice"`
	SampleRate      int       `json:"sample_rate"`
	SceneBoundaries []float64 `json:"scene_boundaries"`
	GeneratedAt     string    `json:"generated_at,omitempty"`
}

// TaskResult is the terminal record one execution attempt leaves behind in
// the working directory. It is written exactly once per attempt, success or
// failure, and is the authoritative terminal signal for that attempt.
type TaskResult struct {
	Status    string `json:"status"`
	PaperID   string `json:"paper_id"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	WrittenAt string `json:"written_at,omitempty"`
}

func LoadPaper(path string) (*Paper, error) {
	var p Paper
	if err := readJSON(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func LoadScript(path string) (*Script, error) {
	var s Script
	if err := readJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func LoadAudioMetadata(path string) (*AudioMetadata, error) {
	var m AudioMetadata
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func LoadTaskResult(path string) (*TaskResult, error) {
	var r TaskResult
	if err := readJSON(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func SavePaper(p *Paper, path string) error         { return WriteJSONAtomic(path, p) }
func SaveScript(s *Script, path string) error       { return WriteJSONAtomic(path, s) }
func SaveAudioMetadata(m *AudioMetadata, path string) error { return WriteJSONAtomic(path, m) }

func SaveTaskResult(r *TaskResult, path string) error {
	if r.WrittenAt == "" {
		r.WrittenAt = time.Now().UTC().Format(time.RFC3339)
	}
	return WriteJSONAtomic(path, r)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteJSONAtomic writes v to path via a temp file and rename, so a crashed
// writer never leaves a half-written artifact behind.
func WriteJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, b)
}

func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
