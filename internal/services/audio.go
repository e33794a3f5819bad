package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

// AudioService synthesizes narration per scene, concatenates the PCM into
// one audio.wav, and records the cumulative scene end offsets so later
// steps can align clips to the narration.
type AudioService interface {
	Synthesize(ctx context.Context, w pipeline.Workdir, voice string) error
}

type audioService struct {
	log *logger.Logger
	llm LLMClient
}

func NewAudioService(llm LLMClient, log *logger.Logger) AudioService {
	return &audioService{
		log: log.With("service", "AudioService"),
		llm: llm,
	}
}

func (s *audioService) Synthesize(ctx context.Context, w pipeline.Workdir, voice string) error {
	script, err := types.LoadScript(w.Script())
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	if len(script.Scenes) == 0 {
		return fmt.Errorf("script has no scenes")
	}

	var combined wavData
	boundaries := make([]float64, 0, len(script.Scenes))
	for i, scene := range script.Scenes {
		raw, err := s.llm.Speech(ctx, scene.Text, voice)
		if err != nil {
			return fmt.Errorf("speech synthesis for scene %d: %w", i, err)
		}
		clip, err := parseWAV(raw)
		if err != nil {
			return fmt.Errorf("speech synthesis for scene %d: %w", i, err)
		}
		if err := combined.append(clip); err != nil {
			return fmt.Errorf("concat scene %d audio: %w", i, err)
		}
		boundaries = append(boundaries, combined.duration())
		s.log.Debug("Scene narration synthesized", "scene", i, "duration", combined.duration())
	}

	if err := types.WriteFileAtomic(w.Audio(), combined.encode()); err != nil {
		return fmt.Errorf("save audio: %w", err)
	}
	meta := &types.AudioMetadata{
		TotalDuration:   combined.duration(),
		Voice:           voice,
		SampleRate:      int(combined.sampleRate),
		SceneBoundaries: boundaries,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := types.SaveAudioMetadata(meta, w.AudioMetadata()); err != nil {
		return fmt.Errorf("save audio metadata: %w", err)
	}
	s.log.Info("Audio synthesized", "paper_id", w.PaperID, "scenes", len(boundaries), "total_duration", meta.TotalDuration)
	return nil
}

// wavData is an accumulating 16-bit PCM buffer plus the format of the first
// appended clip. Clips with a different format are rejected rather than
// resampled.
type wavData struct {
	sampleRate uint32
	channels   uint16
	bitsPerSmp uint16
	pcm        []byte
}

func (wv *wavData) append(clip *wavData) error {
	if wv.pcm == nil {
		wv.sampleRate = clip.sampleRate
		wv.channels = clip.channels
		wv.bitsPerSmp = clip.bitsPerSmp
	} else if wv.sampleRate != clip.sampleRate || wv.channels != clip.channels || wv.bitsPerSmp != clip.bitsPerSmp {
		return fmt.Errorf("clip format %dHz/%dch/%dbit does not match %dHz/%dch/%dbit",
			clip.sampleRate, clip.channels, clip.bitsPerSmp,
			wv.sampleRate, wv.channels, wv.bitsPerSmp)
	}
	wv.pcm = append(wv.pcm, clip.pcm...)
	return nil
}

func (wv *wavData) duration() float64 {
	if wv.sampleRate == 0 || wv.channels == 0 || wv.bitsPerSmp == 0 {
		return 0
	}
	bytesPerSec := float64(wv.sampleRate) * float64(wv.channels) * float64(wv.bitsPerSmp/8)
	return float64(len(wv.pcm)) / bytesPerSec
}

// encode renders a canonical 44-byte-header RIFF/WAVE file.
func (wv *wavData) encode() []byte {
	out := make([]byte, 0, 44+len(wv.pcm))
	le := binary.LittleEndian

	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	byteRate := wv.sampleRate * uint32(wv.channels) * uint32(wv.bitsPerSmp/8)
	blockAlign := wv.channels * (wv.bitsPerSmp / 8)

	out = append(out, []byte("RIFF")...)
	out = append(out, u32(uint32(36+len(wv.pcm)))...)
	out = append(out, []byte("WAVE")...)
	out = append(out, []byte("fmt ")...)
	out = append(out, u32(16)...)
	out = append(out, u16(1)...) // PCM
	out = append(out, u16(wv.channels)...)
	out = append(out, u32(wv.sampleRate)...)
	out = append(out, u32(byteRate)...)
	out = append(out, u16(blockAlign)...)
	out = append(out, u16(wv.bitsPerSmp)...)
	out = append(out, []byte("data")...)
	out = append(out, u32(uint32(len(wv.pcm)))...)
	out = append(out, wv.pcm...)
	return out
}

// parseWAV walks the RIFF chunk list and extracts the fmt and data chunks.
func parseWAV(raw []byte) (*wavData, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}
	le := binary.LittleEndian
	wv := &wavData{}
	off := 12
	for off+8 <= len(raw) {
		chunkID := string(raw[off : off+4])
		size := int(le.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch chunkID {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("short fmt chunk")
			}
			wv.channels = le.Uint16(raw[body+2 : body+4])
			wv.sampleRate = le.Uint32(raw[body+4 : body+8])
			wv.bitsPerSmp = le.Uint16(raw[body+14 : body+16])
		case "data":
			wv.pcm = raw[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	if wv.sampleRate == 0 || wv.pcm == nil {
		return nil, fmt.Errorf("missing fmt or data chunk")
	}
	return wv, nil
}
