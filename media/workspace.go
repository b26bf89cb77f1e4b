package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Workspace owns the temporary files for one pipeline run. Callers
// must Close it; Close removes everything regardless of how the run
// ended.
type Workspace struct {
	dir        string
	sampleRate int
	log        *logrus.Entry
}

func NewWorkspace(baseDir string, sampleRate int, log *logrus.Entry) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base: %w", err)
	}
	dir, err := os.MkdirTemp(baseDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir, sampleRate: sampleRate, log: log}, nil
}

// Close deletes the workspace directory and all extracted artifacts.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.dir)
}

// Probe inspects the source video with ffprobe. A video without at
// least one audio stream is unsupported.
func (w *Workspace) Probe(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		w.log.WithField("ffprobe", stderr.String()).Warn("probe failed")
		return VideoInfo{}, fmt.Errorf("%w: probe %s: %v", ErrUnsupportedMedia, filepath.Base(path), err)
	}

	info, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	info.Path = path
	if !info.HasAudio {
		return VideoInfo{}, fmt.Errorf("%w: no decodable audio stream in %s", ErrUnsupportedMedia, filepath.Base(path))
	}
	return info, nil
}

// ExtractAudio writes the full mono audio track as WAV into the
// workspace, resampled for the speech-to-text service.
func (w *Workspace) ExtractAudio(ctx context.Context, info VideoInfo) (AudioTrack, error) {
	out := filepath.Join(w.dir, "audio.wav")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", info.Path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(w.sampleRate),
		"-f", "wav",
		"-y", out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		w.log.WithField("ffmpeg", tail(stderr.String())).Error("audio extraction failed")
		return AudioTrack{}, fmt.Errorf("%w: extract audio: %v", ErrUnsupportedMedia, err)
	}
	return AudioTrack{Path: out, SampleRate: w.sampleRate, Duration: info.Duration}, nil
}

// SampleFrames extracts one JPEG per interval into the workspace and
// returns them in timestamp order.
func (w *Workspace) SampleFrames(ctx context.Context, info VideoInfo, interval time.Duration) ([]Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sample frames: interval must be positive, got %v", interval)
	}
	framesDir := filepath.Join(w.dir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, err
	}

	fps := 1.0 / interval.Seconds()
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", info.Path,
		"-vf", fmt.Sprintf("fps=%f", fps),
		"-q:v", "2",
		"-y", filepath.Join(framesDir, "frame_%05d.jpg"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		w.log.WithField("ffmpeg", tail(stderr.String())).Error("frame sampling failed")
		return nil, fmt.Errorf("sample frames: %v", err)
	}

	paths, err := filepath.Glob(filepath.Join(framesDir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	frames := make([]Frame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, Frame{
			Timestamp: time.Duration(i) * interval,
			Path:      p,
		})
	}
	return frames, nil
}

// CutSegment decodes one [start, start+dur) window of the audio track
// to WAV bytes, streamed over stdout so no per-segment file lingers.
func (w *Workspace) CutSegment(ctx context.Context, track AudioTrack, start, dur time.Duration) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(dur),
		"-i", track.Path,
		"-ac", "1",
		"-ar", strconv.Itoa(track.SampleRate),
		"-f", "wav",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		w.log.WithField("ffmpeg", tail(stderr.String())).Error("segment cut failed")
		return nil, fmt.Errorf("cut segment at %s: %v", formatSeconds(start), err)
	}
	return stdout.Bytes(), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// tail keeps error logs readable; ffmpeg stderr can run to kilobytes.
func tail(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
