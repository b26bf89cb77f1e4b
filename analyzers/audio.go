package analyzers

import (
	"fmt"
	"math"
	"os"

	"github.com/gopxl/beep/wav"

	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/media"
)

// rmsWindow is the short-window size in samples for energy extraction,
// roughly 128ms at 16kHz.
const rmsWindow = 2048

// AudioScorer rates voice volume from short-window RMS energy,
// normalized against the configured target energy range. Deterministic
// and a pure function of the waveform.
type AudioScorer struct {
	cfg config.Audio
}

func NewAudioScorer(cfg config.Audio) *AudioScorer {
	return &AudioScorer{cfg: cfg}
}

// ScoreTrack decodes the extracted WAV and maps its mean windowed RMS
// energy to [0,100].
func (s *AudioScorer) ScoreTrack(track media.AudioTrack) (float64, error) {
	f, err := os.Open(track.Path)
	if err != nil {
		return 0, fmt.Errorf("open audio track: %w", err)
	}
	defer f.Close()

	streamer, _, err := wav.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode audio track: %w", err)
	}
	defer streamer.Close()

	energy := meanWindowRMS(streamer.Stream, rmsWindow)
	return scoreEnergy(energy, s.cfg), nil
}

// meanWindowRMS streams the waveform in fixed windows and averages the
// per-window RMS. stream follows the beep.Streamer contract.
func meanWindowRMS(stream func(samples [][2]float64) (int, bool), window int) float64 {
	buf := make([][2]float64, window)
	var sum float64
	var windows int
	for {
		n, ok := stream(buf)
		if n > 0 {
			var sq float64
			for _, frame := range buf[:n] {
				mono := (frame[0] + frame[1]) / 2
				sq += mono * mono
			}
			sum += math.Sqrt(sq / float64(n))
			windows++
		}
		if !ok {
			break
		}
	}
	if windows == 0 {
		return 0
	}
	return sum / float64(windows)
}

// scoreEnergy maps mean RMS energy to [0,100]. Too quiet is penalized
// harder than too loud; inside the range the score falls off linearly
// with distance from the optimal level, floored at 70.
func scoreEnergy(energy float64, cfg config.Audio) float64 {
	switch {
	case energy < cfg.EnergyMin:
		return 40
	case energy > cfg.EnergyMax:
		return 70
	default:
		deviation := math.Abs(energy - cfg.EnergyOptimal)
		maxDeviation := cfg.EnergyMax - cfg.EnergyOptimal
		score := 100 * (1 - deviation/maxDeviation)
		if score < 70 {
			score = 70
		}
		if score > 100 {
			score = 100
		}
		return score
	}
}
