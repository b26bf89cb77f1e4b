package pipeline

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/analyzers"
	"github.com/scorelab/mentor-pipeline/clients"
	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/media"
)

// NewDeps wires the production capabilities for one run: a fresh media
// workspace plus the configured remote clients and analyzers. The
// returned workspace is owned by the pipeline and cleaned up by Run.
func NewDeps(cfg *config.Root, log *logrus.Entry) (Deps, error) {
	ws, err := media.NewWorkspace(filepath.Join(cfg.DataDir, "tmp"), cfg.Audio.SampleRate, log)
	if err != nil {
		return Deps{}, err
	}
	pose := clients.NewPoseDetector(cfg.Services.Pose, log)
	return Deps{
		Media:      ws,
		Transcribe: clients.NewTranscriber(cfg.Services.Transcription, log),
		Evaluate:   clients.NewEvaluator(cfg.Services.Evaluator, cfg.Rubric, log),
		Posture:    analyzers.NewPostureScorer(pose, log),
		Audio:      analyzers.NewAudioScorer(cfg.Audio),
	}, nil
}
