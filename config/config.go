package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// Weights control how component scores fold into the overall score.
// They must sum to 1.0; Validate rejects anything else at startup.
type Weights struct {
	Posture    float64 `mapstructure:"posture" json:"posture"`
	Audio      float64 `mapstructure:"audio" json:"audio"`
	Content    float64 `mapstructure:"content" json:"content"`
	Engagement float64 `mapstructure:"engagement" json:"engagement"`
}

type Server struct {
	Port        int   `mapstructure:"port"`
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

type Processing struct {
	SegmentDurationSeconds int    `mapstructure:"segment_duration_seconds"`
	FrameIntervalSeconds   int    `mapstructure:"frame_interval_seconds"` // 0 = scale with duration
	Language               string `mapstructure:"language"`
}

type Audio struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	EnergyMin     float64 `mapstructure:"energy_min"`
	EnergyOptimal float64 `mapstructure:"energy_optimal"`
	EnergyMax     float64 `mapstructure:"energy_max"`
}

type Service struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
}

type Services struct {
	Transcription Service `mapstructure:"transcription"`
	Evaluator     Service `mapstructure:"evaluator"`
	Pose          Service `mapstructure:"pose"`
}

type Root struct {
	LogLevel   string     `mapstructure:"log_level"`
	DataDir    string     `mapstructure:"data_dir"`
	Server     Server     `mapstructure:"server"`
	Processing Processing `mapstructure:"processing"`
	Audio      Audio      `mapstructure:"audio"`
	Services   Services   `mapstructure:"services"`
	Weights    Weights    `mapstructure:"weights"`
	RubricFile string     `mapstructure:"rubric_file"`

	Rubric Rubric `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 500)
	v.SetDefault("processing.segment_duration_seconds", 30)
	v.SetDefault("processing.frame_interval_seconds", 0)
	v.SetDefault("processing.language", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.energy_min", 0.01)
	v.SetDefault("audio.energy_optimal", 0.1)
	v.SetDefault("audio.energy_max", 0.3)
	v.SetDefault("services.transcription.url", "https://api.openai.com/v1/audio/transcriptions")
	v.SetDefault("services.transcription.model", "whisper-1")
	v.SetDefault("services.transcription.timeout_seconds", 60)
	v.SetDefault("services.transcription.retries", 2)
	v.SetDefault("services.evaluator.url", "https://api.groq.com/openai/v1/chat/completions")
	v.SetDefault("services.evaluator.model", "llama-3.1-8b-instant")
	v.SetDefault("services.evaluator.timeout_seconds", 60)
	v.SetDefault("services.evaluator.retries", 2)
	v.SetDefault("services.pose.url", "")
	v.SetDefault("services.pose.timeout_seconds", 30)
	v.SetDefault("services.pose.retries", 2)
	v.SetDefault("weights.posture", 0.25)
	v.SetDefault("weights.audio", 0.25)
	v.SetDefault("weights.content", 0.30)
	v.SetDefault("weights.engagement", 0.20)
	v.SetDefault("rubric_file", "")
}

// Load reads configuration from the given file (or the default search
// locations when path is empty), applies environment overrides and
// validates the result. Components receive the struct by reference and
// never consult ambient configuration themselves.
func Load(path string) (*Root, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MENTOR")
	v.AutomaticEnv()
	_ = v.BindEnv("services.transcription.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("services.evaluator.api_key", "GROQ_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// no file anywhere: run on defaults + env
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	rubric, err := LoadRubric(cfg.RubricFile)
	if err != nil {
		return nil, fmt.Errorf("load rubric: %w", err)
	}
	cfg.Rubric = rubric

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants the pipeline assumes. Violations are
// fatal at load time, never discovered mid-run.
func (c *Root) Validate() error {
	sum := c.Weights.Posture + c.Weights.Audio + c.Weights.Content + c.Weights.Engagement
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("config: scoring weights must sum to 1.0, got %.4f", sum)
	}
	for name, w := range map[string]float64{
		"posture":    c.Weights.Posture,
		"audio":      c.Weights.Audio,
		"content":    c.Weights.Content,
		"engagement": c.Weights.Engagement,
	} {
		if w < 0 {
			return fmt.Errorf("config: weight %q must not be negative", name)
		}
	}
	if c.Processing.SegmentDurationSeconds <= 0 {
		return fmt.Errorf("config: segment_duration_seconds must be positive, got %d", c.Processing.SegmentDurationSeconds)
	}
	if c.Processing.FrameIntervalSeconds < 0 {
		return fmt.Errorf("config: frame_interval_seconds must not be negative, got %d", c.Processing.FrameIntervalSeconds)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: audio sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if !(c.Audio.EnergyMin < c.Audio.EnergyOptimal && c.Audio.EnergyOptimal < c.Audio.EnergyMax) {
		return fmt.Errorf("config: audio energy range must satisfy min < optimal < max (%.3f, %.3f, %.3f)",
			c.Audio.EnergyMin, c.Audio.EnergyOptimal, c.Audio.EnergyMax)
	}
	for name, svc := range map[string]Service{
		"transcription": c.Services.Transcription,
		"evaluator":     c.Services.Evaluator,
		"pose":          c.Services.Pose,
	} {
		if svc.TimeoutSeconds <= 0 {
			return fmt.Errorf("config: services.%s.timeout_seconds must be positive", name)
		}
		if svc.Retries < 0 {
			return fmt.Errorf("config: services.%s.retries must not be negative", name)
		}
	}
	return nil
}

// SegmentDuration returns the target segment length as a duration.
func (c *Root) SegmentDuration() time.Duration {
	return time.Duration(c.Processing.SegmentDurationSeconds) * time.Second
}

// FrameInterval picks the frame sampling interval for a video of the
// given length. When unset the interval scales with duration so the
// frame count stays bounded: max(5, duration/60) seconds.
func (c *Root) FrameInterval(videoDuration time.Duration) time.Duration {
	if c.Processing.FrameIntervalSeconds > 0 {
		return time.Duration(c.Processing.FrameIntervalSeconds) * time.Second
	}
	secs := videoDuration.Seconds() / 60
	if secs < 5 {
		secs = 5
	}
	return time.Duration(secs * float64(time.Second))
}
