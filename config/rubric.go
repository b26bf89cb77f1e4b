package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rubric is the evaluation prompt pair sent to the content evaluator.
// Template must contain the {{transcript}} placeholder.
type Rubric struct {
	System   string `yaml:"system"`
	Template string `yaml:"template"`
}

const defaultRubricSystem = "You are an expert educational content evaluator. Respond only with valid JSON."

const defaultRubricTemplate = `You are an expert educational content evaluator. Analyze the following transcript from a teaching session and provide scores.

Evaluate based on:

1. Clarity (0-100): How clear and understandable is the explanation?
2. Structure (0-100): Is the content well-organized with logical flow?
3. Technical Accuracy (0-100): Are concepts explained correctly?
4. Engagement (0-100): Does the teacher use engaging language, examples, or questions?

Transcript:
{{transcript}}

Respond ONLY with valid JSON in this exact format:
{
  "clarity": <number 0-100>,
  "structure": <number 0-100>,
  "technical": <number 0-100>,
  "engagement": <number 0-100>,
  "summary": "<brief 1-2 sentence summary>"
}`

// DefaultRubric returns the built-in evaluation rubric.
func DefaultRubric() Rubric {
	return Rubric{System: defaultRubricSystem, Template: defaultRubricTemplate}
}

// LoadRubric reads a rubric override from a YAML file. An empty path
// yields the built-in default.
func LoadRubric(path string) (Rubric, error) {
	if path == "" {
		return DefaultRubric(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, err
	}
	var r Rubric
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rubric{}, fmt.Errorf("parse rubric %s: %w", path, err)
	}
	if r.System == "" {
		r.System = defaultRubricSystem
	}
	if !strings.Contains(r.Template, "{{transcript}}") {
		return Rubric{}, fmt.Errorf("rubric %s: template must contain {{transcript}}", path)
	}
	return r, nil
}

// Render substitutes the transcript into the rubric template.
func (r Rubric) Render(transcript string) string {
	return strings.ReplaceAll(r.Template, "{{transcript}}", transcript)
}
