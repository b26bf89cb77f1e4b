package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
)

// Evaluation is the validated payload returned by the content
// evaluator: exactly four numeric sub-scores plus a short summary.
type Evaluation struct {
	Clarity    float64 `json:"clarity"`
	Structure  float64 `json:"structure"`
	Technical  float64 `json:"technical"`
	Engagement float64 `json:"engagement"`
	Summary    string  `json:"summary"`
}

// ErrTranscriptTooShort signals a segment whose transcript carries too
// little content to evaluate. Treated as a segment failure, not sent
// to the remote service.
var ErrTranscriptTooShort = errors.New("transcript too short to evaluate")

const minTranscriptLen = 10

// Evaluator scores a transcript segment against the rubric via an
// OpenAI-compatible chat completions endpoint.
type Evaluator struct {
	http   *HTTP
	url    string
	apiKey string
	model  string
	rubric config.Rubric
}

func NewEvaluator(svc config.Service, rubric config.Rubric, log *logrus.Entry) *Evaluator {
	return &Evaluator{
		http:   NewHTTP(svc, log),
		url:    svc.URL,
		apiKey: svc.APIKey,
		model:  svc.Model,
		rubric: rubric,
	}
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Evaluate scores one transcript segment. The response is validated at
// this boundary: all four numeric fields must be present and parse, or
// the call fails. An untyped payload never travels downstream.
func (e *Evaluator) Evaluate(ctx context.Context, transcript string) (Evaluation, error) {
	if len(strings.TrimSpace(transcript)) < minTranscriptLen {
		return Evaluation{}, ErrTranscriptTooShort
	}
	if e.apiKey == "" {
		return Evaluation{}, &RemoteError{Service: "evaluator", Err: errors.New("api key not configured")}
	}

	payload := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: e.rubric.System},
			{Role: "user", Content: e.rubric.Render(transcript)},
		},
		Temperature:    0.3,
		MaxTokens:      500,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Evaluation{}, err
	}

	var eval Evaluation
	err = e.http.doWithRetry(ctx, "evaluator", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.http.c.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &statusError{Status: resp.StatusCode, Body: string(b)}
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode chat response: %w", err)
		}
		if out.Error != nil {
			return fmt.Errorf("evaluator: %s", out.Error.Message)
		}
		if len(out.Choices) == 0 {
			return errors.New("evaluator: empty choices")
		}

		parsed, err := parseEvaluation(out.Choices[0].Message.Content)
		if err != nil {
			return err
		}
		eval = parsed
		return nil
	})
	if err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

// parseEvaluation extracts and validates the rubric JSON from the model
// output. Models sometimes wrap the JSON in prose, so fall back to the
// outermost brace pair before giving up.
func parseEvaluation(content string) (Evaluation, error) {
	raw := []byte(content)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start == -1 || end <= start {
			return Evaluation{}, fmt.Errorf("evaluator: no JSON object in response")
		}
		raw = []byte(content[start : end+1])
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Evaluation{}, fmt.Errorf("evaluator: parse response: %w", err)
		}
	}

	var eval Evaluation
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"clarity", &eval.Clarity},
		{"structure", &eval.Structure},
		{"technical", &eval.Technical},
		{"engagement", &eval.Engagement},
	} {
		msg, ok := fields[f.key]
		if !ok {
			return Evaluation{}, fmt.Errorf("evaluator: response missing %q", f.key)
		}
		var score float64
		if err := json.Unmarshal(msg, &score); err != nil {
			return Evaluation{}, fmt.Errorf("evaluator: field %q is not numeric", f.key)
		}
		*f.dst = clamp(score, 0, 100)
	}
	if msg, ok := fields["summary"]; ok {
		_ = json.Unmarshal(msg, &eval.Summary)
	}
	return eval, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
