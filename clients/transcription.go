package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
)

// Transcriber sends one segment's audio to a Whisper-compatible
// speech-to-text endpoint and returns plain transcript text.
type Transcriber struct {
	http   *HTTP
	url    string
	apiKey string
	model  string
}

func NewTranscriber(svc config.Service, log *logrus.Entry) *Transcriber {
	return &Transcriber{
		http:   NewHTTP(svc, log),
		url:    svc.URL,
		apiKey: svc.APIKey,
		model:  svc.Model,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads WAV bytes for one segment. language is an optional
// hint ("" for auto-detect). Errors after retries come back as
// *RemoteError; the caller records them as a segment failure.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	var text string
	err := t.http.doWithRetry(ctx, "transcription", func() error {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)

		fw, err := w.CreateFormFile("file", "segment.wav")
		if err != nil {
			return err
		}
		if _, err = fw.Write(audio); err != nil {
			return err
		}
		if err = w.WriteField("model", t.model); err != nil {
			return err
		}
		if language != "" {
			if err = w.WriteField("language", language); err != nil {
				return err
			}
		}
		if err = w.WriteField("response_format", "json"); err != nil {
			return err
		}
		if err = w.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &b)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		if t.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		}

		resp, err := t.http.c.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &statusError{Status: resp.StatusCode, Body: string(body)}
		}

		var out transcriptionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode transcription response: %w", err)
		}
		text = strings.TrimSpace(out.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
