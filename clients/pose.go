package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
)

// Landmark is one detected body point in normalized image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// PoseResult is the pose service response for a single frame. When no
// person is detected, Detected is false and Landmarks is empty -- this
// is a normal outcome, not an error.
type PoseResult struct {
	Detected  bool                `json:"detected"`
	Landmarks map[string]Landmark `json:"landmarks"`
}

// PoseDetector calls a pose-landmark service with one image per request.
type PoseDetector struct {
	http *HTTP
	url  string
}

func NewPoseDetector(svc config.Service, log *logrus.Entry) *PoseDetector {
	return &PoseDetector{http: NewHTTP(svc, log), url: svc.URL}
}

// Enabled reports whether a pose service is configured. Without one the
// posture scorer falls back to its neutral no-detection score.
func (p *PoseDetector) Enabled() bool { return p.url != "" }

// Detect uploads one frame image and returns its landmarks.
func (p *PoseDetector) Detect(ctx context.Context, imagePath string) (PoseResult, error) {
	var result PoseResult
	err := p.http.doWithRetry(ctx, "pose", func() error {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)

		fw, err := w.CreateFormFile("image", filepath.Base(imagePath))
		if err != nil {
			return err
		}
		fd, err := os.Open(imagePath)
		if err != nil {
			return err
		}
		defer fd.Close()
		if _, err = io.Copy(fw, fd); err != nil {
			return err
		}
		if err = w.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/detect", &b)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := p.http.c.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &statusError{Status: resp.StatusCode, Body: string(body)}
		}

		var out PoseResult
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode pose response: %w", err)
		}
		result = out
		return nil
	})
	if err != nil {
		return PoseResult{}, err
	}
	return result, nil
}
