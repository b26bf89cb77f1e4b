package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func testService(url string) config.Service {
	return config.Service{URL: url, APIKey: "test-key", Model: "test-model", TimeoutSeconds: 5, Retries: 2}
}

func TestTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "test-model" {
			t.Errorf("model field = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language field = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hello class  "})
	}))
	defer srv.Close()

	tr := NewTranscriber(testService(srv.URL), testLogger())
	text, err := tr.Transcribe(context.Background(), []byte("RIFFfake"), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello class" {
		t.Fatalf("transcript = %q, want trimmed text", text)
	}
}

func TestTranscribeRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	tr := NewTranscriber(testService(srv.URL), testLogger())
	tr.http.withSleeper(func(time.Duration) {})

	text, err := tr.Transcribe(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Transcribe failed after retries: %v", err)
	}
	if text != "ok" || calls != 3 {
		t.Fatalf("text=%q calls=%d", text, calls)
	}
}

func TestTranscribeExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranscriber(testService(srv.URL), testLogger())
	tr.http.withSleeper(func(time.Duration) {})

	_, err := tr.Transcribe(context.Background(), []byte("x"), "")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if re.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", re.Status)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 1 initial + 2 retries", calls)
	}
}

func TestTranscribeDoesNotRetryClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewTranscriber(testService(srv.URL), testLogger())
	tr.http.withSleeper(func(time.Duration) {})

	if _, err := tr.Transcribe(context.Background(), []byte("x"), ""); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, 4xx must not be retried", calls)
	}
}

func TestEvaluateParsesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want system+user", len(req.Messages))
		}
		content := `{"clarity": 80, "structure": 75, "technical": 140, "engagement": -3, "summary": "fine"}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	defer srv.Close()

	ev := NewEvaluator(testService(srv.URL), config.DefaultRubric(), testLogger())
	got, err := ev.Evaluate(context.Background(), "a sufficiently long transcript")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got.Clarity != 80 || got.Structure != 75 {
		t.Fatalf("scores = %+v", got)
	}
	if got.Technical != 100 || got.Engagement != 0 {
		t.Fatalf("out-of-range scores not clamped: %+v", got)
	}
	if got.Summary != "fine" {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestEvaluateRejectsShortTranscript(t *testing.T) {
	ev := NewEvaluator(testService("http://unused"), config.DefaultRubric(), testLogger())
	_, err := ev.Evaluate(context.Background(), "   hi   ")
	if !errors.Is(err, ErrTranscriptTooShort) {
		t.Fatalf("expected ErrTranscriptTooShort, got %v", err)
	}
}

func TestEvaluateMalformedResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"clarity": "high"}`}}},
		})
	}))
	defer srv.Close()

	ev := NewEvaluator(testService(srv.URL), config.DefaultRubric(), testLogger())
	ev.http.withSleeper(func(time.Duration) {})
	if _, err := ev.Evaluate(context.Background(), "a sufficiently long transcript"); err == nil {
		t.Fatal("expected error for malformed evaluation payload")
	}
}

func TestParseEvaluationExtractsEmbeddedJSON(t *testing.T) {
	content := "Here are the scores:\n{\"clarity\": 60, \"structure\": 61, \"technical\": 62, \"engagement\": 63, \"summary\": \"s\"}\nThanks!"
	got, err := parseEvaluation(content)
	if err != nil {
		t.Fatalf("parseEvaluation failed: %v", err)
	}
	if got.Clarity != 60 || got.Engagement != 63 {
		t.Fatalf("parsed = %+v", got)
	}
}

func TestParseEvaluationMissingFieldFails(t *testing.T) {
	if _, err := parseEvaluation(`{"clarity": 60, "structure": 61, "technical": 62}`); err == nil {
		t.Fatal("expected error for missing engagement field")
	}
}

func TestPoseDetectNoPerson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PoseResult{Detected: false})
	}))
	defer srv.Close()

	frame := writeTempFrame(t)
	pd := NewPoseDetector(testService(srv.URL), testLogger())
	res, err := pd.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Detected {
		t.Fatal("expected no detection")
	}
}

func TestPoseDetectorDisabledWithoutURL(t *testing.T) {
	pd := NewPoseDetector(config.Service{TimeoutSeconds: 5}, testLogger())
	if pd.Enabled() {
		t.Fatal("expected detector to be disabled without a URL")
	}
}
