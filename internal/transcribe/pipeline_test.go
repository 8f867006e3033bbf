package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"murmur/internal/capture"
	"murmur/internal/domain"
)

// stageRecorder collects emitted stages in order.
type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

// record returns an OnStage callback appending to the recorder.
func (r *stageRecorder) record(stage, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

// Stages returns a snapshot of recorded stage names.
func (r *stageRecorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

// testBlob is a small stand-in audio payload.
func testBlob() capture.Blob {
	return capture.Blob{Data: []byte("RIFF-fake-wav-bytes"), MIME: "audio/wav"}
}

// newTestPipeline builds a pipeline pointed at real temp-file helpers.
func newTestPipeline() *Pipeline {
	return NewPipelineForTests(resty.New(), os.CreateTemp, os.Remove, time.Now)
}

// provider builds a ProviderConfig pointed at a test server.
func provider(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		APIKey:    "test-key",
		BaseURL:   baseURL,
		Model:     "whisper-large-v3",
		ChatModel: "test-chat-model",
	}
}

// TestRunSuccessWithoutPostProcessing checks the happy path and stage order.
func TestRunSuccessWithoutPostProcessing(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "hello"}`))
	}))
	defer server.Close()

	stages := &stageRecorder{}
	result, err := newTestPipeline().Run(context.Background(), Request{
		Blob:     testBlob(),
		Provider: provider(server.URL),
		OnStage:  stages.record,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RawText != "hello" || result.ProcessedText != "hello" {
		t.Fatalf("result = %+v, want raw==processed==hello", result)
	}
	if result.Timestamp.IsZero() {
		t.Fatal("expected a result timestamp")
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotModel != "whisper-large-v3" {
		t.Fatalf("model field = %q", gotModel)
	}

	want := []string{StageStart, StageSubmitting, StageReceiving, StageComplete}
	got := stages.Stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestRunMissingAPIKeyFailsFast checks the configuration guard makes no call.
func TestRunMissingAPIKeyFailsFast(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := provider(server.URL)
	cfg.APIKey = "   "
	_, err := newTestPipeline().Run(context.Background(), Request{
		Blob:     testBlob(),
		Provider: cfg,
	})

	if KindOf(err) != KindConfiguration {
		t.Fatalf("kind = %s, want configuration (err=%v)", KindOf(err), err)
	}
	if called {
		t.Fatal("no network call may happen without an API key")
	}
}

// TestRunClassifiesProviderFailures checks the status-code taxonomy.
func TestRunClassifiesProviderFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantMessage string
	}{
		{"auth", http.StatusUnauthorized, `{"error":"bad key"}`, KindAuth, "invalid or expired"},
		{"endpoint", http.StatusNotFound, `{"error":"nope"}`, KindEndpoint, "endpoint not found"},
		{"server", http.StatusInternalServerError, `{"error":"boom"}`, KindProvider, "provider request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestPipeline().Run(context.Background(), Request{
				Blob:     testBlob(),
				Provider: provider(server.URL),
			})

			var pipeErr *PipelineError
			if !errors.As(err, &pipeErr) {
				t.Fatalf("error = %v, want PipelineError", err)
			}
			if pipeErr.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", pipeErr.Kind, tt.wantKind)
			}
			if pipeErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", pipeErr.StatusCode, tt.status)
			}
			if !strings.Contains(pipeErr.Message, tt.wantMessage) {
				t.Fatalf("message = %q, want substring %q", pipeErr.Message, tt.wantMessage)
			}
			if tt.wantKind == KindProvider && !strings.Contains(pipeErr.Body, "boom") {
				t.Fatalf("body = %q, want provider body preserved", pipeErr.Body)
			}
		})
	}
}

// TestRunEmptyTranscriptIsDistinctOutcome checks no-speech classification.
func TestRunEmptyTranscriptIsDistinctOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text": "  "}`))
	}))
	defer server.Close()

	_, err := newTestPipeline().Run(context.Background(), Request{
		Blob:     testBlob(),
		Provider: provider(server.URL),
	})

	if !IsEmptyResult(err) {
		t.Fatalf("error = %v, want empty-result outcome", err)
	}
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) && !strings.Contains(pipeErr.Message, "no speech detected") {
		t.Fatalf("message = %q, want no-speech wording", pipeErr.Message)
	}
}

// TestRunPostProcessingRewritesTranscript checks the chat-completion path.
func TestRunPostProcessingRewritesTranscript(t *testing.T) {
	var chatBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio/transcriptions":
			_, _ = w.Write([]byte(`{"text": "helo wrld"}`))
		case "/chat/completions":
			buf, _ := io.ReadAll(r.Body)
			chatBody = string(buf)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Hello, world."}}]}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	stages := &stageRecorder{}
	result, err := newTestPipeline().Run(context.Background(), Request{
		Blob:     testBlob(),
		Provider: provider(server.URL),
		Prompt:   domain.PromptSettings{Enabled: true, Prompt: "fix spelling"},
		OnStage:  stages.record,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RawText != "helo wrld" {
		t.Fatalf("raw = %q", result.RawText)
	}
	if result.ProcessedText != "Hello, world." {
		t.Fatalf("processed = %q", result.ProcessedText)
	}
	if !strings.Contains(chatBody, `"fix spelling"`) || !strings.Contains(chatBody, `"helo wrld"`) {
		t.Fatalf("chat body = %q, want prompt and raw text", chatBody)
	}

	found := false
	for _, stage := range stages.Stages() {
		if stage == StageProcessing {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a processing stage")
	}
}

// TestRunPostProcessingFailureFallsBackToRaw checks non-fatal degradation.
func TestRunPostProcessingFailureFallsBackToRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio/transcriptions":
			_, _ = w.Write([]byte(`{"text": "raw transcript"}`))
		case "/chat/completions":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	result, err := newTestPipeline().Run(context.Background(), Request{
		Blob:     testBlob(),
		Provider: provider(server.URL),
		Prompt:   domain.PromptSettings{Enabled: true, Prompt: "rewrite"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ProcessedText != result.RawText || result.RawText != "raw transcript" {
		t.Fatalf("result = %+v, want processed falling back to raw", result)
	}
}

// TestRunRemovesUploadTempFileOnAllPaths checks temp-file discipline.
func TestRunRemovesUploadTempFileOnAllPaths(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"success", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"text": "ok"}`))
		}},
		{"provider_error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var mu sync.Mutex
			var created, removed []string
			pipeline := NewPipelineForTests(
				resty.New(),
				func(dir, pattern string) (*os.File, error) {
					file, err := os.CreateTemp(dir, pattern)
					if err == nil {
						mu.Lock()
						created = append(created, file.Name())
						mu.Unlock()
					}
					return file, err
				},
				func(name string) error {
					mu.Lock()
					removed = append(removed, name)
					mu.Unlock()
					return os.Remove(name)
				},
				time.Now,
			)

			_, _ = pipeline.Run(context.Background(), Request{
				Blob:     testBlob(),
				Provider: provider(server.URL),
			})

			mu.Lock()
			defer mu.Unlock()
			if len(created) != 1 || len(removed) != 1 || created[0] != removed[0] {
				t.Fatalf("created = %v removed = %v, want matching single temp file", created, removed)
			}
			if _, err := os.Stat(created[0]); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("temp file still present: %v", err)
			}
		})
	}
}

// TestRunCancelledContextNeverCompletes checks cooperative cancellation.
func TestRunCancelledContextNeverCompletes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte(`{"text": "too late"}`))
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	stages := &stageRecorder{}
	_, err := newTestPipeline().Run(ctx, Request{
		Blob:     testBlob(),
		Provider: provider(server.URL),
		OnStage:  stages.record,
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	for _, stage := range stages.Stages() {
		if stage == StageComplete {
			t.Fatal("cancelled run must not report completion")
		}
	}
}
