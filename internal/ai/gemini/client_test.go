package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type modelCall struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

type fakeModels struct {
	mu    sync.Mutex
	calls []modelCall
	queue []fakeResponse
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var prompt string
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		prompt = contents[0].Parts[0].Text
	}
	f.calls = append(f.calls, modelCall{model: model, prompt: prompt, config: config})

	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.resp, res.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	original := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleep = original })
	return &waits
}

func TestClientRetriesOnTemporaryError(t *testing.T) {
	waits := noSleep(t)

	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	models.enqueue(textResponse("retry", " ok "), nil)

	c := newClient(models, Config{Model: "gemini-pro", MaxRetries: 2}, nil)

	output, err := c.GenerateContent(context.Background(), "system", "message")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "retry\nok" {
		t.Fatalf("unexpected output: %q", output)
	}
	if len(models.calls) != 2 || len(*waits) != 1 {
		t.Fatalf("expected 2 calls and 1 wait, got %d and %d", len(models.calls), len(*waits))
	}

	for _, call := range models.calls {
		if call.model != "gemini-pro" || call.prompt != "message" {
			t.Fatalf("unexpected call %+v", call)
		}
		if call.config == nil || call.config.SystemInstruction == nil {
			t.Fatalf("expected system instruction to be set")
		}
		if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
			t.Fatalf("unexpected system instruction: %q", got)
		}
	}
}

func TestClientStopsAfterRetriesExhausted(t *testing.T) {
	noSleep(t)

	models := &fakeModels{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	models.enqueue(nil, tempErr)
	models.enqueue(nil, tempErr)

	c := newClient(models, Config{MaxRetries: 2}, nil)

	if _, err := c.GenerateContent(context.Background(), "sys", "msg"); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if len(models.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.calls))
	}
}

func TestClientQuotaDelays(t *testing.T) {
	tests := []struct {
		name    string
		message string
		calls   int
		wait    time.Duration
	}{
		{name: "short delay is honored", message: "quota exhausted, retry in 5s", calls: 2, wait: 5 * time.Second},
		{name: "long delay is not retried", message: "quota exhausted, retry after 60 seconds", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waits := noSleep(t)

			models := &fakeModels{}
			models.enqueue(nil, genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: tt.message})
			models.enqueue(textResponse("ok"), nil)

			c := newClient(models, Config{MaxRetries: 3}, nil)
			_, err := c.GenerateContent(context.Background(), "sys", "msg")

			if len(models.calls) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(models.calls))
			}
			if tt.calls == 1 && err == nil {
				t.Fatal("expected error when quota delay too long")
			}
			if tt.wait > 0 && ((*waits)[0] != tt.wait || err != nil) {
				t.Fatalf("expected a %s wait and success, got %v and %v", tt.wait, *waits, err)
			}
		})
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	noSleep(t)

	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	c := newClient(models, Config{}, nil)
	if _, err := c.GenerateContent(context.Background(), "", "msg"); err == nil {
		t.Fatal("expected error")
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(models.calls))
	}
	if models.calls[0].config.SystemInstruction != nil {
		t.Fatalf("expected no system instruction for an empty system prompt")
	}
}

func TestClientRejectsEmptyAnswers(t *testing.T) {
	models := &fakeModels{}
	models.enqueue(textResponse("  "), nil)

	c := newClient(models, Config{}, nil)
	if _, err := c.GenerateContent(context.Background(), "", "msg"); err == nil {
		t.Fatal("expected error for an empty answer")
	}
	if _, err := c.GenerateContent(context.Background(), "", "  "); err == nil {
		t.Fatal("expected error for an empty prompt")
	}
	if c.Model() != defaultModel {
		t.Fatalf("expected default model, got %q", c.Model())
	}
}
