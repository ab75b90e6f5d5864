package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeMessagesAPI answers every request with a single text block.
func fakeMessagesAPI(t *testing.T, reply string, seen *string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		*seen = string(body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "test-model",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(&Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewClient() error = %v, want %v", err, ErrNoAPIKey)
	}
}

func TestClient_Suggest(t *testing.T) {
	var seen string
	reply := "Sure!\n```json\n{\"type\":\"autopilot_series\",\"series\":{\"subject\":\"Math\",\"topics\":[\"Limits\",\"Series\"]}}\n```"
	ts := fakeMessagesAPI(t, reply, &seen)

	c, err := NewClient(&Config{APIKey: "test-key", Model: "test-model", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	p, err := c.Suggest(context.Background(), Request{
		Prompt:   "Plan calculus revision",
		Today:    "2026-03-01",
		Subjects: []string{"Math", "Physics"},
	})
	if err != nil {
		t.Fatalf("Suggest() failed: %v", err)
	}
	if p.Type() != TypeAutopilotSeries {
		t.Errorf("Type() = %q, want %q", p.Type(), TypeAutopilotSeries)
	}
	for _, want := range []string{"Plan calculus revision", "2026-03-01", "Math, Physics", "test-model"} {
		if !strings.Contains(seen, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestClient_SuggestRejectsProse(t *testing.T) {
	var seen string
	ts := fakeMessagesAPI(t, "I cannot help with that.", &seen)
	c, err := NewClient(&Config{APIKey: "test-key", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if _, err := c.Suggest(context.Background(), Request{Prompt: "hi"}); !errors.Is(err, ErrUnknownPayload) {
		t.Errorf("Suggest() error = %v, want %v", err, ErrUnknownPayload)
	}
	if _, err := c.Suggest(context.Background(), Request{Prompt: "  "}); err == nil {
		t.Error("Suggest() accepted an empty prompt")
	}
}
