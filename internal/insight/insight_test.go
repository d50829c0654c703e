package insight_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/insight"
	"github.com/myrjola/struggle/internal/testhelpers"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI serves /v1/chat/completions with handler.
func fakeOpenAI(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		var req chatRequest
		if err = json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode body %s: %v", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1/"
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func newClient(t *testing.T, baseURL string) *insight.OpenAIClient {
	t.Helper()
	return insight.NewOpenAIClient(insight.Config{APIKey: "test-key", BaseURL: baseURL, Model: ""},
		testhelpers.NewLogger(testhelpers.NewWriter(t)))
}

func TestOpenAIClient_Insight(t *testing.T) {
	var got chatRequest
	url := fakeOpenAI(t, func(w http.ResponseWriter, req chatRequest) {
		got = req
		_, _ = io.WriteString(w, completion("**Crushed it.** 20% under target."))
	})
	c := newClient(t, url)

	text, err := c.Insight(t.Context(), insight.Request{
		Context: "Protocol Inferno",
		Metrics: map[string]float64{"target_seconds": 300, "actual_seconds": 240},
	})
	if err != nil {
		t.Fatalf("Insight: %v", err)
	}
	if text != "**Crushed it.** 20% under target." {
		t.Errorf("Insight() = %q", text)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	want := "Protocol Inferno\n- actual_seconds: 240\n- target_seconds: 300"
	if got.Messages[1].Content != want {
		t.Errorf("user message = %q, want %q", got.Messages[1].Content, want)
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	url := fakeOpenAI(t, func(w http.ResponseWriter, req chatRequest) {
		if !strings.Contains(req.Messages[0].Content, "streak 3") {
			t.Errorf("system prompt lacks context: %q", req.Messages[0].Content)
		}
		_, _ = io.WriteString(w, completion("Rest tomorrow."))
	})
	reply, err := newClient(t, url).Chat(t.Context(), insight.ChatRequest{Message: "Should I rest?", Context: "streak 3"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Rest tomorrow." {
		t.Errorf("Chat() = %q", reply)
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   insight.Kind
	}{
		{
			name:   "rate limit",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			want:   insight.KindRateLimit,
		},
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"You exceeded your quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			want:   insight.KindQuotaExceeded,
		},
		{
			name:   "authentication",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`,
			want:   insight.KindAuthentication,
		},
		{
			name:   "server",
			status: http.StatusBadGateway,
			body:   `{"error":{"message":"upstream","type":"server_error","code":null}}`,
			want:   insight.KindServer,
		},
		{
			name:   "empty",
			status: http.StatusOK,
			body:   completion("  "),
			want:   insight.KindEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := newClient(t, url).Insight(t.Context(), insight.Request{Context: "x", Metrics: nil})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := insight.KindOf(err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	url := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, completion("late"))
	})
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := newClient(t, url).Insight(ctx, insight.Request{Context: "x", Metrics: nil})
	if got := insight.KindOf(err); got != insight.KindTimeout {
		t.Errorf("KindOf() = %q, want %q (err %v)", got, insight.KindTimeout, err)
	}
	var e *insight.Error
	if !errors.As(err, &e) || !e.Retryable() {
		t.Errorf("expected retryable classified error, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	var c insight.Client = insight.Disabled{}
	if _, err := c.Insight(t.Context(), insight.Request{Context: "", Metrics: nil}); insight.KindOf(err) != insight.KindDisabled {
		t.Errorf("Insight() error = %v", err)
	}
	if _, err := c.Chat(t.Context(), insight.ChatRequest{Message: "hi", Context: ""}); !errors.Is(err, insight.ErrDisabled) {
		t.Errorf("Chat() error = %v", err)
	}
}
