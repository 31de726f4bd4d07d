package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func llmConfig(url string, retries int) model.APIConfig {
	return model.APIConfig{
		APIType:         model.APITypeLLM,
		APIKey:          "sk-test-123456",
		APIURL:          url,
		Model:           "test-model",
		ConcurrentLimit: 2,
		MaxRetries:      retries,
		RetryInterval:   0.5,
	}
}

func TestChatCompletionsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.deepseek.com", "https://api.deepseek.com/v1/chat/completions"},
		{"https://api.deepseek.com/", "https://api.deepseek.com/v1/chat/completions"},
		{"https://api.openai.com/v1/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"https://dashscope.aliyuncs.com/compatible-mode/v1", "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"},
		{"https://ark.cn-beijing.volces.com", "https://ark.cn-beijing.volces.com/api/v3/chat/completions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChatCompletionsURL(tt.base), tt.base)
	}
}

func TestLLM_RequestShapeAndFencedJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-123456", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = io.WriteString(w, chatBody("Sure:\n```json\n{\"label\": \"positive\", \"score\": 0.9}\n```"))
	}))
	defer srv.Close()

	cfg := llmConfig(srv.URL, 3)
	cfg.ModelParams = map[string]interface{}{"temperature": 0.2}
	p := NewLLMProvider(cfg)

	res, err := p.MakeRequest(context.Background(), "sys", "hello")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"label", "score"}, res.Fields().Keys())
	label, _ := res.Fields().Get("label")
	assert.Equal(t, "positive", label)

	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, 0.2, got["temperature"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]interface{})["content"])
}

func TestLLM_RetriesUntilExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sleeps := &sleepRecorder{}
	p := NewLLMProvider(llmConfig(srv.URL, 3), WithSleeper(sleeps.sleep))

	res, err := p.MakeRequest(context.Background(), "sys", "hello")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.False(t, exception.IsTemporary(err), "exhaustion is not retryable")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeps.delays)

	var exhausted *port.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Retries)
	assert.Contains(t, err.Error(), "request failed after 3 attempts")
}

func TestLLM_BackoffIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleeps := &sleepRecorder{}
	p := NewLLMProvider(llmConfig(srv.URL, 7), WithSleeper(sleeps.sleep))
	_, err := p.MakeRequest(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, sleeps.delays)
}

func TestLLM_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, chatBody(`{"ok": true}`))
	}))
	defer srv.Close()

	sleeps := &sleepRecorder{}
	p := NewLLMProvider(llmConfig(srv.URL, 5), WithSleeper(sleeps.sleep))
	res, err := p.MakeRequest(context.Background(), "s", "u")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestLLM_NullOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non retryable status", http.StatusBadRequest, `{"error":"bad"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"not json content", http.StatusOK, chatBody("I cannot answer that")},
		{"bad fenced json", http.StatusOK, chatBody("```json\n{broken\n```")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := NewLLMProvider(llmConfig(srv.URL, 3))
			res, err := p.MakeRequest(context.Background(), "s", "u")
			assert.NoError(t, err)
			assert.Nil(t, res)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
		})
	}
}

func TestLLM_ConcurrencyBoundedByPermits(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		_, _ = io.WriteString(w, chatBody(`{"ok": true}`))
	}))
	defer srv.Close()

	p := NewLLMProvider(llmConfig(srv.URL, 1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.MakeRequest(context.Background(), "s", "u")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestAgent_Responses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantNil bool
		check   func(t *testing.T, rec model.Record)
	}{
		{
			name: "json text",
			body: `{"output":{"text":"{\"answer\": \"42\"}"}}`,
			check: func(t *testing.T, rec model.Record) {
				v, _ := rec.Get("answer")
				assert.Equal(t, "42", v)
			},
		},
		{
			name: "plain text with usage",
			body: `{"code":200,"output":{"text":"hello there"},"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}`,
			check: func(t *testing.T, rec model.Record) {
				assert.Equal(t, []string{"content", "usage"}, rec.Keys())
				usage, _ := rec.Get("usage")
				total, _ := usage.(model.Record).Get("total_tokens")
				assert.EqualValues(t, 5, total)
			},
		},
		{
			name:    "application error code",
			body:    `{"code":"InvalidApiKey","message":"bad key"}`,
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/apps/app-1/completion", r.URL.Path)
				var req map[string]map[string]string
				body, _ := io.ReadAll(r.Body)
				require.NoError(t, json.Unmarshal(body, &req))
				assert.Equal(t, "user text", req["input"]["prompt"])
				assert.Equal(t, "sys text", req["parameters"]["system_prompt"])
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewProvider(model.APIConfig{
				APIType:         model.APITypeAliyunAgent,
				APIKey:          "key",
				APIURL:          srv.URL + "/",
				AppID:           "app-1",
				ConcurrentLimit: 1,
				MaxRetries:      2,
				RetryInterval:   0.5,
			})
			require.NoError(t, err)
			assert.Equal(t, model.APITypeAliyunAgent, p.APIType())

			res, err := p.MakeRequest(context.Background(), "sys text", "user text")
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			tt.check(t, res.Fields())
		})
	}
}

func TestNewProvider_UnsupportedType(t *testing.T) {
	_, err := NewProvider(model.APIConfig{APIType: "smtp"})
	assert.True(t, exception.IsValidationError(err))
}

func TestMakeRequest_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewLLMProvider(llmConfig(srv.URL, 5), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := p.MakeRequest(ctx, "s", "u")
	assert.ErrorIs(t, err, context.Canceled)
}
