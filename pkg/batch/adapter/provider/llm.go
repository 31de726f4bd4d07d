package provider

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// LLMProvider talks to an OpenAI style chat completions endpoint.
type LLMProvider struct {
	*client
	url         string
	model       string
	modelParams map[string]interface{}
}

// NewLLMProvider creates an LLMProvider. The endpoint path is derived from the host.
func NewLLMProvider(cfg model.APIConfig, opts ...Option) *LLMProvider {
	p := &LLMProvider{
		client:      newClient(model.APITypeLLM, cfg, opts),
		url:         ChatCompletionsURL(cfg.Endpoint()),
		model:       cfg.Model,
		modelParams: cfg.ModelParams,
	}
	logger.Infof("LLM provider ready: %s model=%s %s", p.url, p.model, p.describe())
	return p
}

// ChatCompletionsURL normalizes base and appends the endpoint path for its host.
func ChatCompletionsURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/v1/chat/completions")
	lower := strings.ToLower(base)
	switch {
	case strings.Contains(lower, "dashscope.aliyuncs.com"):
		return base + "/chat/completions"
	case strings.Contains(lower, "volces.com"):
		return base + "/api/v3/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

// APIType implements port.Provider.
func (p *LLMProvider) APIType() string { return model.APITypeLLM }

// MakeRequest implements port.Provider.
func (p *LLMProvider) MakeRequest(ctx context.Context, system, user string) (*model.APIResult, error) {
	payload := make(map[string]interface{}, len(p.modelParams)+2)
	payload["model"] = p.model
	payload["messages"] = []map[string]string{
		{"role": "system", "content": system},
		{"role": "user", "content": user},
	}
	for k, v := range p.modelParams {
		payload[k] = v
	}
	return p.post(ctx, p.url, payload, parseChatCompletion)
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func parseChatCompletion(body []byte) *model.APIResult {
	var resp chatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.Errorf("Invalid chat completion response: %v", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		logger.Errorf("Chat completion response has no choices")
		return nil
	}

	content := resp.Choices[0].Message.Content
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	value, err := decodeJSON(content)
	if err != nil {
		logger.Errorf("Model output is not JSON (%v): %s", err, truncate(content, 200))
		return nil
	}
	return &model.APIResult{Value: value}
}

// decodeJSON decodes any JSON value, keeping object key order.
func decodeJSON(s string) (interface{}, error) {
	rec, err := model.DecodeRecord([]byte(s))
	if err == nil {
		return rec, nil
	}
	var v interface{}
	if jerr := json.Unmarshal([]byte(s), &v); jerr != nil {
		return nil, jerr
	}
	return v, nil
}
