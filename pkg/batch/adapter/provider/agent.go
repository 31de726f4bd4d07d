package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// AgentProvider calls an application completion endpoint identified by an app id.
type AgentProvider struct {
	*client
	url   string
	appID string
}

// NewAgentProvider creates an AgentProvider.
func NewAgentProvider(cfg model.APIConfig, opts ...Option) *AgentProvider {
	base := strings.TrimSuffix(cfg.Endpoint(), "/")
	p := &AgentProvider{
		client: newClient(model.APITypeAliyunAgent, cfg, opts),
		url:    fmt.Sprintf("%s/api/v1/apps/%s/completion", base, cfg.AppID),
		appID:  cfg.AppID,
	}
	logger.Infof("Agent provider ready: %s app=%s %s", p.url, p.appID, p.describe())
	return p
}

// APIType implements port.Provider.
func (p *AgentProvider) APIType() string { return model.APITypeAliyunAgent }

// MakeRequest implements port.Provider.
func (p *AgentProvider) MakeRequest(ctx context.Context, system, user string) (*model.APIResult, error) {
	payload := map[string]interface{}{
		"input":      map[string]string{"prompt": user},
		"parameters": map[string]string{"system_prompt": system},
	}
	return p.post(ctx, p.url, payload, parseAppCompletion)
}

type appCompletion struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Output  struct {
		Text string `json:"text"`
	} `json:"output"`
	Usage map[string]json.RawMessage `json:"usage"`
}

// codeOK reports whether the optional code field is absent or equals 200.
func (r appCompletion) codeOK() bool {
	if len(r.Code) == 0 {
		return true
	}
	var n json.Number
	if err := json.Unmarshal(r.Code, &n); err == nil {
		return n.String() == "200"
	}
	var s string
	if err := json.Unmarshal(r.Code, &s); err == nil {
		return s == "200"
	}
	return false
}

func parseAppCompletion(body []byte) *model.APIResult {
	var resp appCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.Errorf("Invalid app completion response: %v", err)
		return nil
	}
	if !resp.codeOK() {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		logger.Errorf("App completion failed with code %s: %s", string(resp.Code), msg)
		return nil
	}

	text := strings.TrimSpace(resp.Output.Text)
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if rec, err := model.DecodeRecord([]byte(text)); err == nil {
			return &model.APIResult{Value: rec}
		}
		logger.Debugf("App completion text is not valid JSON, keeping it as content")
	}

	result := model.Record{{Key: "content", Value: resp.Output.Text}}
	if len(resp.Usage) > 0 {
		result.Set("usage", model.Record{
			{Key: "input_tokens", Value: tokenCount(resp.Usage["input_tokens"])},
			{Key: "output_tokens", Value: tokenCount(resp.Usage["output_tokens"])},
			{Key: "total_tokens", Value: tokenCount(resp.Usage["total_tokens"])},
		})
	}
	return &model.APIResult{Value: result}
}

func tokenCount(raw json.RawMessage) int64 {
	var n int64
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &n)
	}
	return n
}
