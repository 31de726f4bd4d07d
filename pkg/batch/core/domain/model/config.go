package model

import (
	"strings"
)

// API provider variants.
const (
	APITypeLLM         = "llm"
	APITypeAliyunAgent = "aliyun_agent"
)

// Built-in processing defaults.
const (
	DefaultBatchSize            = 5
	DefaultLLMConcurrentLimit   = 10
	DefaultAgentConcurrentLimit = 5
	DefaultMaxRetries           = 5
	DefaultRetryInterval        = 0.5
	DefaultPacingInterval       = 0.5
)

// APIConfig configures the outbound API provider.
type APIConfig struct {
	APIType         string                 `json:"api_type" yaml:"api_type"`
	APIKey          string                 `json:"api_key" yaml:"api_key"`
	APIURL          string                 `json:"api_url" yaml:"api_url"`
	BaseURL         string                 `json:"base_url,omitempty" yaml:"base_url"`
	Model           string                 `json:"model,omitempty" yaml:"model"`
	AppID           string                 `json:"app_id,omitempty" yaml:"app_id"`
	ModelParams     map[string]interface{} `json:"model_params,omitempty" yaml:"model_params"`
	ConcurrentLimit int                    `json:"concurrent_limit,omitempty" yaml:"concurrent_limit"`
	MaxRetries      int                    `json:"max_retries,omitempty" yaml:"max_retries"`
	RetryInterval   float64                `json:"retry_interval,omitempty" yaml:"retry_interval"`
}

// Endpoint returns APIURL, falling back to BaseURL.
func (c APIConfig) Endpoint() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return c.BaseURL
}

// PromptConfig is the prompt template applied to every row.
type PromptConfig struct {
	System    string `json:"system" yaml:"system"`
	Task      string `json:"task" yaml:"task"`
	Output    string `json:"output" yaml:"output"`
	Variables string `json:"variables,omitempty" yaml:"variables"`
	Examples  string `json:"examples,omitempty" yaml:"examples"`
}

// ProcessOptions controls batching and the row window.
type ProcessOptions struct {
	BatchSize int `json:"batchSize,omitempty"`
	StartPos  int `json:"startPos,omitempty"`
	// EndPos is exclusive; nil reads to the end of the file.
	EndPos *int `json:"endPos,omitempty"`
	// PacingInterval is the pause between batches in seconds.
	PacingInterval *float64 `json:"retryInterval,omitempty"`
	// SkipEmpty counts rows whose selected content is empty as skipped instead of failed.
	SkipEmpty bool `json:"skipEmpty,omitempty"`
}

// ProcessingDefaults fills the values a request leaves unset.
type ProcessingDefaults struct {
	BatchSize            int
	PacingInterval       float64
	MaxRetries           int
	RetryInterval        float64
	LLMConcurrentLimit   int
	AgentConcurrentLimit int
}

// BuiltinDefaults returns the defaults used when nothing is configured.
func BuiltinDefaults() ProcessingDefaults {
	return ProcessingDefaults{
		BatchSize:            DefaultBatchSize,
		PacingInterval:       DefaultPacingInterval,
		MaxRetries:           DefaultMaxRetries,
		RetryInterval:        DefaultRetryInterval,
		LLMConcurrentLimit:   DefaultLLMConcurrentLimit,
		AgentConcurrentLimit: DefaultAgentConcurrentLimit,
	}
}

// WithDefaults returns a copy of c with unset limits filled from d.
func (c APIConfig) WithDefaults(d ProcessingDefaults) APIConfig {
	if c.APIURL == "" {
		c.APIURL = c.BaseURL
	}
	if c.ConcurrentLimit <= 0 {
		if c.APIType == APITypeAliyunAgent {
			c.ConcurrentLimit = d.AgentConcurrentLimit
		} else {
			c.ConcurrentLimit = d.LLMConcurrentLimit
		}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	return c
}

// WithDefaults returns a copy of o with unset values filled from d.
func (o ProcessOptions) WithDefaults(d ProcessingDefaults) ProcessOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.StartPos < 0 {
		o.StartPos = 0
	}
	if o.PacingInterval == nil {
		p := d.PacingInterval
		o.PacingInterval = &p
	}
	return o
}

// Pacing returns the inter-batch pause in seconds.
func (o ProcessOptions) Pacing() float64 {
	if o.PacingInterval == nil {
		return 0
	}
	return *o.PacingInterval
}

// ValidationErrors lists every missing or invalid setting; empty means valid.
func ValidationErrors(api APIConfig, prompt PromptConfig) []string {
	var errs []string
	if api.APIKey == "" {
		errs = append(errs, "missing api_key")
	}
	if api.Endpoint() == "" {
		errs = append(errs, "missing api_url")
	}
	switch api.APIType {
	case "":
		errs = append(errs, "missing api_type")
	case APITypeLLM:
		if api.Model == "" {
			errs = append(errs, "model is required for api_type llm")
		}
	case APITypeAliyunAgent:
		if api.AppID == "" {
			errs = append(errs, "app_id is required for api_type aliyun_agent")
		}
	default:
		errs = append(errs, "unsupported api_type "+api.APIType)
	}
	if strings.TrimSpace(prompt.System) == "" {
		errs = append(errs, "missing system prompt")
	}
	if strings.TrimSpace(prompt.Task) == "" {
		errs = append(errs, "missing task prompt")
	}
	if strings.TrimSpace(prompt.Output) == "" {
		errs = append(errs, "missing output format")
	}
	return errs
}

// StartRequest is the input of a start operation.
type StartRequest struct {
	DataFile       string         `json:"dataFile"`
	SelectedFields []int          `json:"selectedFields"`
	APIConfig      APIConfig      `json:"apiConfig"`
	PromptConfig   PromptConfig   `json:"promptConfig"`
	Options        ProcessOptions `json:"options"`
}

// TaskWindow is the part of a data file a task covers.
type TaskWindow struct {
	SelectedFields []int `json:"selectedFields,omitempty"`
	StartPos       int   `json:"startPos,omitempty"`
	// EndPos is nil when the window runs to the end of the file.
	EndPos *int `json:"endPos,omitempty"`
}

// NewTaskWindow normalizes a requested window against a file of totalRows data rows,
// so that equivalent requests compare equal.
func NewTaskWindow(fields []int, startPos int, endPos *int, totalRows int) TaskWindow {
	w := TaskWindow{SelectedFields: append([]int(nil), fields...), StartPos: startPos}
	if w.StartPos < 0 {
		w.StartPos = 0
	}
	if endPos != nil && *endPos < totalRows {
		end := *endPos
		w.EndPos = &end
	}
	return w
}

// IdentityConfig is the part of a request that determines the configuration hash.
// A task is resumed only by a request with the same configuration and window.
type IdentityConfig struct {
	APIConfig    APIConfig    `json:"apiConfig"`
	PromptConfig PromptConfig `json:"promptConfig"`
	Window       TaskWindow   `json:"window"`
}
