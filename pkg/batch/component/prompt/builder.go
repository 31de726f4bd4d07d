// Package prompt turns a prompt template and one row's content into the
// system and user messages sent to a provider.
package prompt

import (
	"strings"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Placeholder is replaced by the row content in the task template.
const Placeholder = "{input_text}"

// DefaultSystem is used when the template has no system prompt.
const DefaultSystem = "You are a professional assistant."

// Prompt is the pair of messages for one row.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Build renders template for rowContent. Only the first placeholder is substituted.
func Build(template model.PromptConfig, rowContent string) Prompt {
	task := template.Task
	if task == "" {
		task = Placeholder
	}

	var user strings.Builder
	user.WriteString(strings.Replace(task, Placeholder, rowContent, 1))
	if template.Variables != "" {
		user.WriteString("\n\nVariables:\n")
		user.WriteString(template.Variables)
	}
	if template.Examples != "" {
		user.WriteString("\n\nExamples:\n")
		user.WriteString(template.Examples)
	}
	if template.Output != "" {
		user.WriteString("\n\nPlease output in the following format:\n")
		user.WriteString(template.Output)
	}

	system := template.System
	if system == "" {
		system = DefaultSystem
	}
	return Prompt{System: system, User: user.String()}
}
