// Package ai provides the node that sends prompts to a language model.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

const (
	OperationComplete  = "complete"
	OperationClassify  = "classify"
	OperationExtract   = "extract"
	OperationSummarize = "summarize"
)

// ErrNoCompleter is returned when the node runs without a model client.
var ErrNoCompleter = errors.New("no language model configured")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the model response.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Completer talks to a language model.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type Node struct {
	completer Completer
	model     string
}

// New creates the executor; model is used when the node config names none.
func New(completer Completer, model string) *Node {
	return &Node{completer: completer, model: model}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindAI }
func (n *Node) Name() string          { return "AI" }

func (n *Node) Description() string {
	return "Completes, classifies, extracts from or summarizes text with a language model"
}

func (n *Node) RequiredInputs() []string {
	return []string{"prompt"}
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":    "string",
				"enum":    []string{OperationComplete, OperationClassify, OperationExtract, OperationSummarize},
				"default": OperationComplete,
			},
			"prompt": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Prompt or input text; supports references",
			},
			"system":      map[string]any{"type": "string"},
			"model":       map[string]any{"type": "string"},
			"labels":      map[string]any{"type": []string{"array", "string"}, "items": map[string]any{"type": "string"}},
			"fields":      map[string]any{"type": []string{"array", "string"}, "items": map[string]any{"type": "string"}},
			"temperature": nodes.Templated("number", map[string]any{"minimum": 0, "maximum": 2}),
			"maxTokens":   nodes.Templated("integer", map[string]any{"minimum": 1}),
		},
		"required": []string{"prompt"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	switch nodes.String(config, "operation", OperationComplete) {
	case OperationClassify:
		if config["labels"] == nil {
			return nodes.InvalidConfig("classify requires labels")
		}
	case OperationExtract:
		if config["fields"] == nil {
			return nodes.InvalidConfig("extract requires fields")
		}
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	if n.completer == nil {
		return nodes.Output{}, nodes.Terminal(ErrNoCompleter)
	}

	temperature, err := nodes.Float(in.Config, "temperature", 0)
	if err != nil {
		return nodes.Output{}, err
	}

	maxTokens, err := nodes.Int(in.Config, "maxTokens", 0)
	if err != nil {
		return nodes.Output{}, err
	}

	op := nodes.String(in.Config, "operation", OperationComplete)
	prompt := nodes.String(in.Config, "prompt", "")

	req := CompletionRequest{
		Model:       nodes.String(in.Config, "model", n.model),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	system := nodes.String(in.Config, "system", "")
	labels := stringList(in.Config["labels"])
	fields := stringList(in.Config["fields"])

	switch op {
	case OperationComplete:
	case OperationClassify:
		if len(labels) == 0 {
			return nodes.Output{}, nodes.InvalidConfig("classify requires labels")
		}

		system = "Classify the user's text. Answer with exactly one of these labels and nothing else: " + strings.Join(labels, ", ")
	case OperationExtract:
		if len(fields) == 0 {
			return nodes.Output{}, nodes.InvalidConfig("extract requires fields")
		}

		system = "Extract the following fields from the user's text and answer with a JSON object using exactly these keys (null when absent): " + strings.Join(fields, ", ")
		req.JSON = true
	case OperationSummarize:
		if system == "" {
			system = "Summarize the user's text concisely."
		}
	default:
		return nodes.Output{}, nodes.InvalidConfig("unknown operation %q", op)
	}

	if system != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: system})
	}

	req.Messages = append(req.Messages, Message{Role: "user", Content: prompt})

	completion, err := n.completer.Complete(ctx, req)
	if err != nil {
		return nodes.Output{}, err
	}

	data := map[string]any{
		"text":  completion.Text,
		"model": completion.Model,
		"usage": map[string]any{
			"promptTokens":     float64(completion.Usage.PromptTokens),
			"completionTokens": float64(completion.Usage.CompletionTokens),
			"totalTokens":      float64(completion.Usage.TotalTokens),
		},
	}

	switch op {
	case OperationClassify:
		data["label"] = matchLabel(completion.Text, labels)
	case OperationExtract:
		var extracted map[string]any

		err := json.Unmarshal([]byte(stripFence(completion.Text)), &extracted)
		if err != nil {
			return nodes.Output{}, nodes.Retryable(fmt.Errorf("model returned invalid JSON: %w", err))
		}

		data["data"] = extracted
	}

	return nodes.Output{Data: data, Branch: branchFor(op, data)}, nil
}

// branchFor lets classify nodes route on their label.
func branchFor(op string, data map[string]any) string {
	if op != OperationClassify {
		return ""
	}

	label, _ := data["label"].(string)

	return label
}

// matchLabel maps a free-text answer onto the closest configured label;
// an unrecognised answer yields "".
func matchLabel(answer string, labels []string) string {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(answer), `."'`))

	for _, label := range labels {
		if strings.ToLower(label) == normalized {
			return label
		}
	}

	for _, label := range labels {
		if strings.Contains(normalized, strings.ToLower(label)) {
			return label
		}
	}

	return ""
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")

	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))

		for _, item := range list {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}

		return out
	case string:
		var out []string

		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}

		return out
	default:
		return nil
	}
}
