package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ehrlich-b/perch/internal/llm"
)

// ClockRunner reports the current time.
type ClockRunner struct{}

func (ClockRunner) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "clock",
		Description: "Get the current date and time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (ClockRunner) Run(ctx context.Context, input json.RawMessage) (*Result, error) {
	return &Result{Output: time.Now().Format(time.RFC3339)}, nil
}

// EchoRunner returns its input text unchanged.
type EchoRunner struct{}

func (EchoRunner) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "echo",
		Description: "Echo the given text back",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to echo",
				},
			},
			"required": []string{"text"},
		},
	}
}

func (EchoRunner) Run(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &Result{Error: "invalid echo input: " + err.Error()}, nil
	}
	return &Result{Output: params.Text}, nil
}
