package tools

import (
	"context"
	"encoding/json"

	"github.com/ehrlich-b/perch/internal/llm"
)

// Result is what a tool run produced. Error is a message for the model,
// not a transport failure.
type Result struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Runner executes one named tool.
type Runner interface {
	Run(ctx context.Context, input json.RawMessage) (*Result, error)
	Spec() llm.ToolSpec
}

// Registry maps tool names to runners.
type Registry struct {
	runners map[string]Runner
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(runner Runner) {
	name := runner.Spec().Name
	if _, ok := r.runners[name]; !ok {
		r.order = append(r.order, name)
	}
	r.runners[name] = runner
}

// Specs returns tool descriptions in registration order, for handing
// to the model.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.runners[name].Spec())
	}
	return specs
}

func (r *Registry) Run(ctx context.Context, tool string, input json.RawMessage) (*Result, error) {
	runner, ok := r.runners[tool]
	if !ok {
		return &Result{Error: "unsupported tool: " + tool}, nil
	}
	return runner.Run(ctx, input)
}

// Builtin returns a registry with the stock tools.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(ClockRunner{})
	r.Register(EchoRunner{})
	return r
}
