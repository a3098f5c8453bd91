// Package reasoner implements the "deep_reasoning" tool: hands a hard
// question to a text-only LLM and returns its answer, for problems the
// speech-to-speech model should not work through aloud.
//
// The backend goes through github.com/mozilla-ai/any-llm-go, so any of its
// supported providers (OpenAI, Anthropic, Gemini, Ollama, ...) can serve as
// the reasoning model.
package reasoner

import (
	"context"
	"fmt"
	"strings"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voxgate/pkg/tool"
)

// systemPrompt frames the reasoning call. The voice model injects the user's
// question verbatim as the tool parameter.
const systemPrompt = "You are a careful reasoning engine. Think through the problem step by step, " +
	"then give a concise final answer suitable for being read aloud."

// Tool calls a text LLM for multi-step reasoning. Construct with [New] or,
// in tests, [NewWithProvider].
type Tool struct {
	backend anyllm.Provider
	model   string
}

var _ tool.Tool = (*Tool)(nil)

// New creates the reasoning tool. providerName is one of "openai",
// "anthropic", "gemini" or "ollama"; API keys come from the provider's usual
// environment variable unless overridden through opts.
func New(providerName, model string, opts ...anyllm.Option) (*Tool, error) {
	if model == "" {
		return nil, fmt.Errorf("reasoner: model must not be empty")
	}

	var (
		backend anyllm.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = openai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("reasoner: unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("reasoner: create %q backend: %w", providerName, err)
	}

	return NewWithProvider(backend, model), nil
}

// NewWithProvider creates the tool over an existing any-llm provider.
func NewWithProvider(backend anyllm.Provider, model string) *Tool {
	return &Tool{backend: backend, model: model}
}

func (t *Tool) Name() string { return "deep_reasoning" }

func (t *Tool) Description() string {
	return "Delegate a hard multi-step problem (math, logic, planning, code) to a dedicated reasoning model and return its answer. Use when careful step-by-step thinking is needed."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"question": map[string]any{
			"type":        "string",
			"description": "The full problem statement, with all relevant details.",
		},
	}, "question")
}

// Execute forwards the question to the reasoning model. The invoking
// session's temperature and token budget carry over so operators tune one set
// of knobs.
func (t *Tool) Execute(ctx context.Context, params any, tc tool.Context) (any, error) {
	question, err := tool.RequireString(params, "question")
	if err != nil {
		return tool.ErrorResult("question is required"), nil
	}

	p := anyllm.CompletionParams{
		Model: t.model,
		Messages: []anyllm.Message{
			{Role: anyllm.RoleSystem, Content: systemPrompt},
			{Role: anyllm.RoleUser, Content: question},
		},
	}
	if tc.Temperature > 0 {
		temp := tc.Temperature
		p.Temperature = &temp
	}
	if tc.MaxTokens > 0 {
		mt := tc.MaxTokens
		p.MaxTokens = &mt
	}

	resp, err := t.backend.Completion(ctx, p)
	if err != nil {
		return tool.ErrorResult("reasoning model call failed: " + err.Error()), nil
	}
	if len(resp.Choices) == 0 {
		return tool.ErrorResult("reasoning model returned no answer"), nil
	}

	answer := resp.Choices[0].Message.ContentString()
	if strings.TrimSpace(answer) == "" {
		return tool.ErrorResult("reasoning model returned an empty answer"), nil
	}
	return map[string]any{"answer": answer, "model": t.model}, nil
}
