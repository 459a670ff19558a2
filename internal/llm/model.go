// Package llm provides the language-model collaborators used by the report
// workflow, backed by langchaingo providers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// ErrMalformedOutput marks a completion that could not be decoded into the
// requested structure.
var ErrMalformedOutput = errors.New("malformed structured output")

// Generator is one blocking call to a language model. GenerateStructured
// decodes the completion into out.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	GenerateStructured(ctx context.Context, system, user string, schema Schema, out any) error
}

// Schema names a structured output and describes its JSON shape to the model.
type Schema struct {
	Name         string
	Instructions string
}

// Mode selects how structured output is obtained from a provider.
type Mode int

const (
	// ModeJSON asks the provider for a JSON response natively.
	ModeJSON Mode = iota
	// ModeText relies on prompting and extracts JSON from free text.
	ModeText
)

// ObserveFunc receives the outcome of every model call.
type ObserveFunc func(provider, model, op string, took time.Duration, err error)

// Model wraps a langchaingo model for one provider/model pair.
type Model struct {
	llm       llms.Model
	provider  string
	modelName string
	mode      Mode
	callOpts  []llms.CallOption
	observe   ObserveFunc
}

// NewModel creates a model for the given provider settings and role.
func NewModel(name string, p config.LLMProvider, role config.RoleConfig) (*Model, error) {
	var (
		model llms.Model
		err   error
		mode  = ModeJSON
	)

	kind := strings.ToLower(p.Type)
	if kind == "" {
		kind = strings.ToLower(name)
	}

	switch kind {
	case "openai":
		opts := []openai.Option{openai.WithToken(p.APIKey), openai.WithModel(role.Model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		model, err = openai.New(opts...)
	case "groq":
		base := p.BaseURL
		if base == "" {
			base = groqBaseURL
		}
		model, err = openai.New(openai.WithToken(p.APIKey), openai.WithModel(role.Model), openai.WithBaseURL(base))
		mode = ModeText
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(p.APIKey), anthropic.WithModel(role.Model)}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		model, err = anthropic.New(opts...)
		mode = ModeText
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(role.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", kind, err)
	}
	return FromLLM(model, name, role, mode), nil
}

// FromLLM wraps an already constructed langchaingo model.
func FromLLM(model llms.Model, provider string, role config.RoleConfig, mode Mode) *Model {
	var opts []llms.CallOption
	if role.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(role.Temperature))
	}
	if role.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(role.MaxTokens))
	}
	return &Model{
		llm:       model,
		provider:  provider,
		modelName: role.Model,
		mode:      mode,
		callOpts:  opts,
	}
}

// WithObserver returns the model with an observer attached.
func (m *Model) WithObserver(fn ObserveFunc) *Model {
	m.observe = fn
	return m
}

// Name returns provider/model.
func (m *Model) Name() string {
	return m.provider + "/" + m.modelName
}

// Generate generates free text from a system and user prompt.
func (m *Model) Generate(ctx context.Context, system, user string) (string, error) {
	return m.call(ctx, "generate", system, user, m.callOpts)
}

// GenerateStructured asks for a JSON value matching schema and decodes it into out.
// Decoding failures wrap ErrMalformedOutput; transport failures do not.
func (m *Model) GenerateStructured(ctx context.Context, system, user string, schema Schema, out any) error {
	system = strings.TrimSpace(system) + "\n\n" + schema.Instructions +
		"\nRespond with a single valid JSON object and nothing else."
	opts := m.callOpts
	if m.mode == ModeJSON {
		opts = append(append([]llms.CallOption{}, opts...), llms.WithJSONMode())
	}

	text, err := m.call(ctx, "structured:"+schema.Name, system, user, opts)
	if err != nil {
		return err
	}
	return Decode(text, schema, out)
}

// Decode extracts and unmarshals the JSON value embedded in text.
func Decode(text string, schema Schema, out any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, schema.Name, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, schema.Name, err)
	}
	return nil
}

func (m *Model) call(ctx context.Context, op, system, user string, opts []llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err == nil && len(response.Choices) == 0 {
		err = errors.New("no response choices")
	}
	if m.observe != nil {
		m.observe(m.provider, m.modelName, op, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", m.Name(), op, err)
	}
	return response.Choices[0].Content, nil
}
