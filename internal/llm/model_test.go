package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeLLM struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.reply, f.err
}

type queries struct {
	Queries []struct {
		SearchQuery string `json:"search_query"`
	} `json:"queries"`
}

var querySchema = Schema{Name: "queries", Instructions: `{"queries":[{"search_query":"..."}]}`}

func TestGenerateSendsSystemAndUserMessages(t *testing.T) {
	fake := &fakeLLM{reply: "hello"}
	m := FromLLM(fake, "openai", config.RoleConfig{Model: "gpt-4o", Temperature: 0.2}, ModeJSON)

	out, err := m.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[1].Role)
	assert.InDelta(t, 0.2, fake.opts.Temperature, 1e-9)
	assert.False(t, fake.opts.JSONMode)
}

func TestGenerateStructuredJSONMode(t *testing.T) {
	fake := &fakeLLM{reply: `{"queries":[{"search_query":"solar cost"},{"search_query":"pv efficiency"}]}`}
	m := FromLLM(fake, "openai", config.RoleConfig{Model: "gpt-4o"}, ModeJSON)

	var q queries
	require.NoError(t, m.GenerateStructured(context.Background(), "sys", "user", querySchema, &q))
	require.Len(t, q.Queries, 2)
	assert.Equal(t, "solar cost", q.Queries[0].SearchQuery)
	assert.True(t, fake.opts.JSONMode)
}

func TestGenerateStructuredTextModeExtractsFence(t *testing.T) {
	fake := &fakeLLM{reply: "Sure!\n```json\n{\"queries\":[{\"search_query\":\"grid storage\"}]}\n```"}
	m := FromLLM(fake, "groq", config.RoleConfig{Model: "llama"}, ModeText)

	var q queries
	require.NoError(t, m.GenerateStructured(context.Background(), "sys", "user", querySchema, &q))
	require.Len(t, q.Queries, 1)
	assert.Equal(t, "grid storage", q.Queries[0].SearchQuery)
	assert.False(t, fake.opts.JSONMode)
}

func TestGenerateStructuredMalformed(t *testing.T) {
	fake := &fakeLLM{reply: "I cannot help with that"}
	m := FromLLM(fake, "groq", config.RoleConfig{Model: "llama"}, ModeText)

	var q queries
	err := m.GenerateStructured(context.Background(), "sys", "user", querySchema, &q)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestGenerateProviderErrorIsNotMalformed(t *testing.T) {
	fake := &fakeLLM{err: errors.New("503 unavailable")}
	var observed error
	m := FromLLM(fake, "openai", config.RoleConfig{Model: "gpt-4o"}, ModeJSON).
		WithObserver(func(provider, model, op string, took time.Duration, err error) { observed = err })

	var q queries
	err := m.GenerateStructured(context.Background(), "sys", "user", querySchema, &q)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedOutput)
	assert.Error(t, observed)
}

func TestRegistryCachesPerRole(t *testing.T) {
	builds := 0
	reg := NewRegistry(map[string]config.LLMProvider{"openai": {Type: "openai"}},
		func(name string, p config.LLMProvider, role config.RoleConfig) (Generator, error) {
			builds++
			return FromLLM(&fakeLLM{}, name, role, ModeJSON), nil
		}, nil)

	role := config.RoleConfig{Provider: "openai", Model: "gpt-4o"}
	a, err := reg.Resolve(role)
	require.NoError(t, err)
	b, err := reg.Resolve(role)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, builds)

	_, err = reg.Resolve(config.RoleConfig{Provider: "openai", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	_, err = reg.Resolve(config.RoleConfig{Provider: "missing", Model: "x"})
	assert.Error(t, err)
}

func TestNewModelRejectsUnknownProvider(t *testing.T) {
	_, err := NewModel("mystery", config.LLMProvider{Type: "mystery"}, config.RoleConfig{Model: "m"})
	assert.Error(t, err)
}
