package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/llm"
)

// scriptedModel answers structured calls by schema name and free-text calls
// by inspecting the prompt.
type scriptedModel struct {
	mu         sync.Mutex
	structured map[string]func(system, user string) (string, error)
	generate   func(system, user string) (string, error)
	prompts    []string
	block      bool
}

func (m *scriptedModel) record(system, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, system+"\n"+user)
}

func (m *scriptedModel) Generate(ctx context.Context, system, user string) (string, error) {
	m.record(system, user)
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.generate == nil {
		return "", errors.New("unexpected generate")
	}
	return m.generate(system, user)
}

func (m *scriptedModel) GenerateStructured(ctx context.Context, system, user string, schema llm.Schema, out any) error {
	m.record(system, user)
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	fn, ok := m.structured[schema.Name]
	if !ok {
		return fmt.Errorf("unexpected schema %s", schema.Name)
	}
	text, err := fn(system, user)
	if err != nil {
		return err
	}
	return llm.Decode(text, schema, out)
}

func (m *scriptedModel) promptsContaining(s string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p, s) {
			n++
		}
	}
	return n
}

type staticModels struct {
	gen llm.Generator
	err error
}

func (s staticModels) Resolve(role config.RoleConfig) (llm.Generator, error) {
	return s.gen, s.err
}

type recordingSearcher struct {
	mu     sync.Mutex
	calls  [][]string
	apis   []string
	params []map[string]any
	err    error
	// failCall makes only the n-th call fail, counting from 1
	failCall int
}

func (s *recordingSearcher) Search(ctx context.Context, api string, queries []string, params map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), queries...))
	s.apis = append(s.apis, api)
	s.params = append(s.params, params)
	if s.failCall > 0 && len(s.calls) == s.failCall {
		return "", errors.New("search backend reset")
	}
	if s.err != nil {
		return "", s.err
	}
	return "Sources: " + strings.Join(queries, ", "), nil
}

func (s *recordingSearcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i == -1 {
		return ""
	}
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	if j == -1 {
		return ""
	}
	return rest[:j]
}

func testConfig() *config.Config {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Planner: config.RoleConfig{Provider: "fake", Model: "planner"},
			Writer:  config.RoleConfig{Provider: "fake", Model: "writer"},
		},
		Search:   config.SearchConfig{API: "tavily"},
		Workflow: config.WorkflowConfig{NumberOfQueries: 2, MaxSearchDepth: 2, MaxPlanRevisions: 2},
	}
	cfg.Workflow = cfg.Workflow.Normalize()
	return cfg
}

const twoQueries = `{"queries":[{"search_query":"q1"},{"search_query":"q2"}]}`
