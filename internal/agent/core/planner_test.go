package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func plannerWith(t *testing.T, sections func(system, user string) (string, error)) (*Planner, *scriptedModel, *recordingSearcher) {
	model := &scriptedModel{structured: map[string]func(string, string) (string, error){
		"queries":  func(string, string) (string, error) { return twoQueries, nil },
		"sections": sections,
	}}
	searcher := &recordingSearcher{}
	return NewPlanner(staticModels{gen: model}, searcher, zaptest.NewLogger(t)), model, searcher
}

func TestPlanParsesSections(t *testing.T) {
	p, _, searcher := plannerWith(t, func(string, string) (string, error) {
		return "```json\n" + `{"sections":[{"name":"Intro","description":"overview","research":false,"content":"stale"},` +
			`{"name":"Body","description":"details","research":true}]}` + "\n```", nil
	})
	cfg := NewConfiguration(testConfig())

	sections, err := p.Plan(context.Background(), cfg, "Solar energy trends", "")
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, Section{Name: "Intro", Description: "overview"}, sections[0])
	assert.True(t, sections[1].Research)

	require.Len(t, searcher.calls, 1)
	assert.Equal(t, []string{"q1", "q2"}, searcher.calls[0])
	assert.Equal(t, "tavily", searcher.apis[0])
}

func TestPlanCapsSearchQueries(t *testing.T) {
	p, model, searcher := plannerWith(t, func(string, string) (string, error) {
		return `{"sections":[{"name":"Body","description":"details","research":true}]}`, nil
	})
	model.structured["queries"] = func(string, string) (string, error) {
		return `{"queries":[{"search_query":""},{"search_query":"q1"},{"search_query":"q2"},{"search_query":"q3"}]}`, nil
	}
	cfg := NewConfiguration(testConfig())
	cfg.NumberOfQueries = 2

	_, err := p.Plan(context.Background(), cfg, "Solar energy trends", "")
	require.NoError(t, err)
	require.Len(t, searcher.calls, 1)
	assert.Equal(t, []string{"q1", "q2"}, searcher.calls[0])
}

func TestPlanFallsBackToSkeleton(t *testing.T) {
	cases := map[string]string{
		"prose":        "I think the report should have an intro and a conclusion.",
		"broken json":  `{"sections": [{"name": "Intro",}`,
		"empty list":   `{"sections": []}`,
		"wrong shape":  `{"sections": "Intro, Body"}`,
		"nameless":     `{"sections": [{"description": "no name"}]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			p, _, _ := plannerWith(t, func(string, string) (string, error) { return reply, nil })
			sections, err := p.Plan(context.Background(), NewConfiguration(testConfig()), "Solar energy trends", "")
			require.NoError(t, err)
			assert.Equal(t, SkeletonPlan("Solar energy trends"), sections)
		})
	}
}

func TestSkeletonPlan(t *testing.T) {
	s := SkeletonPlan("Quantum networking")
	require.Len(t, s, 3)
	assert.Equal(t, "Introduction", s[0].Name)
	assert.False(t, s[0].Research)
	assert.Equal(t, "Primary information about Quantum networking", s[1].Description)
	assert.True(t, s[1].Research)
	assert.Equal(t, "Conclusion", s[2].Name)
}

func TestPlanPropagatesProviderErrors(t *testing.T) {
	p, _, _ := plannerWith(t, func(string, string) (string, error) { return "", errors.New("rate limited") })
	_, err := p.Plan(context.Background(), NewConfiguration(testConfig()), "topic", "")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "plan sections", pe.Op)

	p, _, searcher := plannerWith(t, nil)
	searcher.err = errors.New("search down")
	_, err = p.Plan(context.Background(), NewConfiguration(testConfig()), "topic", "")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "plan search", pe.Op)
}

func TestPlanThreadsFeedback(t *testing.T) {
	p, model, _ := plannerWith(t, func(system, user string) (string, error) {
		return `{"sections":[{"name":"Body","description":"d","research":true}]}`, nil
	})
	_, err := p.Plan(context.Background(), NewConfiguration(testConfig()), "topic", "add a section on policy")
	require.NoError(t, err)
	assert.Equal(t, 1, model.promptsContaining("add a section on policy"))
}

func TestPlanMakesNamesUnique(t *testing.T) {
	p, _, _ := plannerWith(t, func(string, string) (string, error) {
		return `{"sections":[{"name":"Body","research":true},{"name":"Body","research":true},{"name":" Body ","research":false}]}`, nil
	})
	sections, err := p.Plan(context.Background(), NewConfiguration(testConfig()), "topic", "")
	require.NoError(t, err)
	names := []string{sections[0].Name, sections[1].Name, sections[2].Name}
	assert.Equal(t, []string{"Body", "Body (2)", "Body (3)"}, names)
}
