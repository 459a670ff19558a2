package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deeres/internal/llm"
	"go.uber.org/zap"
)

// Planner produces the section list for a report.
type Planner struct {
	models   Models
	searcher Searcher
	logger   *zap.Logger
}

func NewPlanner(models Models, searcher Searcher, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{models: models, searcher: searcher, logger: logger}
}

// Plan generates planning queries, searches them and asks the planner model
// for sections. Unparseable planner output degrades to SkeletonPlan; model
// and search failures are returned as ProviderError.
func (p *Planner) Plan(ctx context.Context, cfg Configuration, topic, feedback string) ([]Section, error) {
	writer, err := p.models.Resolve(cfg.WriterRole())
	if err != nil {
		return nil, providerErr("resolve writer", err)
	}
	planner, err := p.models.Resolve(cfg.PlannerRole())
	if err != nil {
		return nil, providerErr("resolve planner", err)
	}

	var qs queriesOutput
	system, user := planQueriesPrompt(topic, cfg.ReportStructure, cfg.NumberOfQueries)
	err = withDeadline(ctx, cfg.StageTimeout, "plan queries", func(ctx context.Context) error {
		return writer.GenerateStructured(ctx, system, user, queriesSchema, &qs)
	})
	if err != nil {
		return nil, providerErr("plan queries", err)
	}

	var sourceCtx string
	err = withDeadline(ctx, cfg.StageTimeout, "plan search", func(ctx context.Context) error {
		var serr error
		sourceCtx, serr = p.searcher.Search(ctx, cfg.SearchAPI, queryTexts(qs.Queries, cfg.NumberOfQueries), cfg.SearchAPIConfig)
		return serr
	})
	if err != nil {
		return nil, providerErr("plan search", err)
	}

	var out sectionsOutput
	system, user = planSectionsPrompt(topic, cfg.ReportStructure, sourceCtx, feedback)
	err = withDeadline(ctx, cfg.StageTimeout, "plan sections", func(ctx context.Context) error {
		return planner.GenerateStructured(ctx, system, user, sectionsSchema, &out)
	})
	switch {
	case errors.Is(err, llm.ErrMalformedOutput):
		p.logger.Warn("planner output unusable, using skeleton plan",
			zap.String("topic", topic), zap.Error(fmt.Errorf("%w: %v", ErrValidation, err)))
		return SkeletonPlan(topic), nil
	case err != nil:
		return nil, providerErr("plan sections", err)
	}

	sections := normalizeSections(out.Sections)
	if len(sections) == 0 {
		p.logger.Warn("planner returned no sections, using skeleton plan", zap.String("topic", topic))
		return SkeletonPlan(topic), nil
	}
	return sections, nil
}

// SkeletonPlan is the fixed three-section plan used when planning output
// cannot be parsed.
func SkeletonPlan(topic string) []Section {
	return []Section{
		{Name: "Introduction", Description: "Introduction to the topic", Research: false},
		{Name: "Main Content", Description: fmt.Sprintf("Primary information about %s", topic), Research: true},
		{Name: "Conclusion", Description: "Summary of findings", Research: false},
	}
}

// normalizeSections clears content, drops nameless entries and makes names unique.
func normalizeSections(in []Section) []Section {
	seen := make(map[string]int, len(in))
	out := make([]Section, 0, len(in))
	for _, s := range in {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		s.Content = ""
		seen[s.Name]++
		if n := seen[s.Name]; n > 1 {
			s.Name = fmt.Sprintf("%s (%d)", s.Name, n)
		}
		out = append(out, s)
	}
	return out
}
