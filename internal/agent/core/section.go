package core

import (
	"context"

	"go.uber.org/zap"
)

// ResearchLoop drives one section through query generation, search,
// drafting and grading until the draft is accepted.
type ResearchLoop struct {
	models   Models
	searcher Searcher
	logger   *zap.Logger
}

func NewResearchLoop(models Models, searcher Searcher, logger *zap.Logger) *ResearchLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchLoop{models: models, searcher: searcher, logger: logger}
}

// Decide returns whether a graded draft is accepted and, if not, the
// queries for the next search. The depth ceiling wins over a failing grade.
func Decide(review SectionReview, iteration, maxDepth int) (accept bool, next []SearchQuery) {
	if review.Grade == GradePass || iteration >= maxDepth {
		return true, nil
	}
	return false, review.FollowUpQueries
}

// Run researches section and returns it with its accepted content along with
// the number of search iterations performed.
func (l *ResearchLoop) Run(ctx context.Context, cfg Configuration, topic string, section Section) (Section, int, error) {
	writer, err := l.models.Resolve(cfg.WriterRole())
	if err != nil {
		return section, 0, providerErr("resolve writer", err)
	}
	grader, err := l.models.Resolve(cfg.PlannerRole())
	if err != nil {
		return section, 0, providerErr("resolve planner", err)
	}

	st := SectionRunState{Topic: topic, Section: section}
	log := l.logger.With(zap.String("section", section.Name))

	var qs queriesOutput
	system, user := sectionQueriesPrompt(topic, section.Description, cfg.NumberOfQueries)
	err = withDeadline(ctx, cfg.StageTimeout, "section queries", func(ctx context.Context) error {
		return writer.GenerateStructured(ctx, system, user, queriesSchema, &qs)
	})
	if err != nil {
		return section, 0, providerErr("section queries", err)
	}
	st.Queries = qs.Queries

	for {
		// Search
		err = withDeadline(ctx, cfg.StageTimeout, "section search", func(ctx context.Context) error {
			var serr error
			st.SourceContext, serr = l.searcher.Search(ctx, cfg.SearchAPI, queryTexts(st.Queries, cfg.NumberOfQueries), cfg.SearchAPIConfig)
			return serr
		})
		if err != nil {
			return st.Section, st.Iteration, providerErr("section search", err)
		}
		st.Iteration++

		// Draft
		inputs := sectionWriterInputs(topic, st.Section.Name, st.Section.Description, st.SourceContext, st.Section.Content)
		err = withDeadline(ctx, cfg.StageTimeout, "section draft", func(ctx context.Context) error {
			content, gerr := writer.Generate(ctx, sectionWriterSystem, inputs)
			if gerr == nil {
				st.Section.Content = content
			}
			return gerr
		})
		if err != nil {
			return st.Section, st.Iteration, providerErr("section draft", err)
		}

		// Grade
		var review SectionReview
		system, user := gradePrompt(topic, st.Section.Description, st.Section.Content, cfg.NumberOfQueries)
		err = withDeadline(ctx, cfg.StageTimeout, "section grade", func(ctx context.Context) error {
			return grader.GenerateStructured(ctx, system, user, reviewSchema, &review)
		})
		if err != nil {
			return st.Section, st.Iteration, providerErr("section grade", err)
		}

		accept, next := Decide(review, st.Iteration, cfg.MaxSearchDepth)
		log.Debug("section graded",
			zap.String("grade", string(review.Grade)),
			zap.Int("iteration", st.Iteration),
			zap.Bool("accepted", accept))
		if accept {
			return st.Section, st.Iteration, nil
		}
		st.Queries = next
	}
}
