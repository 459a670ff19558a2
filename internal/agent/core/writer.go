package core

import (
	"context"
)

// FinalWriter writes sections that build on the researched content instead
// of running their own searches.
type FinalWriter struct {
	models Models
}

func NewFinalWriter(models Models) *FinalWriter {
	return &FinalWriter{models: models}
}

// Write fills section.Content from the merged research context.
func (w *FinalWriter) Write(ctx context.Context, cfg Configuration, topic string, section Section, researchContext string) (Section, error) {
	writer, err := w.models.Resolve(cfg.WriterRole())
	if err != nil {
		return section, providerErr("resolve writer", err)
	}
	system, user := finalSectionPrompt(topic, section.Name, section.Description, researchContext)
	err = withDeadline(ctx, cfg.StageTimeout, "final section", func(ctx context.Context) error {
		content, gerr := writer.Generate(ctx, system, user)
		if gerr == nil {
			section.Content = content
		}
		return gerr
	})
	if err != nil {
		return section, providerErr("final section", err)
	}
	return section, nil
}
