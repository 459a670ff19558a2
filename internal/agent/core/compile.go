package core

import (
	"fmt"
	"strings"
)

// FormatSections flattens completed sections into the context handed to the
// final writers: one "name\ncontent" block per section, in the order given.
func FormatSections(sections []Section) string {
	blocks := make([]string, len(sections))
	for i, s := range sections {
		blocks[i] = s.Name + "\n" + s.Content
	}
	return strings.Join(blocks, "\n\n")
}

// Compile substitutes completed content into the planned sections by name
// and joins them with a blank line. A planned section with no completed
// counterpart contributes an empty block.
func Compile(planned, completed []Section) string {
	byName := make(map[string]string, len(completed))
	for _, s := range completed {
		byName[s.Name] = s.Content
	}
	bodies := make([]string, len(planned))
	for i, s := range planned {
		bodies[i] = byName[s.Name]
	}
	return strings.Join(bodies, "\n\n")
}

// FallbackReport is the placeholder document used when the pipeline fails
// and workflow.fallback_on_error is set.
func FallbackReport(topic string) string {
	return fmt.Sprintf(`# Report on %s

## Introduction
This is a fallback report generated due to an error in the report generation process.

## Key Points
- The requested topic was: %s
- Due to technical limitations, a full report could not be generated
- Please try again with a more specific topic or different configuration`, topic, topic)
}
