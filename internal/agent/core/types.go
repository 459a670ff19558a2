package core

import (
	"sync"
)

// Section is a named unit of report content. Name is its identity within a report.
type Section struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Research    bool   `json:"research" yaml:"research"`
	Content     string `json:"content" yaml:"content"`
}

// SearchQuery is a single web search string.
type SearchQuery struct {
	Text string `json:"search_query"`
}

// Grade is the outcome of reviewing a drafted section.
type Grade string

const (
	GradePass Grade = "pass"
	GradeFail Grade = "fail"
)

// SectionReview is produced by one grading call. FollowUpQueries only
// matter when Grade is GradeFail.
type SectionReview struct {
	Grade           Grade         `json:"grade"`
	FollowUpQueries []SearchQuery `json:"follow_up_queries"`
}

// Report is the compiled output of one workflow run.
type Report struct {
	Topic   string `json:"topic" yaml:"topic"`
	Content string `json:"content" yaml:"content"`
}

// WorkflowState is owned by a single engine run. Completed sections arrive
// from concurrent branches and are merged by concatenation.
type WorkflowState struct {
	Topic           string
	Feedback        string
	Sections        []Section
	ResearchContext string
	FinalReport     string

	mu        sync.Mutex
	completed []Section
}

// AddCompleted appends finished sections.
func (s *WorkflowState) AddCompleted(sections ...Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, sections...)
}

// Completed returns a copy of the completed sections in arrival order.
func (s *WorkflowState) Completed() []Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Section, len(s.completed))
	copy(out, s.completed)
	return out
}

// SectionRunState belongs to one research loop and is discarded when it ends.
type SectionRunState struct {
	Topic         string
	Section       Section
	Iteration     int
	Queries       []SearchQuery
	SourceContext string
}

// Progress receives coarse progress updates from a run.
type Progress func(fraction float64, message string)
