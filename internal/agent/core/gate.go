package core

import (
	"context"
	"fmt"
	"strings"
)

// Approver reviews a plan before research starts. Returning approved=false
// with feedback sends the run back to planning.
type Approver interface {
	Approve(ctx context.Context, topic string, sections []Section) (approved bool, feedback string, err error)
}

// AutoApprove accepts every plan.
type AutoApprove struct{}

func (AutoApprove) Approve(ctx context.Context, topic string, sections []Section) (bool, string, error) {
	return true, "", nil
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, topic string, sections []Section) (bool, string, error)

func (f ApproverFunc) Approve(ctx context.Context, topic string, sections []Section) (bool, string, error) {
	return f(ctx, topic, sections)
}

// Route splits sections by whether they need research, keeping plan order.
func Route(sections []Section) (research, passthrough []Section) {
	for _, s := range sections {
		if s.Research {
			research = append(research, s)
		} else {
			passthrough = append(passthrough, s)
		}
	}
	return research, passthrough
}

// FormatPlan renders a plan for a reviewer.
func FormatPlan(sections []Section) string {
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		research := "No"
		if s.Research {
			research = "Yes"
		}
		blocks = append(blocks, fmt.Sprintf("Section: %s\nDescription: %s\nResearch needed: %s\n", s.Name, s.Description, research))
	}
	return strings.Join(blocks, "\n\n")
}
