package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/llm"
)

// Models resolves the generator configured for a role.
type Models interface {
	Resolve(role config.RoleConfig) (llm.Generator, error)
}

// Searcher runs queries against the named search API and returns a
// formatted context string.
type Searcher interface {
	Search(ctx context.Context, api string, queries []string, params map[string]any) (string, error)
}

// withDeadline runs fn under the stage timeout. A deadline hit inside the
// stage surfaces as ErrStageTimeout; cancellation of the parent does not.
func withDeadline(ctx context.Context, timeout time.Duration, stage string, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(sctx)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", stage, ErrStageTimeout)
	}
	return err
}

// queryTexts drops empty queries and keeps at most limit of the rest.
func queryTexts(qs []SearchQuery, limit int) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		if limit > 0 && len(out) == limit {
			break
		}
		if q.Text != "" {
			out = append(out, q.Text)
		}
	}
	return out
}
