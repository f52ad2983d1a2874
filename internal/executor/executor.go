package executor

import (
	"context"
	"errors"

	"github.com/cmip-ref/ref-go/internal/metric"
)

// ErrNotStarted marks a dispatch that never began. No result is recorded for it.
var ErrNotStarted = errors.New("execution not started")

// Executor runs a metric definition. A metric that fails while running is
// reported through Result.Successful, not through the error.
type Executor interface {
	Run(ctx context.Context, def metric.Definition) (metric.Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, def metric.Definition) (metric.Result, error)

func (f Func) Run(ctx context.Context, def metric.Definition) (metric.Result, error) {
	return f(ctx, def)
}
