package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/repo"
)

// Tracker decides which groups need a run and records what ran.
type Tracker struct {
	executions repo.ExecutionRepository
	locks      *keyLock
}

func New(executions repo.ExecutionRepository) (*Tracker, error) {
	if executions == nil {
		return nil, errors.New("execution repository is required")
	}
	return &Tracker{executions: executions, locks: newKeyLock()}, nil
}

// Claim is a run decision for one (metric, key). It holds the key's lock
// until Release is called.
type Claim struct {
	Execution  domain.MetricExecution
	Created    bool
	Hash       string
	Run        bool
	Reason     Reason
	DatasetIDs []string

	unlock func()
}

// Release frees the key. It is safe to call more than once.
func (c *Claim) Release() {
	if c != nil && c.unlock != nil {
		c.unlock()
	}
}

// Resolve gets or creates the execution for group and decides whether it
// should run. The caller must Release the returned claim.
func (t *Tracker) Resolve(ctx context.Context, metricID string, group domain.Group) (*Claim, error) {
	if strings.TrimSpace(metricID) == "" {
		return nil, errors.New("metric id is required")
	}
	if strings.TrimSpace(group.Key) == "" {
		return nil, errors.New("group key is required")
	}

	unlock := t.locks.Lock(metricID + "\x00" + group.Key)
	exec, created, err := t.executions.GetOrCreateExecution(ctx, metricID, group.Key)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("get or create execution %s: %w", group.Key, err)
	}

	hash := DatasetHash(group.Datasets)
	run, reason := ShouldRun(exec, hash)
	ids := make([]string, 0, len(group.Datasets))
	for _, ds := range group.Datasets {
		ids = append(ids, ds.ID)
	}
	return &Claim{
		Execution:  exec,
		Created:    created,
		Hash:       hash,
		Run:        run,
		Reason:     reason,
		DatasetIDs: ids,
		unlock:     unlock,
	}, nil
}

// Record persists the outcome of a started run for the claim.
func (t *Tracker) Record(ctx context.Context, c *Claim, res metric.Result) (domain.ExecutionResult, error) {
	if c == nil {
		return domain.ExecutionResult{}, errors.New("claim is required")
	}
	recorded, err := t.executions.RecordResult(ctx, domain.ExecutionResult{
		ExecutionID:    c.Execution.ID,
		DatasetHash:    c.Hash,
		Successful:     domain.BoolPtr(res.Successful),
		Path:           res.Path,
		OutputFragment: res.OutputFragment,
		DatasetIDs:     c.DatasetIDs,
	})
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("record result %s: %w", c.Execution.Key, err)
	}
	return recorded, nil
}

// MarkDirty forces the next solve to rerun the execution.
func (t *Tracker) MarkDirty(ctx context.Context, executionID string) error {
	return t.executions.SetDirty(ctx, executionID, true)
}
