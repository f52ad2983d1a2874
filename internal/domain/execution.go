package domain

import "time"

type Provider struct {
	ID        string
	Slug      string
	Name      string
	Version   string
	CreatedAt time.Time
}

type Metric struct {
	ID         string
	ProviderID string
	Slug       string
	Name       string
	CreatedAt  time.Time
}

// MetricExecution tracks one (metric, group key) pair across solves.
// Rows are never deleted.
type MetricExecution struct {
	ID        string
	MetricID  string
	Key       string
	Dirty     bool
	Retracted bool
	CreatedAt time.Time
	UpdatedAt time.Time

	// Results ordered by ascending attempt.
	Results []ExecutionResult
}

// Latest returns the most recent result, or nil when none exist.
func (e MetricExecution) Latest() *ExecutionResult {
	if len(e.Results) == 0 {
		return nil
	}
	latest := &e.Results[0]
	for i := range e.Results {
		if e.Results[i].Attempt > latest.Attempt {
			latest = &e.Results[i]
		}
	}
	return latest
}

type ExecutionResult struct {
	ID             string
	ExecutionID    string
	DatasetHash    string
	Attempt        int
	Successful     *bool
	Path           string
	OutputFragment string
	DatasetIDs     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func BoolPtr(v bool) *bool { return &v }
