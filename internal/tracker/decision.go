package tracker

import "github.com/cmip-ref/ref-go/internal/domain"

// Reason explains a run decision.
type Reason string

const (
	ReasonNoResults   Reason = "no_results"
	ReasonHashChanged Reason = "hash_changed"
	ReasonDirty       Reason = "dirty"
	ReasonUnchanged   Reason = "unchanged"
)

// ShouldRun decides whether an execution needs to (re)run for the given
// dataset hash. Only the latest result is compared, so a hash that appeared
// in an older attempt still counts as a change.
func ShouldRun(exec domain.MetricExecution, hash string) (bool, Reason) {
	latest := exec.Latest()
	switch {
	case latest == nil:
		return true, ReasonNoResults
	case latest.DatasetHash != hash:
		return true, ReasonHashChanged
	case exec.Dirty:
		return true, ReasonDirty
	default:
		return false, ReasonUnchanged
	}
}
