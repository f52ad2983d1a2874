package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/repo/memory"
)

func datasets(ids ...string) domain.Catalog {
	out := make(domain.Catalog, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.Dataset{ID: "id-" + id, Slug: id, InstanceID: id, SourceType: domain.SourceCMIP6})
	}
	return out
}

func TestDatasetHash_OrderIndependent(t *testing.T) {
	a := DatasetHash(datasets("x", "y", "z"))
	b := DatasetHash(datasets("z", "x", "y"))
	if a != b {
		t.Fatalf("hash depends on order: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash len=%d, want 64", len(a))
	}
}

func TestDatasetHash_Sensitive(t *testing.T) {
	base := DatasetHash(datasets("x", "y"))
	cases := map[string]domain.Catalog{
		"added":    datasets("x", "y", "z"),
		"removed":  datasets("x"),
		"replaced": datasets("x", "w"),
		"boundary": datasets("xy"),
	}
	for name, c := range cases {
		if DatasetHash(c) == base {
			t.Fatalf("%s: hash unchanged", name)
		}
	}
	if DatasetHash(datasets("ab", "c")) == DatasetHash(datasets("a", "bc")) {
		t.Fatalf("length prefix missing: split ids collide")
	}
}

func TestShouldRun(t *testing.T) {
	withLatest := func(hash string, dirty bool) domain.MetricExecution {
		return domain.MetricExecution{
			Dirty: dirty,
			Results: []domain.ExecutionResult{
				{DatasetHash: "old", Attempt: 1},
				{DatasetHash: hash, Attempt: 2},
			},
		}
	}
	cases := []struct {
		name   string
		exec   domain.MetricExecution
		hash   string
		run    bool
		reason Reason
	}{
		{"no results", domain.MetricExecution{}, "h", true, ReasonNoResults},
		{"no results dirty", domain.MetricExecution{Dirty: true}, "h", true, ReasonNoResults},
		{"hash changed", withLatest("h1", false), "h2", true, ReasonHashChanged},
		{"hash changed dirty", withLatest("h1", true), "h2", true, ReasonHashChanged},
		{"older attempt hash still changes", withLatest("h1", false), "old", true, ReasonHashChanged},
		{"dirty", withLatest("h", true), "h", true, ReasonDirty},
		{"unchanged", withLatest("h", false), "h", false, ReasonUnchanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run, reason := ShouldRun(tc.exec, tc.hash)
			if run != tc.run || reason != tc.reason {
				t.Fatalf("ShouldRun()=(%v,%s), want (%v,%s)", run, reason, tc.run, tc.reason)
			}
		})
	}
}

func setup(t *testing.T) (*Tracker, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	p, _, err := store.GetOrCreateProvider(ctx, domain.Provider{Slug: "example", Version: "1"})
	if err != nil {
		t.Fatalf("GetOrCreateProvider() err=%v", err)
	}
	m, _, err := store.GetOrCreateMetric(ctx, domain.Metric{ProviderID: p.ID, Slug: "gmt"})
	if err != nil {
		t.Fatalf("GetOrCreateMetric() err=%v", err)
	}
	tr, err := New(store)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return tr, store, m.ID
}

func TestTracker_ResolveRecordCycle(t *testing.T) {
	tr, store, metricID := setup(t)
	ctx := context.Background()
	group := domain.NewGroup([]string{"A", "tas"}, datasets("a", "b"))

	claim, err := tr.Resolve(ctx, metricID, group)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if !claim.Created || !claim.Run || claim.Reason != ReasonNoResults {
		t.Fatalf("claim=%+v, want created and runnable", claim)
	}
	res, err := tr.Record(ctx, claim, metric.Result{Successful: true, OutputFragment: "f"})
	claim.Release()
	if err != nil {
		t.Fatalf("Record() err=%v", err)
	}
	if res.Attempt != 1 || res.Successful == nil || !*res.Successful {
		t.Fatalf("result=%+v", res)
	}
	if len(res.DatasetIDs) != 2 {
		t.Fatalf("dataset links=%v, want 2", res.DatasetIDs)
	}

	again, err := tr.Resolve(ctx, metricID, group)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	again.Release()
	if again.Created || again.Run || again.Reason != ReasonUnchanged {
		t.Fatalf("claim=%+v, want unchanged", again)
	}

	if err := tr.MarkDirty(ctx, again.Execution.ID); err != nil {
		t.Fatalf("MarkDirty() err=%v", err)
	}
	dirty, err := tr.Resolve(ctx, metricID, group)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if !dirty.Run || dirty.Reason != ReasonDirty {
		t.Fatalf("claim=%+v, want dirty rerun", dirty)
	}
	res, err = tr.Record(ctx, dirty, metric.Result{Successful: false})
	dirty.Release()
	if err != nil {
		t.Fatalf("Record() err=%v", err)
	}
	if res.Attempt != 2 {
		t.Fatalf("attempt=%d, want 2", res.Attempt)
	}

	exec, err := store.GetExecution(ctx, again.Execution.ID)
	if err != nil {
		t.Fatalf("GetExecution() err=%v", err)
	}
	if exec.Dirty {
		t.Fatalf("dirty flag not cleared after record")
	}
	if len(exec.Results) != 1 {
		t.Fatalf("results=%d, want 1 row upserted on the same hash", len(exec.Results))
	}
}

func TestTracker_HashReturningToEarlierValueStillRuns(t *testing.T) {
	tr, _, metricID := setup(t)
	ctx := context.Background()
	groupA := domain.NewGroup([]string{"A"}, datasets("a"))
	groupB := domain.NewGroup([]string{"A"}, datasets("a", "b"))

	for i, g := range []domain.Group{groupA, groupB, groupA} {
		claim, err := tr.Resolve(ctx, metricID, g)
		if err != nil {
			t.Fatalf("step %d: Resolve() err=%v", i, err)
		}
		if !claim.Run {
			claim.Release()
			t.Fatalf("step %d: expected run, reason=%s", i, claim.Reason)
		}
		if _, err := tr.Record(ctx, claim, metric.Result{Successful: true}); err != nil {
			t.Fatalf("step %d: Record() err=%v", i, err)
		}
		claim.Release()
	}

	final, err := tr.Resolve(ctx, metricID, groupA)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	final.Release()
	if final.Run {
		t.Fatalf("expected settled execution, reason=%s", final.Reason)
	}
}

func TestTracker_ResolveSerializesPerKey(t *testing.T) {
	tr, _, metricID := setup(t)
	ctx := context.Background()
	group := domain.NewGroup([]string{"A"}, datasets("a"))

	first, err := tr.Resolve(ctx, metricID, group)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}

	done := make(chan *Claim)
	go func() {
		c, err := tr.Resolve(ctx, metricID, group)
		if err != nil {
			t.Errorf("Resolve() err=%v", err)
		}
		done <- c
	}()

	select {
	case <-done:
		t.Fatalf("second resolve must wait for the first claim")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := tr.Record(ctx, first, metric.Result{Successful: true}); err != nil {
		t.Fatalf("Record() err=%v", err)
	}
	first.Release()

	second := <-done
	defer second.Release()
	if second.Run {
		t.Fatalf("second claim should see the recorded result, reason=%s", second.Reason)
	}
}

func TestKeyLock_ReleasesEntries(t *testing.T) {
	k := newKeyLock()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			unlock()
			unlock()
		}()
	}
	wg.Wait()
	if n := k.size(); n != 0 {
		t.Fatalf("entries=%d, want 0", n)
	}
}
