package local

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cmip-ref/ref-go/internal/executor"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/storage/bundles"
)

type fakeMetric struct {
	run func(context.Context, metric.Definition) (metric.Bundle, error)
}

func (fakeMetric) Slug() string                           { return "fake" }
func (fakeMetric) Name() string                           { return "Fake" }
func (fakeMetric) Requirements() []metric.DataRequirement { return nil }
func (m fakeMetric) Run(ctx context.Context, def metric.Definition) (metric.Bundle, error) {
	return m.run(ctx, def)
}

func definition(m metric.Metric) metric.Definition {
	return metric.Definition{
		Provider:       "example",
		Metric:         m,
		Key:            "ACCESS-ESM1-5_tas",
		DatasetHash:    "abc",
		OutputFragment: metric.FragmentFor("example", "fake", "ACCESS-ESM1-5_tas", "abc"),
	}
}

func TestRun_WritesBundle(t *testing.T) {
	store := bundles.NewMemory()
	exec, err := New(store, nil)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	m := fakeMetric{run: func(context.Context, metric.Definition) (metric.Bundle, error) {
		return metric.Bundle{"RESULTS": map[string]any{"value": 1.5}}, nil
	}}

	res, err := exec.Run(context.Background(), definition(m))
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !res.Successful {
		t.Fatalf("result=%+v, want success", res)
	}
	want := "memory://example/fake/ACCESS-ESM1-5_tas/abc/output.json"
	if res.Path != want {
		t.Fatalf("path=%q, want %q", res.Path, want)
	}
	if res.OutputFragment != "example/fake/ACCESS-ESM1-5_tas/abc" {
		t.Fatalf("fragment=%q", res.OutputFragment)
	}

	raw, err := store.Get(context.Background(), "example/fake/ACCESS-ESM1-5_tas/abc/output.json")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("bundle is not json: %v", err)
	}
	if _, ok := decoded["RESULTS"]; !ok {
		t.Fatalf("bundle=%s, missing RESULTS", raw)
	}
}

func TestRun_MetricFailureIsUnsuccessful(t *testing.T) {
	exec, _ := New(bundles.NewMemory(), nil)
	failing := fakeMetric{run: func(context.Context, metric.Definition) (metric.Bundle, error) {
		return nil, errors.New("boom")
	}}
	res, err := exec.Run(context.Background(), definition(failing))
	if err != nil {
		t.Fatalf("Run() err=%v, want nil", err)
	}
	if res.Successful || res.Error != "boom" {
		t.Fatalf("result=%+v, want unsuccessful with error", res)
	}

	panicking := fakeMetric{run: func(context.Context, metric.Definition) (metric.Bundle, error) {
		panic("bad input")
	}}
	res, err = exec.Run(context.Background(), definition(panicking))
	if err != nil || res.Successful {
		t.Fatalf("panic result=(%+v,%v)", res, err)
	}
}

func TestRun_NotStarted(t *testing.T) {
	exec, _ := New(bundles.NewMemory(), nil)

	if _, err := exec.Run(context.Background(), metric.Definition{}); !errors.Is(err, executor.ErrNotStarted) {
		t.Fatalf("missing metric err=%v, want ErrNotStarted", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := fakeMetric{run: func(context.Context, metric.Definition) (metric.Bundle, error) {
		t.Fatalf("metric must not run after cancellation")
		return nil, nil
	}}
	if _, err := exec.Run(ctx, definition(m)); !errors.Is(err, executor.ErrNotStarted) {
		t.Fatalf("cancelled err=%v, want ErrNotStarted", err)
	}
}
