package registry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/metric"
	"github.com/cmip-ref/ref-go/internal/repo/memory"
)

type namedMetric string

func (m namedMetric) Slug() string { return string(m) }
func (m namedMetric) Name() string { return string(m) }
func (m namedMetric) Requirements() []metric.DataRequirement {
	return []metric.DataRequirement{{SourceType: domain.SourceCMIP6, GroupBy: []string{"source_id"}}}
}
func (m namedMetric) Run(context.Context, metric.Definition) (metric.Bundle, error) {
	return metric.Bundle{}, nil
}

func newProvider(t *testing.T, slug string, metrics ...string) *metric.Provider {
	t.Helper()
	p := metric.NewProvider(slug, slug, "1.0")
	for _, m := range metrics {
		if err := p.Register(namedMetric(m)); err != nil {
			t.Fatalf("Register() err=%v", err)
		}
	}
	return p
}

func TestNew_RejectsDuplicateProvider(t *testing.T) {
	if _, err := New(nil, newProvider(t, "a"), newProvider(t, "a")); err == nil {
		t.Fatalf("expected duplicate provider error")
	}
}

func TestMetricsPairsInOrder(t *testing.T) {
	r, err := New(nil, newProvider(t, "p1", "m1", "m2"), newProvider(t, "p2", "m3"))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	var got []string
	for _, e := range r.Metrics() {
		got = append(got, e.Provider.Slug+"/"+e.Metric.Slug())
	}
	if strings.Join(got, ",") != "p1/m1,p1/m2,p2/m3" {
		t.Fatalf("pairs=%v", got)
	}
}

func TestSync_IdempotentAndLogsCreation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r, err := New(logger, newProvider(t, "example", "gmt", "ecs"))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	store := memory.New()

	first, err := r.Sync(context.Background(), store)
	if err != nil {
		t.Fatalf("Sync() err=%v", err)
	}
	if len(first) != 2 || first[0].MetricID == "" || first[0].ProviderID == "" {
		t.Fatalf("entries=%+v", first)
	}
	logs := buf.String()
	if strings.Count(logs, "Created provider") != 1 || strings.Count(logs, "Created metric") != 2 {
		t.Fatalf("unexpected logs: %s", logs)
	}

	buf.Reset()
	second, err := r.Sync(context.Background(), store)
	if err != nil {
		t.Fatalf("Sync() err=%v", err)
	}
	if second[1].MetricID != first[1].MetricID {
		t.Fatalf("metric id changed across syncs")
	}
	if strings.Contains(buf.String(), "Created") {
		t.Fatalf("second sync must not create rows: %s", buf.String())
	}
}
