package metrics

import (
	"strings"
	"testing"
)

func TestCounterVecRendersSortedSeries(t *testing.T) {
	v := newCounterVec("test_requests_total", "help text", "handler", "code")
	v.inc("b", "200")
	v.inc("a", "500")
	v.inc("a", "500")

	var b strings.Builder
	v.write(&b)
	out := b.String()

	if !strings.Contains(out, "# TYPE test_requests_total counter") {
		t.Fatalf("missing TYPE line in output: %s", out)
	}
	if !strings.Contains(out, `test_requests_total{handler="a",code="500"} 2`) {
		t.Fatalf("expected counted series, got: %s", out)
	}
	aIdx := strings.Index(out, `handler="a"`)
	bIdx := strings.Index(out, `handler="b"`)
	if aIdx < 0 || bIdx < 0 || aIdx > bIdx {
		t.Fatalf("series not sorted by label set: %s", out)
	}
}

func TestHistogramVecCumulativeBuckets(t *testing.T) {
	v := newHistogramVec("test_duration_seconds", "help text")
	v.observe(0.04)
	v.observe(0.2)
	v.observe(99)

	var b strings.Builder
	v.write(&b)
	out := b.String()

	if !strings.Contains(out, `test_duration_seconds_bucket{le="0.05"} 1`) {
		t.Fatalf("first bucket should hold one observation: %s", out)
	}
	if !strings.Contains(out, `test_duration_seconds_bucket{le="0.25"} 2`) {
		t.Fatalf("buckets must be cumulative: %s", out)
	}
	if !strings.Contains(out, `test_duration_seconds_bucket{le="+Inf"} 3`) {
		t.Fatalf("+Inf bucket must count every observation: %s", out)
	}
	if !strings.Contains(out, "test_duration_seconds_count 3") {
		t.Fatalf("count line missing: %s", out)
	}
}
