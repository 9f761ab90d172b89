// Package metrics 以 Prometheus 文本格式暴露进程内指标，
// 不引入 client 库，注册面只覆盖本服务实际产生的几类观测值。
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// counterVec 是一组带固定标签名的计数器。
// 序列键是渲染好的标签对字符串，渲染时按键排序保证输出稳定。
type counterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	series map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{
		name:   name,
		help:   help,
		labels: labels,
		series: make(map[string]uint64),
	}
}

func (v *counterVec) inc(values ...string) {
	key := labelSet(v.labels, values)
	v.mu.Lock()
	v.series[key]++
	v.mu.Unlock()
}

func (v *counterVec) write(b *strings.Builder) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", v.name, v.help, v.name)
	for _, key := range sortedKeys(v.series) {
		fmt.Fprintf(b, "%s{%s} %d\n", v.name, key, v.series[key])
	}
}

// histogramVec 按标签维度累计观测值，桶计数存原始值，
// 渲染时再按 le 语义做累计，避免写入路径上的桶间耦合。
type histogramVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	series map[string]*histogram
}

type histogram struct {
	bucketHits []uint64
	overflow   uint64
	sum        float64
	count      uint64
}

var durationBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func newHistogramVec(name, help string, labels ...string) *histogramVec {
	return &histogramVec{
		name:   name,
		help:   help,
		labels: labels,
		series: make(map[string]*histogram),
	}
}

func (v *histogramVec) observe(value float64, labelValues ...string) {
	key := labelSet(v.labels, labelValues)
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.series[key]
	if h == nil {
		h = &histogram{bucketHits: make([]uint64, len(durationBounds))}
		v.series[key] = h
	}
	h.count++
	h.sum += value
	placed := false
	for i, bound := range durationBounds {
		if value <= bound {
			h.bucketHits[i]++
			placed = true
			break
		}
	}
	if !placed {
		h.overflow++
	}
}

func (v *histogramVec) write(b *strings.Builder) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", v.name, v.help, v.name)
	for _, key := range sortedHistKeys(v.series) {
		h := v.series[key]
		prefix := key
		if prefix != "" {
			prefix += ","
		}
		var cumulative uint64
		for i, bound := range durationBounds {
			cumulative += h.bucketHits[i]
			fmt.Fprintf(b, "%s_bucket{%sle=\"%s\"} %d\n", v.name, prefix, formatFloat(bound), cumulative)
		}
		fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", v.name, prefix, h.count)
		if key == "" {
			fmt.Fprintf(b, "%s_sum %s\n%s_count %d\n", v.name, formatFloat(h.sum), v.name, h.count)
		} else {
			fmt.Fprintf(b, "%s_sum{%s} %s\n%s_count{%s} %d\n", v.name, key, formatFloat(h.sum), v.name, key, h.count)
		}
	}
}

// labelSet 渲染标签对。%q 的转义规则与 Prometheus 文本格式一致。
func labelSet(names, values []string) string {
	pairs := make([]string, 0, len(names))
	for i, name := range names {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		pairs = append(pairs, fmt.Sprintf("%s=%q", name, value))
	}
	return strings.Join(pairs, ",")
}

func sortedKeys(series map[string]uint64) []string {
	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedHistKeys(series map[string]*histogram) []string {
	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
