// Package metrics is a small in-process metrics registry with Prometheus
// text exposition. It supports counters, gauges, histograms, and summaries,
// each with optional label dimensions.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Kind of a metric family.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

// summaryWindow bounds the per-series sample buffer used for quantiles.
const summaryWindow = 1000

var summaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// series is one labeled sample within a family.
type series struct {
	labels map[string]string

	value float64 // counter, gauge

	// histogram
	bucketCounts []uint64
	sum          float64
	count        uint64

	// summary
	window []float64
}

// Family is one named metric with its labeled series.
type Family struct {
	name    string
	help    string
	kind    Kind
	labels  []string
	buckets []float64 // histogram upper bounds, sorted ascending

	mu     sync.Mutex
	series map[string]*series
}

// Registry holds metric families and renders them in exposition order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*Family
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*Family)}
}

func (r *Registry) register(name, help string, kind Kind, labels []string, buckets []float64) *Family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		return f
	}
	f := &Family{
		name:    name,
		help:    help,
		kind:    kind,
		labels:  append([]string(nil), labels...),
		buckets: append([]float64(nil), buckets...),
		series:  make(map[string]*series),
	}
	sort.Float64s(f.buckets)
	r.families[name] = f
	r.order = append(r.order, name)
	return f
}

// Counter registers a monotonic counter family.
func (r *Registry) Counter(name, help string, labels ...string) *Family {
	return r.register(name, help, KindCounter, labels, nil)
}

// Gauge registers a gauge family.
func (r *Registry) Gauge(name, help string, labels ...string) *Family {
	return r.register(name, help, KindGauge, labels, nil)
}

// Histogram registers a histogram family with the given upper bounds.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *Family {
	return r.register(name, help, KindHistogram, labels, buckets)
}

// Summary registers a summary family reporting the 0.5/0.9/0.95/0.99
// quantiles over a sliding sample window.
func (r *Registry) Summary(name, help string, labels ...string) *Family {
	return r.register(name, help, KindSummary, labels, nil)
}

func (f *Family) key(labelValues []string) string {
	return strings.Join(labelValues, "\x00")
}

func (f *Family) get(labelValues []string) *series {
	k := f.key(labelValues)
	s, ok := f.series[k]
	if !ok {
		labels := make(map[string]string, len(f.labels))
		for i, name := range f.labels {
			if i < len(labelValues) {
				labels[name] = labelValues[i]
			}
		}
		s = &series{labels: labels}
		if f.kind == KindHistogram {
			s.bucketCounts = make([]uint64, len(f.buckets))
		}
		f.series[k] = s
	}
	return s
}

// Inc adds 1 to the labeled counter or gauge.
func (f *Family) Inc(labelValues ...string) { f.Add(1, labelValues...) }

// Add adds v to the labeled counter or gauge.
func (f *Family) Add(v float64, labelValues ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(labelValues).value += v
}

// Set sets the labeled gauge to v.
func (f *Family) Set(v float64, labelValues ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(labelValues).value = v
}

// Observe records v into the labeled histogram or summary.
func (f *Family) Observe(v float64, labelValues ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.get(labelValues)
	switch f.kind {
	case KindHistogram:
		idx := sort.SearchFloat64s(f.buckets, v)
		for i := idx; i < len(s.bucketCounts); i++ {
			s.bucketCounts[i]++
		}
		s.sum += v
		s.count++
	case KindSummary:
		s.sum += v
		s.count++
		if len(s.window) >= summaryWindow {
			copy(s.window, s.window[1:])
			s.window = s.window[:len(s.window)-1]
		}
		s.window = append(s.window, v)
	}
}

// Value returns the labeled counter or gauge value, 0 when unset.
func (f *Family) Value(labelValues ...string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.series[f.key(labelValues)]; ok {
		return s.value
	}
	return 0
}

// WriteText renders every family in registration order using the Prometheus
// text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	fams := make([]*Family, 0, len(order))
	for _, name := range order {
		fams = append(fams, r.families[name])
	}
	r.mu.Unlock()

	for _, f := range fams {
		if err := f.writeText(w); err != nil {
			return err
		}
	}
	return nil
}

func (f *Family) writeText(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
		return err
	}

	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s := f.series[k]
		switch f.kind {
		case KindCounter, KindGauge:
			if _, err := fmt.Fprintf(w, "%s%s %s\n", f.name, labelString(s.labels, "", ""), formatFloat(s.value)); err != nil {
				return err
			}
		case KindHistogram:
			cumulative := uint64(0)
			for i, ub := range f.buckets {
				cumulative = s.bucketCounts[i]
				if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, labelString(s.labels, "le", formatFloat(ub)), cumulative); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, labelString(s.labels, "le", "+Inf"), s.count); err != nil {
				return err
			}
			if err := writeSumCount(w, f.name, s); err != nil {
				return err
			}
		case KindSummary:
			sorted := append([]float64(nil), s.window...)
			sort.Float64s(sorted)
			for _, q := range summaryQuantiles {
				v := 0.0
				if len(sorted) > 0 {
					idx := int(q*float64(len(sorted))) - 1
					if idx < 0 {
						idx = 0
					}
					v = sorted[idx]
				}
				if _, err := fmt.Fprintf(w, "%s%s %s\n", f.name, labelString(s.labels, "quantile", formatFloat(q)), formatFloat(v)); err != nil {
					return err
				}
			}
			if err := writeSumCount(w, f.name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSumCount(w io.Writer, name string, s *series) error {
	if _, err := fmt.Fprintf(w, "%s_sum%s %s\n", name, labelString(s.labels, "", ""), formatFloat(s.sum)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s_count%s %d\n", name, labelString(s.labels, "", ""), s.count)
	return err
}

// labelString renders the label set, optionally with one extra pair (le or
// quantile) appended last.
func labelString(labels map[string]string, extraName, extraVal string) string {
	if len(labels) == 0 && extraName == "" {
		return ""
	}
	names := make([]string, 0, len(labels))
	for n := range labels {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
		b.WriteString(`="`)
		b.WriteString(escapeLabel(labels[n]))
		b.WriteByte('"')
	}
	if extraName != "" {
		if len(names) > 0 {
			b.WriteByte(',')
		}
		b.WriteString(extraName)
		b.WriteString(`="`)
		b.WriteString(extraVal)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
