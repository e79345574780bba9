package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	separatorLineLength  = 80
	microsecondsToMillis = 1000.0
)

type operationMetrics struct {
	Name     string
	Duration time.Duration
	Error    error
}

type stepMetrics struct {
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	Operations []operationMetrics
	Success    bool
	Error      error
}

// metricsCollector tracks every operation of a run, grouped by step.
type metricsCollector struct {
	mu          sync.Mutex
	steps       []stepMetrics
	currentStep *stepMetrics
	totals      map[string]int
	failures    int
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{totals: make(map[string]int)}
}

func (m *metricsCollector) startStep(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentStep = &stepMetrics{Name: name, StartTime: time.Now()}
}

func (m *metricsCollector) endStep(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentStep == nil {
		return
	}
	m.currentStep.Duration = time.Since(m.currentStep.StartTime)
	m.currentStep.Success = err == nil
	m.currentStep.Error = err
	m.steps = append(m.steps, *m.currentStep)
	m.currentStep = nil
}

func (m *metricsCollector) recordOperation(name string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentStep != nil {
		m.currentStep.Operations = append(m.currentStep.Operations, operationMetrics{
			Name:     name,
			Duration: duration,
			Error:    err,
		})
	}
	m.totals[name]++
	if err != nil {
		m.failures++
	}
}

func (m *metricsCollector) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[name]
}

func (m *metricsCollector) printSummary(out io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	separator := strings.Repeat("=", separatorLineLength)
	fmt.Fprintln(out, "\n"+separator)
	fmt.Fprintln(out, "METRICS SUMMARY")
	fmt.Fprintln(out, separator)

	names := make([]string, 0, len(m.totals))
	for name := range m.totals {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\nOverall Statistics:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %d\n", name+":", m.totals[name])
	}
	fmt.Fprintf(out, "  %-10s %d\n", "failed:", m.failures)

	var total time.Duration
	fmt.Fprintf(out, "\nStep-by-Step Breakdown:\n")
	for _, step := range m.steps {
		total += step.Duration
		status := "✓"
		if !step.Success {
			status = "✗"
		}
		fmt.Fprintf(out, "\n  %s %s (%.2fs)\n", status, step.Name, step.Duration.Seconds())

		counts := make(map[string]int)
		durations := make(map[string]time.Duration)
		for _, op := range step.Operations {
			counts[op.Name]++
			durations[op.Name] += op.Duration
		}
		for _, name := range names {
			if counts[name] == 0 {
				continue
			}
			avg := durations[name] / time.Duration(counts[name])
			fmt.Fprintf(out, "    - %s: %d operations, avg %.3fms\n", name, counts[name], float64(avg.Microseconds())/microsecondsToMillis)
		}
		if step.Error != nil {
			fmt.Fprintf(out, "    Error: %v\n", step.Error)
		}
	}

	fmt.Fprintf(out, "\nTiming Summary:\n")
	fmt.Fprintf(out, "  Total execution time: %.2fs\n", total.Seconds())
	if reports := m.totals[opIngest]; reports > 0 && total > 0 {
		fmt.Fprintf(out, "  Ingest rate:          %.1f reports/s\n", float64(reports)/total.Seconds())
	}
	fmt.Fprintln(out, separator)
}
