package obs

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments the scheduler and runner feed.
type Metrics struct {
	TaskDuration    metric.Float64Histogram
	LLMCallDuration metric.Float64Histogram
	RetryTotal      metric.Int64Counter
	TriggerErrors   metric.Int64Counter
	ActiveRuns      metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("sprintd.task.duration",
		metric.WithDescription("Task trigger-to-completion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("sprintd.agent.call.duration",
		metric.WithDescription("Agent CLI/gateway invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RetryTotal, err = meter.Int64Counter("sprintd.task.retries",
		metric.WithDescription("Total retry attempts across all tasks"),
	)
	if err != nil {
		return nil, err
	}

	m.TriggerErrors, err = meter.Int64Counter("sprintd.task.errors",
		metric.WithDescription("Total failed trigger attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter("sprintd.task.active",
		metric.WithDescription("Number of currently running tasks"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
