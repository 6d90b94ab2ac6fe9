package metrics

import (
	"log/slog"
	"time"

	"github.com/uber-go/tally"
)

// LogReporter is a tally.StatsReporter that writes each flushed value as a
// structured log line.
type LogReporter struct {
	logger *slog.Logger
}

var _ tally.StatsReporter = (*LogReporter)(nil)

// NewLogReporter returns a reporter writing to logger at info level.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "metrics")}
}

func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	if value == 0 {
		return
	}
	r.logger.Info("counter", "name", name, "tags", tags, "value", value)
}

func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.logger.Info("gauge", "name", name, "tags", tags, "value", value)
}

func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.logger.Info("timer", "name", name, "tags", tags, "value", interval)
}

func (r *LogReporter) ReportHistogramValueSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper float64, samples int64) {
	r.logger.Info("histogram", "name", name, "tags", tags, "lower", lower, "upper", upper, "samples", samples)
}

func (r *LogReporter) ReportHistogramDurationSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper time.Duration, samples int64) {
	r.logger.Info("histogram", "name", name, "tags", tags, "lower", lower, "upper", upper, "samples", samples)
}

func (r *LogReporter) Capabilities() tally.Capabilities {
	return r
}

func (r *LogReporter) Reporting() bool { return true }

func (r *LogReporter) Tagging() bool { return true }

func (r *LogReporter) Flush() {}

// NewRootScope builds the process scope. With interval <= 0 nothing is
// reported, though counters still accumulate.
func NewRootScope(logger *slog.Logger, interval time.Duration) (tally.Scope, func() error) {
	opts := tally.ScopeOptions{Prefix: "fragd"}
	if interval > 0 {
		opts.Reporter = NewLogReporter(logger)
	} else {
		interval = 0
	}
	scope, closer := tally.NewRootScope(opts, interval)
	return scope, closer.Close
}
