package rtc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

type rtcMetrics struct {
	swapDuration    metric.Int64Histogram
	lockOutcomes    metric.Int64Counter
	reaperSweeps    metric.Int64Counter
	reaperReclaimed metric.Int64Counter
	commitDuration  metric.Int64Histogram
}

func newRTCMetrics(logger pslog.Logger) *rtcMetrics {
	meter := otel.Meter("github.com/haxdb/rtc-master/rtc")
	m := &rtcMetrics{}
	var err error

	m.swapDuration, err = meter.Int64Histogram(
		"rtc.swap.duration_ms",
		metric.WithDescription("Time spent inside one enter/leave request body"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "rtc.swap.duration_ms", err)

	m.lockOutcomes, err = meter.Int64Counter(
		"rtc.lock.outcomes",
		metric.WithDescription("Lock acquisition outcomes by kind"),
	)
	logMetricInitError(logger, "rtc.lock.outcomes", err)

	m.reaperSweeps, err = meter.Int64Counter(
		"rtc.reaper.sweeps",
		metric.WithDescription("Reaper tick executions"),
	)
	logMetricInitError(logger, "rtc.reaper.sweeps", err)

	m.reaperReclaimed, err = meter.Int64Counter(
		"rtc.reaper.reclaimed",
		metric.WithDescription("Sessions force-rolled-back by the reaper"),
	)
	logMetricInitError(logger, "rtc.reaper.reclaimed", err)

	m.commitDuration, err = meter.Int64Histogram(
		"rtc.commit.duration_ms",
		metric.WithDescription("Time spent applying a single-resource commit"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "rtc.commit.duration_ms", err)

	return m
}

func (m *rtcMetrics) recordSwap(ctx context.Context, op string, duration time.Duration) {
	if m == nil || m.swapDuration == nil {
		return
	}
	m.swapDuration.Record(metricContext(ctx), duration.Milliseconds(),
		metric.WithAttributes(attribute.String("rtc.operation", op)))
}

func (m *rtcMetrics) recordLockOutcome(ctx context.Context, kind, outcome string) {
	if m == nil || m.lockOutcomes == nil {
		return
	}
	m.lockOutcomes.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("rtc.resource_kind", kind),
		attribute.String("rtc.lock_outcome", outcome),
	))
}

// RecordReaperSweep implements reaper.Metrics.
func (m *rtcMetrics) RecordReaperSweep() {
	if m == nil || m.reaperSweeps == nil {
		return
	}
	m.reaperSweeps.Add(context.Background(), 1)
}

// RecordReaperReclaimed implements reaper.Metrics.
func (m *rtcMetrics) RecordReaperReclaimed() {
	if m == nil || m.reaperReclaimed == nil {
		return
	}
	m.reaperReclaimed.Add(context.Background(), 1)
}

func (m *rtcMetrics) recordCommit(ctx context.Context, resource string, duration time.Duration) {
	if m == nil || m.commitDuration == nil {
		return
	}
	m.commitDuration.Record(metricContext(ctx), duration.Milliseconds(),
		metric.WithAttributes(attribute.String("rtc.resource", resource)))
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
