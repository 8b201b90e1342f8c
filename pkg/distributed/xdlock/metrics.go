package xdlock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationVersion = "0.1.0"

const (
	metricNameAcquireTotal    = "xdlock.acquire.total"
	metricNameAcquireDuration = "xdlock.acquire.duration"
	metricNameReleaseTotal    = "xdlock.release.total"
	metricNameRenewTotal      = "xdlock.renew.total"
	metricNameLostTotal       = "xdlock.lost.total"
	metricNameFallbackTotal   = "xdlock.unlink_fallback.total"
	metricNameNotifyTotal     = "xdlock.notify.total"
	metricNameEvictedTotal    = "xdlock.cache.evicted.total"
)

// 获取结果
const (
	acquireResultAcquired = "acquired"
	acquireResultTimeout  = "timeout"
	acquireResultError    = "error"
)

// 释放结果
const (
	releaseResultReleased = "released"
	releaseResultLost     = "lost"
	releaseResultError    = "error"
)

// 淘汰原因
const (
	evictReasonCapacity = "capacity"
	evictReasonExpired  = "expired"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60}

// Metrics 锁注册表指标。nil 接收者上的方法都是空操作。
type Metrics struct {
	acquireTotal    metric.Int64Counter
	acquireDuration metric.Float64Histogram
	releaseTotal    metric.Int64Counter
	renewTotal      metric.Int64Counter
	lostTotal       metric.Int64Counter
	fallbackTotal   metric.Int64Counter
	notifyTotal     metric.Int64Counter
	evictedTotal    metric.Int64Counter
}

// NewMetrics 创建指标收集器，meterProvider 为 nil 时返回 nil。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}
	meter := meterProvider.Meter("xdlock", metric.WithInstrumentationVersion(instrumentationVersion))

	m := &Metrics{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.acquireTotal, metricNameAcquireTotal, "锁获取次数", "{acquire}"},
		{&m.releaseTotal, metricNameReleaseTotal, "锁释放次数", "{release}"},
		{&m.renewTotal, metricNameRenewTotal, "锁续期次数", "{renew}"},
		{&m.lostTotal, metricNameLostTotal, "检测到锁丢失的次数", "{lost}"},
		{&m.fallbackTotal, metricNameFallbackTotal, "UNLINK 降级为 DEL 的次数", "{fallback}"},
		{&m.notifyTotal, metricNameNotifyTotal, "收到的释放通知数", "{message}"},
		{&m.evictedTotal, metricNameEvictedTotal, "被移出缓存的锁条目数", "{entry}"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit)); err != nil {
			return nil, err
		}
	}
	if m.acquireDuration, err = meter.Float64Histogram(metricNameAcquireDuration,
		metric.WithDescription("锁获取耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAcquire 记录一次获取（重入不记录）。
func (m *Metrics) RecordAcquire(ctx context.Context, mode Mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(
		attribute.String(attrMode, mode.String()),
		attribute.String(attrResult, result),
	)
	m.acquireTotal.Add(ctx, 1, attrs)
	m.acquireDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRelease 记录一次远端释放。
func (m *Metrics) RecordRelease(ctx context.Context, mode Mode, result string) {
	if m == nil {
		return
	}
	m.releaseTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String(attrMode, mode.String()),
		attribute.String(attrResult, result),
	))
}

// RecordRenew 记录一次续期。
func (m *Metrics) RecordRenew(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.renewTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.Bool(attrSuccess, success)))
}

// RecordLost 记录一次锁丢失。
func (m *Metrics) RecordLost(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.lostTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String(attrOperation, op)))
}

// RecordUnlinkFallback 记录 UNLINK 降级。
func (m *Metrics) RecordUnlinkFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.fallbackTotal.Add(context.WithoutCancel(ctx), 1)
}

// RecordNotify 记录收到的释放通知。
func (m *Metrics) RecordNotify(ctx context.Context) {
	if m == nil {
		return
	}
	m.notifyTotal.Add(context.WithoutCancel(ctx), 1)
}

// RecordEvicted 记录移出缓存的条目数。
func (m *Metrics) RecordEvicted(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedTotal.Add(context.WithoutCancel(ctx), int64(n), metric.WithAttributes(attribute.String(attrReason, reason)))
}
