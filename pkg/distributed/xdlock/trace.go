package xdlock

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "xdlock"

// Span 操作名称
const (
	spanNameLock     = "xdlock.Lock"
	spanNameTryLock  = "xdlock.TryLock"
	spanNameUnlock   = "xdlock.Unlock"
	spanNameRenew    = "xdlock.Renew"
	spanNameListLock = "xdlock.ListLocks"
)

// 属性名称，metrics 与 trace 共用
const (
	attrLockKey   = "xdlock.key"
	attrMode      = "xdlock.mode"
	attrResult    = "xdlock.result"
	attrSuccess   = "xdlock.success"
	attrOperation = "xdlock.operation"
	attrReason    = "xdlock.reason"
	attrAcquired  = "xdlock.acquired"
)

func getTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName, trace.WithInstrumentationVersion(instrumentationVersion))
}

func startSpan(ctx context.Context, tracer trace.Tracer, name, key string, mode Mode) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String(attrLockKey, key),
		attribute.String(attrMode, mode.String()),
	))
}

func setSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func setSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// endSpan 按 err 设置状态后结束 span
func endSpan(span trace.Span, err error) {
	if err != nil {
		setSpanError(span, err)
	} else {
		setSpanOK(span)
	}
	span.End()
}
