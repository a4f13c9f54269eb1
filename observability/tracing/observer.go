// Package tracing records coroutine jobs as OpenTelemetry spans.
package tracing

import (
	"context"

	"github.com/Swind/go-coroutine/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Swind/go-coroutine"

// Attribute keys set on job spans.
const (
	AttrJobID     = attribute.Key("coroutine.job.id")
	AttrJobName   = attribute.Key("coroutine.job.name")
	AttrRunner    = attribute.Key("coroutine.runner")
	AttrParentJob = attribute.Key("coroutine.job.parent_id")
	AttrJobState  = attribute.Key("coroutine.job.state")
	AttrPanicked  = attribute.Key("coroutine.job.panicked")
)

// Observer is a core.JobObserver that opens a span when a job body starts and ends it
// when the job is terminal. Jobs launched from inside a traced body become child spans.
type Observer struct {
	tracer trace.Tracer
}

var _ core.JobObserver = (*Observer)(nil)

// NewObserver creates an observer using tp. A nil tp uses the no-op provider.
func NewObserver(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Observer{tracer: tp.Tracer(instrumentationName)}
}

// JobStarted opens the job span; the returned context carries it into the body.
func (o *Observer) JobStarted(ctx context.Context, info core.JobInfo) context.Context {
	attrs := []attribute.KeyValue{
		AttrJobID.String(info.ID.String()),
		AttrJobName.String(info.Name),
		AttrRunner.String(info.RunnerName),
	}
	if !info.ParentID.IsZero() {
		attrs = append(attrs, AttrParentJob.String(info.ParentID.String()))
	}
	ctx, _ = o.tracer.Start(ctx, "job "+info.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx
}

// JobFinished ends the span opened by JobStarted. Failed jobs get an error status;
// cancellation is recorded as an attribute only.
func (o *Observer) JobFinished(ctx context.Context, record core.JobRecord) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		AttrJobState.String(record.State.String()),
		AttrPanicked.Bool(record.Panicked),
	)
	if record.State == core.JobFailed && record.Err != nil {
		span.RecordError(record.Err)
		span.SetStatus(codes.Error, record.Err.Error())
	}
	span.End(trace.WithTimestamp(record.FinishedAt))
}
