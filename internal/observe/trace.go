package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the valet tracer.
const tracerName = "github.com/MrWong99/valet"

// Span names. One wake-word interaction produces app.command with
// capture.utterance, app.transcribe, app.handle and playback.speak below it.
const (
	SpanCommand    = "app.command"
	SpanCapture    = "capture.utterance"
	SpanTranscribe = "app.transcribe"
	SpanHandle     = "app.handle"
	SpanPlayback   = "playback.speak"
)

// Span attribute keys.
const (
	AttrWakeKeyword    = attribute.Key("wake.keyword")
	AttrCaptureMode    = attribute.Key("capture.mode")
	AttrSpeechFrames   = attribute.Key("capture.speech_frames")
	AttrTotalFrames    = attribute.Key("capture.total_frames")
	AttrCaptureResult  = attribute.Key("capture.result")
	AttrAudioSeconds   = attribute.Key("audio.seconds")
	AttrSampleRate     = attribute.Key("audio.sample_rate")
	AttrSTTAttempts    = attribute.Key("stt.attempts")
	AttrTextLength     = attribute.Key("text.length")
	AttrPlaybackTask   = attribute.Key("playback.task")
	AttrPlaybackStatus = attribute.Key("playback.status")
)

// Tracer returns the valet tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCommand opens the root span of a wake-word interaction.
func StartCommand(ctx context.Context, keyword string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCommand, trace.WithAttributes(AttrWakeKeyword.String(keyword)))
}

// StartCapture opens a capture session span. Continuous sessions are the
// open-mic captures of conversation mode.
func StartCapture(ctx context.Context, continuous bool) (context.Context, trace.Span) {
	mode := "command"
	if continuous {
		mode = "conversation"
	}
	return StartSpan(ctx, SpanCapture, trace.WithAttributes(AttrCaptureMode.String(mode)))
}

// EndCapture records how a capture session ended and closes span. result is
// one of the utterance metric results ("complete", "aborted", "timeout").
func EndCapture(span trace.Span, result string, speechFrames, totalFrames int) {
	span.SetAttributes(
		AttrCaptureResult.String(result),
		AttrSpeechFrames.Int(speechFrames),
		AttrTotalFrames.Int(totalFrames),
	)
	span.End()
}

// StartTranscribe opens a transcription span for samples at sampleRate.
func StartTranscribe(ctx context.Context, samples, sampleRate int) (context.Context, trace.Span) {
	secs := 0.0
	if sampleRate > 0 {
		secs = float64(samples) / float64(sampleRate)
	}
	return StartSpan(ctx, SpanTranscribe, trace.WithAttributes(
		AttrSampleRate.Int(sampleRate),
		AttrAudioSeconds.Float64(secs),
	))
}

// StartHandle opens the command handler span. Only the length of the
// transcript is recorded.
func StartHandle(ctx context.Context, text string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanHandle, trace.WithAttributes(AttrTextLength.Int(len(text))))
}

// StartPlayback opens the span for one playback task.
func StartPlayback(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPlayback, trace.WithAttributes(AttrPlaybackTask.String(taskID)))
}

// Fail marks span as failed with err. Cancellation is not a failure: a
// barge-in or shutdown cancels work that was going fine.
func Fail(span trace.Span, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx attached, so the log lines of one interaction can be joined.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
