package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/valet/internal/command"
	"github.com/MrWong99/valet/internal/notify"
	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/resilience"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript"
	"github.com/MrWong99/valet/internal/voice/capture"
	"github.com/MrWong99/valet/internal/voice/playback"
	"github.com/MrWong99/valet/internal/voice/wake"
	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

const (
	mutedPause     = 100 * time.Millisecond
	errorPause     = 250 * time.Millisecond
	pausedRecheck  = time.Second
	defaultAckWait = 500 * time.Millisecond

	ackToneHz        = 880
	ackToneLength    = 150 * time.Millisecond
	ackToneAmplitude = 6000
	ackToneRate      = 22050
)

// handlerFailedReply is spoken when the command handler returns an error.
const handlerFailedReply = "I'm sorry, sir, something went wrong."

// LoopConfig holds the main loop settings.
type LoopConfig struct {
	// Keywords are the wake phrases stripped from the start of commands.
	Keywords []string

	// Language is passed to the transcriber.
	Language string

	// AckText is synthesized once and played after every wake word.
	AckText string

	// AckWait is the pause between the acknowledgement and capture.
	AckWait time.Duration

	// StartRetry governs opening the microphone.
	StartRetry resilience.RetryConfig
}

// Loop is the single goroutine that turns wake words into spoken replies.
// It owns the wake-word monitor and the capturer; everything it says goes
// through the playback controller.
type Loop struct {
	st       *state.State
	dev      *audio.Device
	wake     *wake.Monitor
	capturer *capture.Capturer
	speaker  *playback.Controller
	arbiter  *notify.Arbiter
	stt      stt.Transcriber
	handler  command.Handler
	matcher  transcript.KeywordMatcher
	metrics  *observe.Metrics
	cfg      LoopConfig
	now      func() time.Time

	ack audio.Clip
}

// LoopDeps bundles the collaborators of a [Loop].
type LoopDeps struct {
	State       *state.State
	Device      *audio.Device
	Wake        *wake.Monitor
	Capturer    *capture.Capturer
	Speaker     *playback.Controller
	Arbiter     *notify.Arbiter
	Transcriber stt.Transcriber
	Handler     command.Handler
	Matcher     transcript.KeywordMatcher
	Metrics     *observe.Metrics
}

// NewLoop creates a Loop.
func NewLoop(d LoopDeps, cfg LoopConfig) *Loop {
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.AckText == "" {
		cfg.AckText = "Yes?"
	}
	l := &Loop{
		st:       d.State,
		dev:      d.Device,
		wake:     d.Wake,
		capturer: d.Capturer,
		speaker:  d.Speaker,
		arbiter:  d.Arbiter,
		stt:      d.Transcriber,
		handler:  d.Handler,
		matcher:  d.Matcher,
		metrics:  d.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// PrepareAck renders the acknowledgement clip once. When synthesis fails a
// short beep is used instead.
func (l *Loop) PrepareAck(ctx context.Context, synth tts.Synthesizer) {
	clip, err := synth.Synthesize(ctx, l.cfg.AckText)
	if err != nil || clip.Empty() {
		slog.Warn("app: acknowledgement synthesis failed, using tone", "err", err)
		clip = audio.Tone(ackToneHz, ackToneLength, ackToneRate, ackToneAmplitude)
	}
	l.ack = clip
}

// Run drives the voice loop until ctx is done. It returns ctx.Err() on
// cancellation and an error when the microphone cannot be opened.
func (l *Loop) Run(ctx context.Context) error {
	defer l.wake.Stop()
	if l.ack.Empty() {
		l.ack = audio.Tone(ackToneHz, ackToneLength, ackToneRate, ackToneAmplitude)
	}
	slog.Info("app: voice loop started", "keywords", l.cfg.Keywords)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case l.st.Gaming() || !l.st.Listening():
			l.idle(ctx)
		case l.st.Urgent():
			l.speakUrgent(ctx)
		case l.st.Muted():
			pause(ctx, mutedPause)
		case l.st.Conversation():
			l.wake.Stop()
			l.converse(ctx)
		default:
			if err := l.listen(ctx); err != nil {
				return err
			}
		}
	}
}

// idle frees the microphone and waits for a mode change.
func (l *Loop) idle(ctx context.Context) {
	if l.wake.Running() || l.dev.Opened() {
		l.wake.Stop()
		if err := l.dev.Close(); err != nil {
			slog.Warn("app: close microphone", "err", err)
		}
		slog.Info("app: microphone released", "gaming", l.st.Gaming(), "listening", l.st.Listening())
	}
	l.st.WaitChange(ctx.Done(), pausedRecheck)
}

// speakUrgent interrupts whatever is playing and speaks the pending urgent
// notifications.
func (l *Loop) speakUrgent(ctx context.Context) {
	for {
		item, ok := l.arbiter.TakeUrgent()
		if !ok {
			return
		}
		if l.st.Speaking() {
			l.st.RequestInterrupt()
		}
		slog.Info("app: speaking urgent notification", "id", item.ID, "source", item.Source)
		res := l.speaker.Speak(ctx, item.Message)
		if res.Status == playback.Failed {
			slog.Warn("app: urgent notification failed", "id", item.ID, "err", res.Err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// listen waits for one wake word and handles the command that follows.
func (l *Loop) listen(ctx context.Context) error {
	if !l.wake.Running() {
		err := resilience.Retry(ctx, "open microphone", l.cfg.StartRetry, l.wake.Start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("app: start wake monitor: %w", err)
		}
	}

	wctx, cancel := l.untilUrgent(ctx)
	ev, err := l.wake.Next(wctx)
	cancel()
	switch {
	case err == nil:
		l.onWake(ctx, ev)
	case errors.Is(err, wake.ErrPaused):
		// The mode switch is handled by the next iteration.
	case ctx.Err() != nil:
	case l.st.Urgent():
		// Interrupted for an urgent notification.
	default:
		slog.Warn("app: wake monitor", "err", err)
		pause(ctx, errorPause)
	}
	return nil
}

// untilUrgent derives a context that is cancelled as soon as an urgent
// notification is raised.
func (l *Loop) untilUrgent(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			ch := l.st.Changed()
			if l.st.Urgent() {
				cancel()
				return
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx, cancel
}

// onWake runs one command turn with the capture lock engaged.
func (l *Loop) onWake(ctx context.Context, ev wake.Event) {
	l.st.Touch(l.now())
	l.arbiter.BeginCapture()
	defer l.arbiter.EndCapture()
	defer l.st.Touch(l.now())

	if l.st.Speaking() {
		l.st.RequestInterrupt()
	}
	l.wake.Stop()

	ctx, span := observe.StartCommand(ctx, ev.Keyword)
	defer span.End()

	if res := l.speaker.SpeakClip(ctx, l.ack); res.Status == playback.Failed {
		slog.Warn("app: acknowledgement failed", "err", res.Err)
	}
	pause(ctx, l.cfg.AckWait)

	u, err := l.capturer.Capture(ctx, capture.Options{})
	if err != nil {
		if !errors.Is(err, capture.ErrNoUtterance) && ctx.Err() == nil {
			slog.Info("app: no command captured", "err", err)
		} else {
			slog.Info("app: no command heard")
		}
		return
	}
	l.process(ctx, u)
}

// converse captures without a wake word while conversation mode is on. The
// capture lock is engaged from the first loud frame so notifications cannot
// talk over the user.
func (l *Loop) converse(ctx context.Context) {
	locked := false
	defer func() {
		if locked {
			l.st.Touch(l.now())
			l.arbiter.EndCapture()
		}
	}()
	u, err := l.capturer.Capture(ctx, capture.Options{
		Continuous: true,
		OnSpeech: func() {
			locked = true
			l.st.Touch(l.now())
			l.arbiter.BeginCapture()
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrNoUtterance), errors.Is(err, capture.ErrAborted):
		return
	case ctx.Err() != nil:
		return
	default:
		slog.Warn("app: conversation capture", "err", err)
		pause(ctx, errorPause)
		return
	}
	l.process(ctx, u)
}

// process transcribes u, runs the command handler and speaks the reply.
func (l *Loop) process(ctx context.Context, u *capture.Utterance) {
	text := l.transcribe(ctx, u)
	text = transcript.StripWakePhrase(text, l.cfg.Keywords, l.matcher)
	if text == "" {
		slog.Info("app: no command heard")
		return
	}
	slog.Info("app: command", "text", text)

	hctx, span := observe.StartHandle(ctx, text)
	start := time.Now()
	reply, err := l.handler.Handle(hctx, text)
	l.metrics.HandlerDuration.Record(ctx, time.Since(start).Seconds())
	if !errors.Is(err, command.ErrNotHandled) {
		observe.Fail(span, err)
	}
	span.End()

	switch {
	case errors.Is(err, command.ErrNotHandled):
		slog.Info("app: command not handled", "text", text)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		slog.Error("app: command handler", "err", err)
		reply = handlerFailedReply
	}
	if reply == "" {
		return
	}
	res := l.speaker.Speak(ctx, reply)
	if res.Status == playback.Failed {
		slog.Warn("app: reply failed", "err", res.Err)
	}
}

// transcribe returns the cleaned transcript of u. An empty first result is
// retried once with deterministic decoding.
func (l *Loop) transcribe(ctx context.Context, u *capture.Utterance) string {
	ctx, span := observe.StartTranscribe(ctx, len(u.Samples), u.SampleRate)
	defer span.End()

	req := stt.Request{Samples: u.Samples, SampleRate: u.SampleRate, Language: l.cfg.Language}
	for attempt := range 2 {
		span.SetAttributes(observe.AttrSTTAttempts.Int(attempt + 1))
		req.Deterministic = attempt > 0
		start := time.Now()
		text, err := l.stt.Transcribe(ctx, req)
		l.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() == nil {
				observe.Fail(span, err)
				slog.Warn("app: transcription failed", "err", err, "deterministic", req.Deterministic)
			}
			return ""
		}
		if text = stt.Clean(text); text != "" {
			span.SetAttributes(observe.AttrTextLength.Int(len(text)))
			return text
		}
	}
	return ""
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
