// Package turns runs the conversational loop: one caller utterance in,
// one spoken reply out.
package turns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/logging"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/redact"
	"github.com/voxbridge/voxbridge/pkg/resilience"
	"github.com/voxbridge/voxbridge/pkg/session"
)

type Config struct {
	SystemPrompt string
	GreetingText string
	// FillerTokens extend the built-in list of transcripts to ignore.
	FillerTokens []string
	Retry        resilience.RetryPolicy
	// FallbackClip is pre-rendered 8 kHz mu-law audio spoken when a
	// gateway fails mid-turn. Empty means the transport's holding
	// audio is used instead.
	FallbackClip []byte
}

// Orchestrator drives a single turn against the three gateways. The
// engine guarantees at most one turn per call is in flight.
type Orchestrator struct {
	stt      gateways.Transcriber
	llm      gateways.Generator
	tts      gateways.Synthesizer
	sender   *Sender
	observer metrics.Observer
	cfg      Config
	// breaker opens after repeated synthesis rate limits so turns fall
	// back immediately instead of burning the retry budget.
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

func NewOrchestrator(stt gateways.Transcriber, llm gateways.Generator, tts gateways.Synthesizer, sender *Sender, observer metrics.Observer, cfg Config) *Orchestrator {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.Backoff == 0 {
		cfg.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Orchestrator{
		stt:      stt,
		llm:      llm,
		tts:      tts,
		sender:   sender,
		observer: observer,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker(3, 30*time.Second),
		log:      logging.NewComponentLogger(slog.Default(), "orchestrator"),
	}
}

// RunTurn consumes the buffered utterance and speaks a reply. A turn
// that finds nothing worth answering quietly returns the call to
// listening.
func (o *Orchestrator) RunTurn(ctx context.Context, call *session.Call) error {
	buf := call.TakeAudioBuffer()
	if len(buf) == 0 {
		return nil
	}
	if err := call.Transition(session.StateProcessing); err != nil {
		// The call moved on (hangup, error) before the turn started.
		return nil
	}
	started := time.Now()
	log := call.Logger()

	var transcript string
	err := o.cfg.Retry.DoContext(ctx, func() error {
		var err error
		transcript, err = o.stt.Transcribe(ctx, buf, 8000)
		return err
	})
	if err != nil {
		log.Error("transcription_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		return o.speakFallback(ctx, call, err)
	}

	if IsFillerOnly(transcript, o.cfg.FillerTokens) {
		log.Debug("utterance_ignored", slog.String("transcript", redact.Text(transcript)))
		o.backToListening(call)
		return nil
	}
	log.Info("utterance_transcribed", slog.String("transcript", redact.Text(transcript)))

	var reply string
	err = o.cfg.Retry.DoContext(ctx, func() error {
		var err error
		reply, err = o.llm.Generate(ctx, gateways.Prompt{
			System:   o.cfg.SystemPrompt,
			History:  call.History(),
			UserText: transcript,
		}, nil)
		return err
	})
	if err != nil {
		log.Error("generation_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		return o.speakFallback(ctx, call, err)
	}
	if reply == "" {
		o.backToListening(call)
		return nil
	}

	markName := fmt.Sprintf("turn-%d", len(call.History())+1)
	if err := o.speak(ctx, call, reply, markName); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errorsx.HasReason(err, errorsx.ReasonStreamTimeout) {
			// The audio already on the wire is the reply; the cutoff
			// only truncated it.
			log.Warn("reply_truncated", slog.String("mark_name", markName))
			call.AppendExchange(transcript, reply)
			return nil
		}
		log.Error("synthesis_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		return o.speakFallback(ctx, call, err)
	}

	call.AppendExchange(transcript, reply)
	o.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTurnComplete,
		Time:  time.Now(),
		Value: float64(time.Since(started).Milliseconds()),
		Tags: map[string]string{
			"stream_id": call.StreamID,
			"call_sid":  call.CallSID,
		},
	})
	return nil
}

// RunGreeting speaks the opening line while the call is in GREETING,
// then opens the floor to the caller.
func (o *Orchestrator) RunGreeting(ctx context.Context, call *session.Call) error {
	if o.cfg.GreetingText == "" {
		return o.finishGreeting(call)
	}
	err := o.streamText(ctx, call, o.cfg.GreetingText, "greeting")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		call.Logger().Error("greeting_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		// A silent open is worse than holding audio.
		if len(o.cfg.FallbackClip) > 0 {
			_ = o.sender.PlayClip(ctx, call, o.cfg.FallbackClip, "greeting")
		} else {
			_ = o.sender.Fallback(call)
		}
	}
	return o.finishGreeting(call)
}

func (o *Orchestrator) finishGreeting(call *session.Call) error {
	call.MarkGreetingDone()
	if err := call.Transition(session.StateListening); err != nil {
		return nil
	}
	o.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventGreetingComplete,
		Time: time.Now(),
		Tags: map[string]string{
			"stream_id": call.StreamID,
			"call_sid":  call.CallSID,
		},
	})
	return nil
}

// speak renders the reply under the speaking guard. The guard is
// released on every exit path, returning the call to listening when it
// is still speaking.
func (o *Orchestrator) speak(ctx context.Context, call *session.Call, reply, markName string) error {
	release, err := call.BeginSpeaking()
	if err != nil {
		return err
	}
	defer release()
	return o.streamSegments(ctx, call, reply, markName)
}

// streamText streams reply audio without touching the speaking state,
// used for the greeting which plays outside the turn loop.
func (o *Orchestrator) streamText(ctx context.Context, call *session.Call, text, markName string) error {
	return o.streamSegments(ctx, call, text, markName)
}

func (o *Orchestrator) streamSegments(ctx context.Context, call *session.Call, text, markName string) error {
	segments := SplitSentences(text)
	for i, seg := range segments {
		if !o.breaker.Allow() {
			return resilience.RateLimitError{Provider: "tts", Message: "synthesis circuit open"}
		}
		chunks, err := o.synthesizeWithRetry(ctx, call, seg)
		if err != nil {
			o.breaker.OnError(err)
			return err
		}
		o.breaker.OnSuccess()
		mark := ""
		if i == len(segments)-1 {
			mark = markName
		}
		if err := o.sender.Stream(ctx, call, o.tts.Format(), o.tts.SampleRate(), chunks, mark); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeWithRetry opens one synthesis stream for a segment. Only
// rate limits are worth another attempt; any other failure surfaces
// immediately.
func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, call *session.Call, seg string) (<-chan gateways.Chunk, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.cfg.Retry.Backoff * time.Duration(attempt)):
			}
		}
		chunks, err := o.tts.Synthesize(ctx, seg)
		if err == nil {
			return chunks, nil
		}
		if !resilience.IsRateLimit(err) {
			return nil, err
		}
		o.observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventRateLimit,
			Time: time.Now(),
			Tags: map[string]string{"provider": "tts", "stream_id": call.StreamID},
		})
		lastErr = err
	}
	return nil, lastErr
}

// speakFallback plays the canned apology after a gateway failure. The
// call stays alive when the fallback lands; the cause only propagates
// when the call is already lost.
func (o *Orchestrator) speakFallback(ctx context.Context, call *session.Call, cause error) error {
	if call.State().Terminal() || ctx.Err() != nil {
		return cause
	}

	release, err := call.BeginSpeaking()
	if err != nil {
		// Not in PROCESSING anymore; nothing sensible to play.
		o.backToListening(call)
		return nil
	}
	defer release()

	if len(o.cfg.FallbackClip) > 0 {
		if err := o.sender.PlayClip(ctx, call, o.cfg.FallbackClip, "fallback"); err != nil {
			call.Logger().Error("fallback_clip_failed", slog.String("error", err.Error()))
			_ = call.Transition(session.StateError)
			return cause
		}
		return nil
	}
	if err := o.sender.Fallback(call); err != nil {
		_ = call.Transition(session.StateError)
		return cause
	}
	return nil
}

// StopPlayback asks the transport to drop any reply audio still queued
// for the call. Runs on teardown so buffered playback dies with the
// call.
func (o *Orchestrator) StopPlayback(call *session.Call) {
	if err := o.sender.Clear(call); err != nil {
		call.Logger().Warn("playback_clear_failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) backToListening(call *session.Call) {
	if call.State() == session.StateProcessing {
		_ = call.Transition(session.StateListening)
	}
}
