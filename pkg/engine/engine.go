// Package engine wires the transport, endpointing, and turn loop into
// running calls.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/pkg/codec"
	"github.com/voxbridge/voxbridge/pkg/endpoint"
	"github.com/voxbridge/voxbridge/pkg/frames"
	"github.com/voxbridge/voxbridge/pkg/logging"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/session"
	"github.com/voxbridge/voxbridge/pkg/transport"
	"github.com/voxbridge/voxbridge/pkg/turns"
)

type taskEvent int

const (
	evUtterance taskEvent = iota
	evEnd
)

// callTask owns one call: a detector, an inbox, and a goroutine that
// serializes greeting, turns, and teardown. One event at a time per
// call, so at most one turn is ever in flight.
type callTask struct {
	call     *session.Call
	detector *endpoint.Detector
	inbox    chan taskEvent
	ctx      context.Context
	cancel   context.CancelFunc
}

func (t *callTask) post(ev taskEvent) {
	select {
	case t.inbox <- ev:
	default:
	}
}

type Engine struct {
	cfg       Config
	transport transport.Transport
	orch      *turns.Orchestrator
	registry  *session.Registry
	observer  metrics.Observer
	log       *slog.Logger

	mu    sync.Mutex
	tasks map[string]*callTask
	wg    sync.WaitGroup
}

func New(cfg Config, tr transport.Transport, orch *turns.Orchestrator, observer metrics.Observer) *Engine {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Engine{
		cfg:       cfg,
		transport: tr,
		orch:      orch,
		registry:  session.NewRegistry(),
		observer:  observer,
		log:       logging.NewComponentLogger(slog.Default(), "engine"),
		tasks:     make(map[string]*callTask),
	}
}

func (e *Engine) Registry() *session.Registry { return e.registry }

// Run starts the transport and consumes its frames until the context
// ends or the transport closes.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	if rr, ok := e.transport.(transport.ReadyReporter); ok {
		attrs := []any{slog.String("transport", e.transport.Name())}
		for k, v := range rr.ReadyFields() {
			attrs = append(attrs, slog.Any(k, v))
		}
		e.log.Info("engine_ready", attrs...)
	} else {
		e.log.Info("engine_ready", slog.String("transport", e.transport.Name()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-e.transport.Recv():
			if !ok {
				return nil
			}
			e.handleFrame(ctx, f)
		}
	}
}

// Drain cancels every live call and waits for their tasks to finish.
func (e *Engine) Drain() error {
	e.registry.Each(func(c *session.Call) {
		c.Logger().Info("call_draining")
	})
	e.mu.Lock()
	for _, task := range e.tasks {
		task.cancel()
		task.post(evEnd)
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// Dial places an outbound call when the transport supports it.
func (e *Engine) Dial(ctx context.Context, to, from string) (string, error) {
	dialer, ok := e.transport.(transport.OutboundDialer)
	if !ok {
		return "", errors.New("transport does not support outbound dialing")
	}
	return dialer.Dial(ctx, to, from, "")
}

func (e *Engine) handleFrame(ctx context.Context, f frames.Frame) {
	switch fr := f.(type) {
	case frames.SystemFrame:
		switch fr.Name() {
		case frames.SystemCallStart:
			e.startCall(ctx, fr)
		case frames.SystemCallEnd:
			e.endCall(fr)
		case frames.SystemMark:
			e.log.Debug("playback_acknowledged",
				slog.String("stream_id", fr.Meta()[frames.MetaStreamID]),
				slog.String("mark_name", fr.Meta()[frames.MetaMarkName]))
		}
	case frames.AudioFrame:
		e.handleAudio(fr)
		frames.ReleaseAudioFrame(fr)
	}
}

func (e *Engine) startCall(ctx context.Context, f frames.SystemFrame) {
	meta := f.Meta()
	streamID := meta[frames.MetaStreamID]
	if streamID == "" {
		return
	}
	call := session.NewCall(streamID, meta[frames.MetaCallSID], meta[frames.MetaFromNumber], slog.Default())
	if err := call.Transition(session.StateGreeting); err != nil {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &callTask{
		call:   call,
		inbox:  make(chan taskEvent, 8),
		ctx:    taskCtx,
		cancel: cancel,
	}
	task.detector = endpoint.NewDetector(endpoint.Config{
		SampleRate:      codec.WireSampleRate,
		EnergyThreshold: e.cfg.Endpoint.EnergyThreshold,
		SilenceAfter:    time.Duration(e.cfg.Endpoint.SilenceMS) * time.Millisecond,
		MinUtterance:    time.Duration(e.cfg.Endpoint.MinUtteranceMS) * time.Millisecond,
		Gate: func() bool {
			return call.State() == session.StateListening && call.GreetingDone()
		},
	}, func() { task.post(evUtterance) })

	e.mu.Lock()
	if old, ok := e.tasks[streamID]; ok {
		old.cancel()
		old.post(evEnd)
	}
	e.tasks[streamID] = task
	e.mu.Unlock()
	e.registry.Add(call)

	e.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSessionCreated,
		Time: time.Now(),
		Tags: map[string]string{
			"stream_id": streamID,
			"call_sid":  call.CallSID,
		},
	})
	call.Logger().Info("call_started", slog.String("from", call.From))

	e.wg.Add(1)
	go e.runTask(task)
}

func (e *Engine) runTask(task *callTask) {
	defer e.wg.Done()
	call := task.call

	_ = e.orch.RunGreeting(task.ctx, call)

	for {
		select {
		case <-task.ctx.Done():
			e.finalize(task, "cancelled")
			return
		case ev := <-task.inbox:
			switch ev {
			case evUtterance:
				if err := e.orch.RunTurn(task.ctx, call); err != nil && task.ctx.Err() == nil {
					call.Logger().Error("turn_failed", slog.String("error", err.Error()))
					_ = call.Transition(session.StateError)
					e.finalize(task, "error")
					return
				}
			case evEnd:
				e.finalize(task, "hangup")
				return
			}
		}
	}
}

// finalize runs the teardown order: stop the silence timer, cancel any
// in-flight work, then walk the call to DISCONNECTED and drop it.
func (e *Engine) finalize(task *callTask, reason string) {
	call := task.call
	task.detector.Stop()
	task.cancel()
	e.orch.StopPlayback(call)

	if !call.State().Terminal() {
		if call.State() != session.StateDisconnecting {
			_ = call.Transition(session.StateDisconnecting)
		}
		_ = call.Transition(session.StateDisconnected)
	}

	e.mu.Lock()
	if e.tasks[call.StreamID] == task {
		delete(e.tasks, call.StreamID)
	}
	e.mu.Unlock()
	e.registry.Remove(call.StreamID)

	e.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSessionClosed,
		Time:  time.Now(),
		Value: time.Since(call.StartedAt()).Seconds(),
		Tags: map[string]string{
			"stream_id": call.StreamID,
			"call_sid":  call.CallSID,
			"reason":    reason,
		},
	})
	call.Logger().Info("call_ended", slog.String("reason", reason))
}

func (e *Engine) endCall(f frames.SystemFrame) {
	streamID := f.Meta()[frames.MetaStreamID]
	e.mu.Lock()
	task, ok := e.tasks[streamID]
	e.mu.Unlock()
	if !ok {
		return
	}
	// Cancel first so an in-flight turn unblocks, then let the task
	// loop observe the end event.
	task.cancel()
	task.post(evEnd)
}

// handleAudio classifies caller audio and buffers the speech frames.
// Frames buffer in every active state; only the silence timer is gated
// on the call actually listening. Sub-threshold frames are noise and
// never reach the buffer.
func (e *Engine) handleAudio(f frames.AudioFrame) {
	streamID := f.Meta()[frames.MetaStreamID]
	e.mu.Lock()
	task, ok := e.tasks[streamID]
	e.mu.Unlock()
	if !ok {
		return
	}
	samples := codec.MuLawToPCM16(f.RawPayload())
	if task.detector.ProcessFrame(samples) {
		task.call.AppendAudio(samples)
	}
}
