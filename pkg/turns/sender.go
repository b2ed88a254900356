package turns

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxbridge/voxbridge/pkg/codec"
	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/frames"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/logging"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/session"
)

// FrameSender is the slice of the transport the sender needs.
type FrameSender interface {
	Send(f frames.Frame) error
}

type SenderConfig struct {
	// MaxStreamDuration bounds one outbound stream wall-clock; a
	// synthesis that outruns it is cut off.
	MaxStreamDuration time.Duration
	Observer          metrics.Observer
}

// Sender decodes a synthesis stream and paces mu-law frames onto the
// wire, one frame per tick. It never sends to a disconnected call.
type Sender struct {
	transport FrameSender
	cfg       SenderConfig
	observer  metrics.Observer
	log       *slog.Logger
}

func NewSender(transport FrameSender, cfg SenderConfig) *Sender {
	if cfg.MaxStreamDuration <= 0 {
		cfg.MaxStreamDuration = 30 * time.Second
	}
	observer := cfg.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Sender{
		transport: transport,
		cfg:       cfg,
		observer:  observer,
		log:       logging.NewComponentLogger(slog.Default(), "sender"),
	}
}

// Stream consumes synthesis chunks, transcodes them to the wire format,
// and sends them at frame pace. When markName is non-empty a mark
// control frame follows the final audio frame so the transport can
// acknowledge playback.
func (s *Sender) Stream(ctx context.Context, call *session.Call, format string, sampleRate int, chunks <-chan gateways.Chunk, markName string) error {
	dec, err := codec.NewStreamDecoder(format, sampleRate)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}

	var enc codec.WireEncoder
	var queue [][]byte
	deadline := time.Now().Add(s.cfg.MaxStreamDuration)
	ticker := time.NewTicker(codec.FrameDuration)
	defer ticker.Stop()

	log := call.Logger()
	open := true
	sent := 0
	for {
		if time.Now().After(deadline) {
			s.log.Warn("outbound_stream_cutoff",
				slog.String("stream_id", call.StreamID),
				slog.Int("frames_sent", sent))
			s.observer.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventStreamTimeout,
				Time: time.Now(),
				Tags: map[string]string{"stream_id": call.StreamID},
			})
			return errorsx.Wrap(context.DeadlineExceeded, errorsx.ReasonStreamTimeout)
		}

		if !open && len(queue) == 0 {
			if last := enc.Flush(); last != nil {
				if err := s.sendFrame(call, last); err != nil {
					return err
				}
				sent++
			}
			if markName != "" {
				if err := s.sendMark(call, markName); err != nil {
					return err
				}
			}
			log.Debug("outbound_stream_complete", slog.Int("frames_sent", sent))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				open = false
				continue
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			if chunk.Final {
				open = false
				continue
			}
			samples, err := dec.Decode(chunk.Data)
			if err != nil {
				if errorsx.HasReason(err, errorsx.ReasonDecodeAbort) {
					return err
				}
				log.Warn("synthesis_chunk_skipped", slog.String("error", err.Error()))
				s.observer.RecordEvent(metrics.MetricsEvent{
					Name: metrics.EventDecodeSkip,
					Time: time.Now(),
					Tags: map[string]string{"stream_id": call.StreamID},
				})
				continue
			}
			if len(samples) == 0 {
				continue
			}
			rate := dec.SampleRate()
			pcm8k := codec.ResamplePCM16(samples, rate, codec.WireSampleRate)
			queue = append(queue, enc.Push(codec.PCM16ToMuLaw(pcm8k))...)
		case <-ticker.C:
			if len(queue) == 0 {
				continue
			}
			if err := s.sendFrame(call, queue[0]); err != nil {
				return err
			}
			queue = queue[1:]
			sent++
		}
	}
}

// PlayClip paces a pre-rendered mu-law clip onto the wire, used for the
// canned fallback line and any static prompts.
func (s *Sender) PlayClip(ctx context.Context, call *session.Call, clip []byte, markName string) error {
	var enc codec.WireEncoder
	queue := enc.Push(clip)
	if last := enc.Flush(); last != nil {
		queue = append(queue, last)
	}

	ticker := time.NewTicker(codec.FrameDuration)
	defer ticker.Stop()
	for _, frame := range queue {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sendFrame(call, frame); err != nil {
				return err
			}
		}
	}
	if markName != "" {
		return s.sendMark(call, markName)
	}
	return nil
}

// Clear asks the transport to drop any audio it has buffered for the
// call.
func (s *Sender) Clear(call *session.Call) error {
	if call.State().Terminal() {
		return nil
	}
	cf := frames.NewControlFrame(call.StreamID, time.Now().UnixNano(), frames.ControlClear, map[string]string{
		frames.MetaCallSID: call.CallSID,
	})
	return s.transport.Send(cf)
}

// Fallback plays the transport's built-in holding audio.
func (s *Sender) Fallback(call *session.Call) error {
	if call.State().Terminal() {
		return nil
	}
	cf := frames.NewControlFrame(call.StreamID, time.Now().UnixNano(), frames.ControlFallback, map[string]string{
		frames.MetaCallSID: call.CallSID,
	})
	return s.transport.Send(cf)
}

func (s *Sender) sendFrame(call *session.Call, frame []byte) error {
	if call.State().Terminal() {
		return errorsx.Wrap(context.Canceled, errorsx.ReasonTransportClosed)
	}
	af := frames.NewAudioFrame(call.StreamID, time.Now().UnixNano(), frame, codec.WireSampleRate, 1, map[string]string{
		frames.MetaCallSID:  call.CallSID,
		frames.MetaEncoding: "mulaw",
	})
	if err := s.transport.Send(af); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (s *Sender) sendMark(call *session.Call, name string) error {
	if call.State().Terminal() {
		return nil
	}
	cf := frames.NewControlFrame(call.StreamID, time.Now().UnixNano(), frames.ControlMark, map[string]string{
		frames.MetaCallSID:  call.CallSID,
		frames.MetaMarkName: name,
	})
	return s.transport.Send(cf)
}
