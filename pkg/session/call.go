package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
)

// Call holds the per-call conversational state. The inbox loop owns the
// call; the mutex exists for the turn goroutine and the silence timer,
// which read state and flip the speaking flag from outside the loop.
type Call struct {
	StreamID string
	CallSID  string
	From     string
	TraceID  string

	mu           sync.Mutex
	state        State
	speaking     bool
	greetingDone bool
	audioBuf     []int16
	bufStarted   time.Time
	history      []Exchange
	startedAt    time.Time

	log *slog.Logger
}

// Exchange is one completed caller/agent turn, kept for prompt context.
type Exchange struct {
	Caller string
	Agent  string
}

func NewCall(streamID, callSID, from string, log *slog.Logger) *Call {
	if log == nil {
		log = slog.Default()
	}
	return &Call{
		StreamID:  streamID,
		CallSID:   callSID,
		From:      from,
		state:     StateConnecting,
		startedAt: time.Now(),
		log: log.With(
			slog.String("stream_id", streamID),
			slog.String("call_sid", callSID),
		),
	}
}

func (c *Call) Logger() *slog.Logger { return c.log }

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) StartedAt() time.Time { return c.startedAt }

// Transition moves the call to a new state, rejecting moves the
// lifecycle does not allow. A rejected edge is an invariant violation:
// it is logged and the call is forced onto ERROR then DISCONNECTING so
// it can never keep running in an undefined state. The one exception is
// the teardown race, where redundant disconnect edges fail benignly.
func (c *Call) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.transitionLocked(to)
	if err == nil {
		return nil
	}
	if to == StateDisconnecting || to == StateDisconnected ||
		c.state == StateDisconnecting || c.state.Terminal() {
		return err
	}
	if c.state != StateError {
		_ = c.transitionLocked(StateError)
	}
	_ = c.transitionLocked(StateDisconnecting)
	return err
}

func (c *Call) transitionLocked(to State) error {
	if !transitionAllowed(c.state, to) {
		c.log.Warn("call_state_rejected",
			slog.String("from", c.state.String()),
			slog.String("to", to.String()),
			slog.String("reason_code", string(errorsx.ReasonInvalidTransition)),
		)
		return errorsx.Wrap(InvalidTransitionError{From: c.state, To: to}, errorsx.ReasonInvalidTransition)
	}
	c.log.Debug("call_state_changed",
		slog.String("from", c.state.String()),
		slog.String("to", to.String()),
	)
	c.state = to
	if to == StateDisconnected {
		c.audioBuf = nil
	}
	return nil
}

// BeginSpeaking transitions PROCESSING to SPEAKING and raises the
// speaking flag. The returned release func lowers the flag and, when
// the call is still SPEAKING, returns it to LISTENING; it is safe to
// call more than once and must run on every exit path of the speaking
// section.
func (c *Call) BeginSpeaking() (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateProcessing {
		return nil, errorsx.Wrap(InvalidTransitionError{From: c.state, To: StateSpeaking}, errorsx.ReasonInvalidTransition)
	}
	if err := c.transitionLocked(StateSpeaking); err != nil {
		return nil, err
	}
	c.speaking = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.speaking = false
			if c.state == StateSpeaking {
				_ = c.transitionLocked(StateListening)
			}
		})
	}, nil
}

func (c *Call) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *Call) MarkGreetingDone() {
	c.mu.Lock()
	c.greetingDone = true
	c.mu.Unlock()
}

func (c *Call) GreetingDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greetingDone
}

// maxBufferedSamples caps one utterance buffer at 60s of 8 kHz audio.
const maxBufferedSamples = 60 * 8000

// AppendAudio buffers decoded caller speech. Frames accumulate in every
// pre-teardown state — LISTENING only gates the silence timer, not the
// buffer — and are dropped once the call is in error or tearing down.
// The buffer is bounded so a nonstop talker cannot grow it without
// limit.
func (c *Call) AppendAudio(samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateError, StateDisconnecting, StateDisconnected:
		return
	}
	if len(c.audioBuf)+len(samples) > maxBufferedSamples {
		return
	}
	if len(c.audioBuf) == 0 {
		c.bufStarted = time.Now()
	}
	c.audioBuf = append(c.audioBuf, samples...)
}

// TakeAudioBuffer returns the buffered utterance and resets the buffer.
func (c *Call) TakeAudioBuffer() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.audioBuf
	c.audioBuf = nil
	return buf
}

// BufferedSamples reports how many caller samples are waiting.
func (c *Call) BufferedSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audioBuf)
}

// AppendExchange records a completed turn for prompt context.
func (c *Call) AppendExchange(caller, agent string) {
	c.mu.Lock()
	c.history = append(c.history, Exchange{Caller: caller, Agent: agent})
	c.mu.Unlock()
}

// History returns a copy of the completed exchanges.
func (c *Call) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.history))
	copy(out, c.history)
	return out
}
