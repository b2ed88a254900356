package session

import (
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
)

func newListeningCall(t *testing.T) *Call {
	t.Helper()
	c := NewCall("MZ123", "CA456", "+15550001111", nil)
	mustTransition(t, c, StateGreeting)
	mustTransition(t, c, StateListening)
	return c
}

func mustTransition(t *testing.T, c *Call, to State) {
	t.Helper()
	if err := c.Transition(to); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}

func TestCallHappyPathTransitions(t *testing.T) {
	c := newListeningCall(t)
	mustTransition(t, c, StateProcessing)
	mustTransition(t, c, StateSpeaking)
	mustTransition(t, c, StateListening)
	mustTransition(t, c, StateDisconnecting)
	mustTransition(t, c, StateDisconnected)
	if !c.State().Terminal() {
		t.Fatal("disconnected should be terminal")
	}
}

func TestInvalidTransitionForcesTeardown(t *testing.T) {
	c := NewCall("MZ1", "CA1", "", nil)
	err := c.Transition(StateSpeaking)
	if err == nil {
		t.Fatal("connecting -> speaking should be rejected")
	}
	var ite InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("got %T, want InvalidTransitionError", err)
	}
	if errorsx.Reason(err) != errorsx.ReasonInvalidTransition {
		t.Fatalf("reason %q", errorsx.Reason(err))
	}
	if c.State() != StateDisconnecting {
		t.Fatalf("state %s after rejected transition, want disconnecting", c.State())
	}
}

func TestRedundantDisconnectEdgeIsBenign(t *testing.T) {
	c := newListeningCall(t)
	mustTransition(t, c, StateDisconnecting)
	// The teardown race: both hangup paths ask for DISCONNECTING. The
	// second request fails without re-forcing anything.
	if err := c.Transition(StateDisconnecting); err == nil {
		t.Fatal("disconnecting -> disconnecting should be rejected")
	}
	if c.State() != StateDisconnecting {
		t.Fatalf("state %s after redundant disconnect", c.State())
	}
	mustTransition(t, c, StateDisconnected)
	if err := c.Transition(StateDisconnected); err == nil {
		t.Fatal("disconnected -> disconnected should be rejected")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state %s after redundant disconnect", c.State())
	}
}

func TestNoTransitionsOutOfDisconnected(t *testing.T) {
	c := newListeningCall(t)
	mustTransition(t, c, StateDisconnecting)
	mustTransition(t, c, StateDisconnected)
	for _, to := range []State{StateConnecting, StateListening, StateError, StateDisconnecting} {
		if err := c.Transition(to); err == nil {
			t.Fatalf("disconnected -> %s should be rejected", to)
		}
	}
}

func TestErrorReachableFromAnyActiveState(t *testing.T) {
	build := map[string][]State{
		"connecting": {},
		"greeting":   {StateGreeting},
		"listening":  {StateGreeting, StateListening},
		"processing": {StateGreeting, StateListening, StateProcessing},
		"speaking":   {StateGreeting, StateListening, StateProcessing, StateSpeaking},
	}
	for name, path := range build {
		c := NewCall("MZ1", "CA1", "", nil)
		for _, s := range path {
			mustTransition(t, c, s)
		}
		if err := c.Transition(StateError); err != nil {
			t.Fatalf("%s -> error rejected: %v", name, err)
		}
	}
}

func TestBeginSpeakingGuard(t *testing.T) {
	c := newListeningCall(t)
	if _, err := c.BeginSpeaking(); err == nil {
		t.Fatal("speaking from listening should be rejected")
	}
	mustTransition(t, c, StateProcessing)

	release, err := c.BeginSpeaking()
	if err != nil {
		t.Fatalf("begin speaking: %v", err)
	}
	if c.State() != StateSpeaking || !c.IsSpeaking() {
		t.Fatalf("state %s speaking %v after begin", c.State(), c.IsSpeaking())
	}

	release()
	if c.IsSpeaking() {
		t.Fatal("speaking flag still set after release")
	}
	if c.State() != StateListening {
		t.Fatalf("state %s after release, want listening", c.State())
	}

	// Idempotent: a second release must not disturb the new state.
	mustTransition(t, c, StateProcessing)
	release()
	if c.State() != StateProcessing {
		t.Fatalf("second release moved state to %s", c.State())
	}
}

func TestReleaseAfterDisconnectKeepsTerminalState(t *testing.T) {
	c := newListeningCall(t)
	mustTransition(t, c, StateProcessing)
	release, err := c.BeginSpeaking()
	if err != nil {
		t.Fatalf("begin speaking: %v", err)
	}
	mustTransition(t, c, StateDisconnecting)
	mustTransition(t, c, StateDisconnected)

	release()
	if c.IsSpeaking() {
		t.Fatal("speaking flag survived disconnect")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("release moved state to %s", c.State())
	}
}

func TestAudioBuffersInEveryActiveState(t *testing.T) {
	c := NewCall("MZ1", "CA1", "", nil)
	mustTransition(t, c, StateGreeting)
	// Callers who start talking over the greeting are not lost.
	c.AppendAudio([]int16{1, 2, 3})
	if c.BufferedSamples() != 3 {
		t.Fatalf("buffered %d during greeting, want 3", c.BufferedSamples())
	}
	mustTransition(t, c, StateListening)
	c.AppendAudio([]int16{4})
	if c.BufferedSamples() != 4 {
		t.Fatalf("buffered %d, want 4", c.BufferedSamples())
	}

	buf := c.TakeAudioBuffer()
	if len(buf) != 4 || buf[3] != 4 {
		t.Fatalf("took %v", buf)
	}
	if c.BufferedSamples() != 0 {
		t.Fatal("buffer not reset after take")
	}

	mustTransition(t, c, StateDisconnecting)
	c.AppendAudio([]int16{5})
	if c.BufferedSamples() != 0 {
		t.Fatal("audio buffered during teardown")
	}
}

func TestAudioBufferBounded(t *testing.T) {
	c := newListeningCall(t)
	chunk := make([]int16, maxBufferedSamples)
	c.AppendAudio(chunk)
	if c.BufferedSamples() != maxBufferedSamples {
		t.Fatalf("buffered %d, want %d", c.BufferedSamples(), maxBufferedSamples)
	}
	c.AppendAudio([]int16{1})
	if c.BufferedSamples() != maxBufferedSamples {
		t.Fatal("buffer grew past its cap")
	}
}

func TestHistoryCopies(t *testing.T) {
	c := NewCall("MZ1", "CA1", "", nil)
	c.AppendExchange("hello", "hi there")
	h := c.History()
	if len(h) != 1 || h[0].Caller != "hello" {
		t.Fatalf("history %v", h)
	}
	h[0].Caller = "mutated"
	if c.History()[0].Caller != "hello" {
		t.Fatal("history aliases internal slice")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCall("MZ9", "CA9", "", nil)
	r.Add(c)
	if got, ok := r.Get("MZ9"); !ok || got != c {
		t.Fatal("registered call not found")
	}
	if r.Len() != 1 {
		t.Fatalf("len %d", r.Len())
	}
	r.Remove("MZ9")
	if _, ok := r.Get("MZ9"); ok {
		t.Fatal("call still present after remove")
	}
}
