package endpoint

import (
	"sync/atomic"
	"testing"
	"time"
)

func loudFrame() []int16 {
	f := make([]int16, 160)
	for i := range f {
		f[i] = 4000
	}
	return f
}

func quietFrame() []int16 {
	return make([]int16, 160)
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("rms of empty frame is %f", got)
	}
	if got := RMS(quietFrame()); got != 0 {
		t.Fatalf("rms of silence is %f", got)
	}
	if got := RMS(loudFrame()); got != 4000 {
		t.Fatalf("rms of constant 4000 is %f", got)
	}
}

func TestDetectorFiresOnceAfterSilence(t *testing.T) {
	fired := make(chan struct{}, 4)
	d := NewDetector(Config{SilenceAfter: 40 * time.Millisecond}, func() {
		fired <- struct{}{}
	})
	defer d.Stop()

	// A burst of speech frames keeps exactly one timer pending.
	for i := 0; i < 10; i++ {
		d.ProcessFrame(loudFrame())
	}
	if !d.Pending() {
		t.Fatal("no timer pending after speech")
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("end of utterance never fired")
	}

	select {
	case <-fired:
		t.Fatal("fired more than once for a single utterance")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDetectorIgnoresSilenceOnlyAudio(t *testing.T) {
	var count int32
	d := NewDetector(Config{SilenceAfter: 20 * time.Millisecond}, func() {
		atomic.AddInt32(&count, 1)
	})
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.ProcessFrame(quietFrame())
	}
	if d.Pending() {
		t.Fatal("silence armed a timer")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired without any speech")
	}
}

func TestDetectorSpeechReArmsTimer(t *testing.T) {
	fired := make(chan struct{}, 4)
	d := NewDetector(Config{SilenceAfter: 80 * time.Millisecond}, func() {
		fired <- struct{}{}
	})
	defer d.Stop()

	// Speech every 40ms keeps pushing the deadline out.
	start := time.Now()
	for i := 0; i < 4; i++ {
		d.ProcessFrame(loudFrame())
		time.Sleep(40 * time.Millisecond)
	}

	select {
	case <-fired:
		elapsed := time.Since(start)
		// The last speech frame was at ~120ms, so the earliest valid
		// fire is ~200ms in.
		if elapsed < 180*time.Millisecond {
			t.Fatalf("fired after %v, before trailing silence elapsed", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("never fired")
	}
}

func TestDetectorMinUtteranceGate(t *testing.T) {
	var count int32
	d := NewDetector(Config{
		SilenceAfter: 20 * time.Millisecond,
		MinUtterance: time.Second,
	}, func() {
		atomic.AddInt32(&count, 1)
	})
	defer d.Stop()

	// One 20ms frame of speech is well under the minimum.
	d.ProcessFrame(loudFrame())
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired for a burst shorter than the minimum utterance")
	}
	if d.Pending() {
		t.Fatal("timer left pending after discard")
	}
}

func TestDetectorClassifiesFrames(t *testing.T) {
	d := NewDetector(Config{}, nil)
	defer d.Stop()
	if d.ProcessFrame(quietFrame()) {
		t.Fatal("silence classified as speech")
	}
	if !d.ProcessFrame(loudFrame()) {
		t.Fatal("loud frame not classified as speech")
	}
	d.Stop()
	if d.ProcessFrame(loudFrame()) {
		t.Fatal("stopped detector still classifies speech")
	}
}

func TestDetectorClosedGateSuppressesTimer(t *testing.T) {
	var gateOpen atomic.Bool
	var count int32
	d := NewDetector(Config{
		SilenceAfter: 20 * time.Millisecond,
		Gate:         gateOpen.Load,
	}, func() {
		atomic.AddInt32(&count, 1)
	})
	defer d.Stop()

	// Speech behind a closed gate still classifies, but arms nothing.
	if !d.ProcessFrame(loudFrame()) {
		t.Fatal("gated speech not classified as speech")
	}
	if d.Pending() {
		t.Fatal("closed gate armed a timer")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired while the gate was closed")
	}

	gateOpen.Store(true)
	d.ProcessFrame(loudFrame())
	if !d.Pending() {
		t.Fatal("open gate did not arm the timer")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("fired %d times, want 1", atomic.LoadInt32(&count))
	}
}

func TestDetectorGateClosedAtFireTime(t *testing.T) {
	var gateOpen atomic.Bool
	gateOpen.Store(true)
	var count int32
	d := NewDetector(Config{
		SilenceAfter: 20 * time.Millisecond,
		Gate:         gateOpen.Load,
	}, func() {
		atomic.AddInt32(&count, 1)
	})
	defer d.Stop()

	d.ProcessFrame(loudFrame())
	gateOpen.Store(false)
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired with the gate closed at fire time")
	}
}

func TestDetectorResetCancelsPendingTimer(t *testing.T) {
	var count int32
	d := NewDetector(Config{SilenceAfter: 30 * time.Millisecond}, func() {
		atomic.AddInt32(&count, 1)
	})
	defer d.Stop()

	d.ProcessFrame(loudFrame())
	d.Reset()
	if d.Pending() {
		t.Fatal("timer still pending after reset")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired after reset")
	}
}

func TestDetectorStop(t *testing.T) {
	var count int32
	d := NewDetector(Config{SilenceAfter: 30 * time.Millisecond}, func() {
		atomic.AddInt32(&count, 1)
	})
	d.ProcessFrame(loudFrame())
	d.Stop()
	d.ProcessFrame(loudFrame())
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("fired after stop")
	}
}
