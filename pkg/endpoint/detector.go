// Package endpoint decides when a caller has finished speaking, using
// frame energy and a trailing-silence timer.
package endpoint

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	// SampleRate of the frames fed to ProcessFrame.
	SampleRate int
	// EnergyThreshold is the RMS level (over int16 samples) above
	// which a frame counts as speech.
	EnergyThreshold float64
	// SilenceAfter is how long after the last speech frame the
	// utterance is considered finished.
	SilenceAfter time.Duration
	// MinUtterance is the least accumulated speech needed before an
	// end-of-utterance fires; shorter bursts are treated as noise and
	// discarded.
	MinUtterance time.Duration
	// Gate, when set, suppresses the silence timer: speech frames
	// still count toward the utterance, but the timer is neither armed
	// while the gate is closed nor honored at fire time.
	Gate func() bool
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 500
	}
	if c.SilenceAfter <= 0 {
		c.SilenceAfter = 1500 * time.Millisecond
	}
	if c.MinUtterance < 0 {
		c.MinUtterance = 0
	}
}

// RMS computes the root-mean-square energy of a frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Detector watches listening-phase audio frames and invokes its
// callback once per utterance, after the caller has spoken and then
// stayed quiet for the configured window. At most one silence timer is
// pending at any time; each speech frame replaces it.
type Detector struct {
	cfg    Config
	onDone func()

	mu          sync.Mutex
	timer       *time.Timer
	heardSpeech bool
	speechDur   time.Duration
	stopped     bool
}

func NewDetector(cfg Config, onEndOfUtterance func()) *Detector {
	cfg.applyDefaults()
	return &Detector{cfg: cfg, onDone: onEndOfUtterance}
}

// ProcessFrame feeds one frame of caller audio and reports whether it
// classified as speech. Speech frames arm (or re-arm) the silence timer
// when the gate is open; silent frames leave the pending timer running.
func (d *Detector) ProcessFrame(samples []int16) bool {
	energy := RMS(samples)
	frameDur := time.Duration(len(samples)) * time.Second / time.Duration(d.cfg.SampleRate)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if energy < d.cfg.EnergyThreshold {
		return false
	}
	d.heardSpeech = true
	d.speechDur += frameDur
	if d.cfg.Gate != nil && !d.cfg.Gate() {
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.cfg.SilenceAfter, d.fire)
	return true
}

func (d *Detector) fire() {
	d.mu.Lock()
	if d.stopped || !d.heardSpeech {
		d.mu.Unlock()
		return
	}
	tooShort := d.speechDur < d.cfg.MinUtterance
	d.heardSpeech = false
	d.speechDur = 0
	d.timer = nil
	gate := d.cfg.Gate
	done := d.onDone
	d.mu.Unlock()

	if tooShort {
		return
	}
	if gate != nil && !gate() {
		return
	}
	if done != nil {
		done()
	}
}

// Reset cancels any pending timer and clears speech tracking. Call it
// when a turn begins so stale audio cannot trigger a second utterance.
func (d *Detector) Reset() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.heardSpeech = false
	d.speechDur = 0
	d.mu.Unlock()
}

// Stop permanently disables the detector.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}

// Pending reports whether a silence timer is armed.
func (d *Detector) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
