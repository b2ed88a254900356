// Package transport defines the vendor-agnostic boundary between the
// engine and the telephony network.
package transport

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/frames"
)

// Transport carries frames between live calls and the engine.
// Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error

	// Recv delivers inbound frames: call_start/call_end system frames,
	// mu-law audio frames, and mark acknowledgements.
	Recv() <-chan frames.Frame

	// Send writes one outbound frame to its call. Sends to unknown or
	// closed streams are dropped without error.
	Send(f frames.Frame) error
}

// OutboundDialer places outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// ReadyReporter exposes readiness metadata such as webhook URLs, used
// for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
