package core

import (
	"context"

	"github.com/dkeye/VoiceChat/internal/domain"
)

// CaptureSampleRate is the rate every local capture track produces (mono, 16-bit).
const CaptureSampleRate = 8000

// SampleTap exposes the most recent audio of a node for analysis.
type SampleTap interface {
	// Window copies the latest len(dst) samples in [-1, 1] into dst and
	// returns how many were available. Missing samples are zero.
	Window(dst []float32) int
}

// Constraints selects the capture device. An empty DeviceID means the default device.
type Constraints struct {
	DeviceID string
}

// LocalTrack is one captured audio track.
type LocalTrack interface {
	SampleTap

	ID() string
	DeviceID() string
	Enabled() bool
	// SetEnabled(false) makes the track produce silence without releasing the device.
	SetEnabled(bool)
	// Stop releases the device. It does not fire the ended callback.
	Stop()
	Stopped() bool
	// OnEnded registers the callback for an unexpected end (device gone).
	OnEnded(func())
	// ReadPCM blocks until a frame of len(p) samples is captured.
	ReadPCM(p []int16) (int, error)
}

type LocalStream interface {
	AudioTracks() []LocalTrack
	Stop()
}

// MediaDevices is the platform capture surface.
type MediaDevices interface {
	Enumerate(ctx context.Context) ([]domain.Device, error)
	GetUserMedia(ctx context.Context, c Constraints) (LocalStream, error)
	// LabelsNeedGrant reports whether labelled enumeration needs a live capture grant first.
	LabelsNeedGrant() bool
}

// RemoteAudio is the sink the remote track plays into.
type RemoteAudio interface {
	SampleTap
	SetVolume(v float64)
	Stop()
}

// PeerSession owns the real-time transport. Handlers are single-slot:
// registering again replaces the previous handler.
type PeerSession interface {
	// Open attaches the stream's audio track, creates the event data channel
	// and returns the local offer SDP.
	Open(ctx context.Context, stream LocalStream) (string, error)
	CompleteHandshake(answerSDP string) error
	// ReplaceLocalTrack swaps the outbound track without renegotiation.
	// It returns false when there is no audio sender yet.
	ReplaceLocalTrack(track LocalTrack) (bool, error)

	OnRemoteTrack(func(RemoteAudio))
	OnDataMessage(func([]byte))
	OnConnectionStateChange(func(domain.ConnectionState))

	// Close is idempotent and safe from any state.
	Close() error
}

type PeerFactory interface {
	NewPeer() (PeerSession, error)
}
