package tuner

import "errors"

// Error taxonomy surfaced to the HTTP layer.
var (
	// ErrTuneFailed means the channel was found but playback never started.
	ErrTuneFailed = errors.New("tune failed")
	// ErrChannelNotFound means the channel could not be located on the guide.
	ErrChannelNotFound = errors.New("channel not found on guide")
	// ErrCaptureFailed means the encoder could not start or died immediately.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrControlDisconnected means the control plane is down and reconnect
	// attempts were exhausted.
	ErrControlDisconnected = errors.New("control plane disconnected")
	// ErrBadState means the requested operation is not legal in the
	// tuner's current state.
	ErrBadState = errors.New("operation not legal in current state")
)
