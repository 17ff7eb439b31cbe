package domain

import "errors"

var (
	// ErrDeviceAccess means permission or enumeration failed; callers treat it as zero devices.
	ErrDeviceAccess = errors.New("device access denied")
	// ErrAdmissionRejected is returned when the backend is at its session cap.
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrHandshake         = errors.New("handshake failed")
	ErrTransportFailure  = errors.New("transport failure")
	ErrTrackEnded        = errors.New("track ended unexpectedly")

	ErrSessionAborted = errors.New("session aborted")
	ErrNoSession      = errors.New("no active session")
	ErrGateClosed     = errors.New("admission gate closed")
	ErrConfigLocked   = errors.New("config is read-only while a session is running")

	ErrInstructionsTooLong = errors.New("instructions too long")
	ErrUnknownVoice        = errors.New("unknown voice")
	ErrBadTemperature      = errors.New("temperature out of range")
)
