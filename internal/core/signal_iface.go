package core

// Frame is a raw payload sent to a control socket.
type Frame []byte

// SignalConnection abstracts a messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type EventKind int

const (
	EventDeviceChange EventKind = iota
	EventVisibilityHidden
	EventVisibilityVisible
	EventPageUnload
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceChange:
		return "devicechange"
	case EventVisibilityHidden:
		return "hidden"
	case EventVisibilityVisible:
		return "visible"
	case EventPageUnload:
		return "unload"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
}

// EventSource delivers ambient events. Subscribe returns the deregistration func.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}
