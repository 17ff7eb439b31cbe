package hub

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what happens to a control connection whose send queue is full.
type Policy interface {
	OnBackPressure(msgType string, connID string) BackpressureAction
}

// SimplePolicy drops periodic meter frames and kicks connections that
// cannot keep up with state changes.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(msgType string, _ string) BackpressureAction {
	switch msgType {
	case TypeLevel, TypeCountdown:
		return DropFrame
	}
	return KickConn
}
