package domain

type DeviceKind string

const (
	KindAudioInput  DeviceKind = "audioinput"
	KindAudioOutput DeviceKind = "audiooutput"
)

type Device struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DeviceList keeps enumeration order.
type DeviceList []Device

func (l DeviceList) Contains(id string) bool {
	for _, d := range l {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (l DeviceList) IDs() []string {
	out := make([]string, 0, len(l))
	for _, d := range l {
		out = append(out, d.ID)
	}
	return out
}
