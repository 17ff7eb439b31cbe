// Package media provides capture devices for hosts without a browser: a
// synthetic tone microphone and raw PCM pipes.
package media

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	KindTone = "tone"
	KindPipe = "pipe"
)

// DeviceSpec describes one configured capture device.
type DeviceSpec struct {
	ID        string  `mapstructure:"id"`
	Label     string  `mapstructure:"label"`
	Kind      string  `mapstructure:"kind"`
	Path      string  `mapstructure:"path"`
	Frequency float64 `mapstructure:"frequency"`
	Amplitude float64 `mapstructure:"amplitude"`
}

// Devices implements core.MediaDevices over the configured specs. A pipe
// device is present only while its path exists.
type Devices struct {
	mu    sync.RWMutex
	specs []DeviceSpec
	// grant emulates platforms that hide labels until capture is granted.
	grant bool
}

func NewDevices(specs []DeviceSpec, labelsNeedGrant bool) *Devices {
	return &Devices{specs: specs, grant: labelsNeedGrant}
}

func DefaultDevices() []DeviceSpec {
	return []DeviceSpec{{ID: "tone-440", Label: "Test tone 440 Hz", Kind: KindTone, Frequency: 440, Amplitude: 0.2}}
}

func (d *Devices) LabelsNeedGrant() bool { return d.grant }

// SetSpecs replaces the configured devices, as a hot-plug would.
func (d *Devices) SetSpecs(specs []DeviceSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specs = specs
}

func (d *Devices) Enumerate(_ context.Context) ([]domain.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Device, 0, len(d.specs))
	for _, s := range d.specs {
		if !present(s) {
			continue
		}
		out = append(out, domain.Device{ID: s.ID, Label: s.Label, Kind: domain.KindAudioInput})
	}
	return out, nil
}

func (d *Devices) GetUserMedia(ctx context.Context, c core.Constraints) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, ok := d.lookup(c.DeviceID)
	if !ok {
		return nil, fmt.Errorf("%w: device %q not found", domain.ErrDeviceAccess, c.DeviceID)
	}

	var src Source
	switch spec.Kind {
	case KindTone:
		src = NewToneSource(spec.Frequency, spec.Amplitude)
	case KindPipe:
		p, err := OpenPipeSource(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceAccess, err)
		}
		src = p
	default:
		return nil, fmt.Errorf("%w: unknown device kind %q", domain.ErrDeviceAccess, spec.Kind)
	}

	t := NewTrack(spec.ID, src)
	log.Info().Str("module", "media").Str("device", spec.ID).Str("track_id", t.ID()).Msg("capture started")
	return NewStream(t), nil
}

// lookup resolves id, or the first present device when id is empty.
func (d *Devices) lookup(id string) (DeviceSpec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.specs {
		if (id == "" || s.ID == id) && present(s) {
			return s, true
		}
	}
	return DeviceSpec{}, false
}

func present(s DeviceSpec) bool {
	if s.Kind != KindPipe {
		return true
	}
	_, err := os.Stat(s.Path)
	return err == nil
}
