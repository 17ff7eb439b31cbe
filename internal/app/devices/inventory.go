// Package devices enumerates capture devices and keeps the selection valid.
package devices

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

type Inventory struct {
	media core.MediaDevices
}

func NewInventory(media core.MediaDevices) *Inventory {
	return &Inventory{media: media}
}

// ListMicrophones enumerates audio inputs. When the platform only labels
// devices after a capture grant, a stream is opened and released first.
// A failure wraps domain.ErrDeviceAccess; callers treat it as zero devices.
func (i *Inventory) ListMicrophones(ctx context.Context) (domain.DeviceList, error) {
	if i.media.LabelsNeedGrant() {
		stream, err := i.media.GetUserMedia(ctx, core.Constraints{})
		if err != nil {
			return nil, fmt.Errorf("%w: capture grant: %v", domain.ErrDeviceAccess, err)
		}
		stream.Stop()
	}

	all, err := i.media.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate: %v", domain.ErrDeviceAccess, err)
	}
	mics := make(domain.DeviceList, 0, len(all))
	for _, d := range all {
		if d.Kind == domain.KindAudioInput {
			mics = append(mics, d)
		}
	}
	log.Debug().Str("module", "devices").Int("count", len(mics)).Msg("microphones enumerated")
	return mics, nil
}

// ReconcileSelection keeps current if it is still listed, else falls back to
// the first device, else returns "".
func ReconcileSelection(current string, list domain.DeviceList) string {
	if list.Contains(current) {
		return current
	}
	if len(list) > 0 {
		return list[0].ID
	}
	return ""
}
