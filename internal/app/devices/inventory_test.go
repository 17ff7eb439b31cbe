package devices

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct{ stopped int }

func (s *fakeStream) AudioTracks() []core.LocalTrack { return nil }
func (s *fakeStream) Stop()                          { s.stopped++ }

type fakeMedia struct {
	devices   []domain.Device
	enumErr   error
	grantErr  error
	needGrant bool
	grants    []*fakeStream
}

func (m *fakeMedia) Enumerate(context.Context) ([]domain.Device, error) {
	return m.devices, m.enumErr
}

func (m *fakeMedia) GetUserMedia(context.Context, core.Constraints) (core.LocalStream, error) {
	if m.grantErr != nil {
		return nil, m.grantErr
	}
	s := &fakeStream{}
	m.grants = append(m.grants, s)
	return s, nil
}

func (m *fakeMedia) LabelsNeedGrant() bool { return m.needGrant }

func TestListMicrophones_FiltersAudioInputs(t *testing.T) {
	media := &fakeMedia{devices: []domain.Device{
		{ID: "mic-A", Label: "A", Kind: domain.KindAudioInput},
		{ID: "spk", Label: "Speaker", Kind: domain.KindAudioOutput},
		{ID: "mic-B", Label: "B", Kind: domain.KindAudioInput},
	}}

	list, err := NewInventory(media).ListMicrophones(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mic-A", "mic-B"}, list.IDs())
	assert.Empty(t, media.grants, "no grant needed")
}

func TestListMicrophones_TransientGrantReleased(t *testing.T) {
	media := &fakeMedia{needGrant: true, devices: []domain.Device{{ID: "mic-A", Kind: domain.KindAudioInput}}}

	list, err := NewInventory(media).ListMicrophones(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.Len(t, media.grants, 1)
	assert.Equal(t, 1, media.grants[0].stopped)
}

func TestListMicrophones_PermissionDenied(t *testing.T) {
	media := &fakeMedia{needGrant: true, grantErr: errors.New("NotAllowedError")}

	list, err := NewInventory(media).ListMicrophones(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceAccess)
	assert.Empty(t, list)

	media = &fakeMedia{enumErr: errors.New("boom")}
	_, err = NewInventory(media).ListMicrophones(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceAccess)
}

func TestReconcileSelection(t *testing.T) {
	list := domain.DeviceList{{ID: "mic-A"}, {ID: "mic-B"}}

	assert.Equal(t, "mic-B", ReconcileSelection("mic-B", list))
	assert.Equal(t, "mic-A", ReconcileSelection("gone", list))
	assert.Equal(t, "mic-A", ReconcileSelection("", list))
	assert.Equal(t, "", ReconcileSelection("mic-A", nil))
	assert.Equal(t, "mic-B", ReconcileSelection("mic-A", domain.DeviceList{{ID: "mic-B"}}))
}

func TestReconcileSelection_Property(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 1000; i++ {
		var list domain.DeviceList
		for j := 0; j < rng.IntN(5); j++ {
			list = append(list, domain.Device{ID: fmt.Sprintf("mic-%d", rng.IntN(8))})
		}
		current := fmt.Sprintf("mic-%d", rng.IntN(8))

		got := ReconcileSelection(current, list)
		switch {
		case list.Contains(current):
			assert.Equal(t, current, got)
		case len(list) > 0:
			assert.Equal(t, list[0].ID, got)
		default:
			assert.Empty(t, got)
		}
	}
}
