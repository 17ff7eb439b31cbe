package rtc

import (
	"fmt"
	"strings"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"
)

const (
	// frameSamples is one 20 ms frame at the capture rate.
	frameSamples = core.CaptureSampleRate / 50

	pcmuPayloadType = 0
	opusPayloadType = 111

	// pion/opus always renders 48 kHz; realtime peers send 20 ms frames.
	opusOutputRate   = 48000
	opusFrameSamples = opusOutputRate / 50
)

var pcmuCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypePCMU,
	ClockRate: core.CaptureSampleRate,
	Channels:  1,
}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   opusOutputRate,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// registerCodecs offers PCMU first so the remote side answers with a codec
// both directions can carry without transcoding.
func registerCodecs(m *webrtc.MediaEngine) error {
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: pcmuCapability,
		PayloadType:        pcmuPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register Opus: %w", err)
	}
	return nil
}

func encodeUlaw(dst []byte, pcm []int16) []byte {
	dst = dst[:0]
	for _, s := range pcm {
		dst = append(dst, g711.EncodeUlawFrame(s))
	}
	return dst
}

// decoder turns one RTP payload into mono PCM at core.CaptureSampleRate.
type decoder interface {
	decode(payload []byte, dst []int16) ([]int16, error)
}

func newDecoder(mimeType string) (decoder, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMU):
		return ulawDecoder{}, nil
	case strings.EqualFold(mimeType, webrtc.MimeTypeOpus):
		return &opusDecoder{d: opus.NewDecoder(), out: make([]byte, opusFrameSamples*2*2)}, nil
	}
	return nil, fmt.Errorf("unsupported codec %q", mimeType)
}

type ulawDecoder struct{}

func (ulawDecoder) decode(payload []byte, dst []int16) ([]int16, error) {
	dst = dst[:0]
	for _, b := range payload {
		dst = append(dst, g711.DecodeUlawFrame(b))
	}
	return dst, nil
}

type opusDecoder struct {
	d   opus.Decoder
	out []byte
}

func (o *opusDecoder) decode(payload []byte, dst []int16) ([]int16, error) {
	_, stereo, err := o.d.Decode(payload, o.out)
	if err != nil {
		return dst[:0], fmt.Errorf("opus decode: %w", err)
	}
	channels := 1
	if stereo {
		channels = 2
	}
	step := channels * opusOutputRate / core.CaptureSampleRate
	dst = dst[:0]
	for i := 0; i+1 < opusFrameSamples*channels*2; i += step * 2 {
		dst = append(dst, int16(o.out[i])|int16(o.out[i+1])<<8)
	}
	return dst, nil
}
