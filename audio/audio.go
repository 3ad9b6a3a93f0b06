package audio

import (
	"context"
	"encoding/binary"
	"strings"
)

// FrameSource yields PCM16 mono frames in capture order. NextFrame blocks
// until a frame is available, ctx is done, or the stream ends; end of
// stream is reported as io.EOF.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	Gain       int // linear sample multiplier, 0 means unity
}

func (c CaptureConfig) gain() int32 {
	if c.Gain <= 0 {
		return 1
	}
	return int32(c.Gain)
}

func amplify(s int16, gain int32) int16 {
	v := int32(s) * gain
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// int16Bytes packs samples as little-endian PCM16, applying gain.
func int16Bytes(samples []int16, gain int32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplify(s, gain)))
	}
	return out
}

// applyGain returns data with gain applied, or data itself at unity gain.
func applyGain(data []byte, gain int32) []byte {
	if gain == 1 {
		return data
	}
	out := make([]byte, len(data))
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		binary.LittleEndian.PutUint16(out[i:], uint16(amplify(s, gain)))
	}
	return out
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}
