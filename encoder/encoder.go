package encoder

import "fmt"

const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BlockSize      = 4096
	BytesPerSecond = SampleRate * Channels * (BitsPerSample / 8)
)

type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// Encoder turns one chunk of PCM16 mono audio into a self-contained file.
type Encoder interface {
	Format() Format
	Encode(pcm []byte) ([]byte, error)
}

func New(format string) (Encoder, error) {
	switch Format(format) {
	case FormatWAV, "":
		return WAV{}, nil
	case FormatFLAC:
		return FLAC{}, nil
	default:
		return nil, fmt.Errorf("unknown audio format %q", format)
	}
}

// ChunkBytes returns the PCM byte length of ms milliseconds of audio,
// rounded down to a whole sample.
func ChunkBytes(ms int) int {
	n := BytesPerSecond * ms / 1000
	return n - n%(BitsPerSample/8)
}

// Duration reports the length in seconds of n PCM bytes.
func Duration(n int) float64 {
	return float64(n) / float64(BytesPerSecond)
}
