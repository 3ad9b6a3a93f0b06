package encoder

import "encoding/binary"

const WAVHeaderSize = 44

// WAV wraps each chunk in a canonical 44-byte RIFF header.
type WAV struct{}

func (WAV) Format() Format { return FormatWAV }

func (WAV) Encode(pcm []byte) ([]byte, error) {
	out := make([]byte, WAVHeaderSize+len(pcm))
	putWAVHeader(out, len(pcm), SampleRate, Channels, BitsPerSample)
	copy(out[WAVHeaderSize:], pcm)
	return out, nil
}

func putWAVHeader(buf []byte, dataLen, sampleRate, channels, bitsPerSample int) {
	blockAlign := channels * bitsPerSample / 8
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}
