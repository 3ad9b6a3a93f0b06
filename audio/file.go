package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"typeless/encoder"
)

const fileFrameSamples = 1024

// FileSource replays PCM16 mono audio from a WAV (or raw PCM) stream.
type FileSource struct {
	r        *bufio.Reader
	closer   io.Closer
	realtime bool
	interval time.Duration
	next     time.Time
	frame    int
}

// OpenFile opens a 16 kHz mono PCM16 WAV file. With realtime set, frames are
// paced at the capture rate instead of returned as fast as they are read.
func OpenFile(path string, realtime bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewFileSource(f, realtime)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

func NewFileSource(r io.Reader, realtime bool) (*FileSource, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(encoder.WAVHeaderSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	if len(head) >= 4 && bytes.Equal(head[:4], []byte("RIFF")) {
		if len(head) < encoder.WAVHeaderSize {
			return nil, fmt.Errorf("truncated wav header")
		}
		if _, err := br.Discard(encoder.WAVHeaderSize); err != nil {
			return nil, err
		}
	}
	return &FileSource{
		r:        br,
		realtime: realtime,
		interval: time.Duration(fileFrameSamples) * time.Second / time.Duration(encoder.SampleRate),
		frame:    fileFrameSamples * 2,
	}, nil
}

func (f *FileSource) NextFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.realtime {
		if f.next.IsZero() {
			f.next = time.Now()
		}
		if wait := time.Until(f.next); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		f.next = f.next.Add(f.interval)
	}

	buf := make([]byte, f.frame)
	n, err := io.ReadFull(f.r, buf)
	n -= n % 2
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil, io.EOF
	}
	return nil, err
}

func (f *FileSource) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
