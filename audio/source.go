package audio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

const defaultCaptureBuffer = 64

// CaptureSource adapts a callback-driven CaptureDevice to FrameSource.
// The device is started on the first NextFrame call. When the internal
// buffer is full the oldest frame is discarded so the device callback never
// blocks.
type CaptureSource struct {
	dev    CaptureDevice
	frames chan []byte

	startOnce sync.Once
	startErr  error

	closeOnce sync.Once
	done      chan struct{}

	dropped atomic.Uint64
}

func NewCaptureSource(dev CaptureDevice, buffer int) *CaptureSource {
	if buffer <= 0 {
		buffer = defaultCaptureBuffer
	}
	return &CaptureSource{
		dev:    dev,
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (s *CaptureSource) start() error {
	s.startOnce.Do(func() {
		s.dev.SetCallback(s.onData)
		if err := s.dev.Start(); err != nil {
			s.dev.ClearCallback()
			s.startErr = err
		}
	})
	return s.startErr
}

func (s *CaptureSource) onData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	// device buffers are reused by the driver
	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case s.frames <- frame:
		return
	default:
	}
	select {
	case <-s.frames:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

func (s *CaptureSource) NextFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, io.EOF
	default:
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped reports frames discarded because the reader fell behind.
func (s *CaptureSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the device. Pending and future NextFrame calls return io.EOF.
func (s *CaptureSource) Close() {
	s.closeOnce.Do(func() {
		s.dev.ClearCallback()
		s.dev.Stop()
		close(s.done)
	})
}
