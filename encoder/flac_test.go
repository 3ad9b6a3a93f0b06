package encoder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mewkiz/flac"
)

func tonePCM(nSamples int) []byte {
	pcm := make([]byte, nSamples*2)
	for i := range nSamples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i%200)*100-10000)))
	}
	return pcm
}

func TestFlacEncodeRoundTrip(t *testing.T) {
	pcm := tonePCM(SampleRate) // one second, several blocks plus a partial one

	data, err := FLAC{}.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("flac.New: %v", err)
	}
	defer stream.Close()

	if stream.Info.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", stream.Info.SampleRate, SampleRate)
	}

	want := Samples(pcm)
	var got []int16
	for {
		f, err := stream.ParseNext()
		if err != nil {
			break
		}
		for _, s := range f.Subframes[0].Samples {
			got = append(got, int16(s))
		}
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFlacStreamEmpty(t *testing.T) {
	enc, err := NewFlacStream()
	if err != nil {
		t.Fatalf("NewFlacStream: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacStreamPartialBlock(t *testing.T) {
	enc, err := NewFlacStream()
	if err != nil {
		t.Fatalf("NewFlacStream: %v", err)
	}

	partial := Samples(tonePCM(BlockSize / 4))
	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
}
