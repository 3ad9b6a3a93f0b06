package encoder

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNew(t *testing.T) {
	for _, tt := range []struct {
		input string
		want  Format
	}{
		{"", FormatWAV},
		{"wav", FormatWAV},
		{"flac", FormatFLAC},
	} {
		t.Run(tt.input, func(t *testing.T) {
			enc, err := New(tt.input)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.input, err)
			}
			if enc.Format() != tt.want {
				t.Errorf("Format() = %q, want %q", enc.Format(), tt.want)
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		if _, err := New("ogg"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestChunkBytes(t *testing.T) {
	for _, tt := range []struct{ ms, want int }{
		{1000, 32000},
		{200, 6400},
		{0, 0},
		{1, 32},
	} {
		if got := ChunkBytes(tt.ms); got != tt.want {
			t.Errorf("ChunkBytes(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	out, err := WAV{}.Encode(pcm)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), WAVHeaderSize+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[12:16]) != "fmt " || string(out[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", out[:40])
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", binary.LittleEndian.Uint32(out[4:8]), uint32(36 + len(pcm))},
		{"fmt size", binary.LittleEndian.Uint32(out[16:20]), 16},
		{"format", uint32(binary.LittleEndian.Uint16(out[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(out[22:24])), Channels},
		{"sample rate", binary.LittleEndian.Uint32(out[24:28]), SampleRate},
		{"byte rate", binary.LittleEndian.Uint32(out[28:32]), BytesPerSecond},
		{"block align", uint32(binary.LittleEndian.Uint16(out[32:34])), 2},
		{"bits", uint32(binary.LittleEndian.Uint16(out[34:36])), BitsPerSample},
		{"data size", binary.LittleEndian.Uint32(out[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if !bytes.Equal(out[WAVHeaderSize:], pcm) {
		t.Error("payload not copied verbatim")
	}
}

func TestChunker(t *testing.T) {
	c := NewChunker(4)

	if got := c.Write([]byte{1, 2, 3}); len(got) != 0 {
		t.Fatalf("expected no chunk yet, got %v", got)
	}
	got := c.Write([]byte{4, 5, 6, 7, 8, 9})
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte{1, 2, 3, 4}) || !bytes.Equal(got[1], []byte{5, 6, 7, 8}) {
		t.Errorf("chunks out of order: %v", got)
	}
	if c.Buffered() != 1 {
		t.Errorf("Buffered = %d, want 1", c.Buffered())
	}
	if tail := c.Flush(); !bytes.Equal(tail, []byte{9}) {
		t.Errorf("Flush = %v, want [9]", tail)
	}
	if tail := c.Flush(); tail != nil {
		t.Errorf("second Flush = %v, want nil", tail)
	}
}

func TestChunkerDoesNotAlias(t *testing.T) {
	c := NewChunker(2)
	in := []byte{1, 2}
	out := c.Write(in)
	in[0] = 9
	if out[0][0] != 1 {
		t.Error("chunk aliases caller buffer")
	}
}
