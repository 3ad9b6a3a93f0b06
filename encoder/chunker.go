package encoder

// Chunker slices a PCM byte stream into fixed-size chunks.
// Not safe for concurrent use.
type Chunker struct {
	size int
	buf  []byte
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = BytesPerSecond
	}
	return &Chunker{size: size, buf: make([]byte, 0, size)}
}

// Write appends pcm and returns every chunk completed by it, in order.
func (c *Chunker) Write(pcm []byte) [][]byte {
	c.buf = append(c.buf, pcm...)
	var chunks [][]byte
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		c.buf = c.buf[c.size:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the buffered partial chunk, or nil if empty.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	tail := make([]byte, len(c.buf))
	copy(tail, c.buf)
	c.buf = c.buf[:0]
	return tail
}

func (c *Chunker) Buffered() int { return len(c.buf) }
