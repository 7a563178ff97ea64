package ingest

import (
	"errors"
	"io"
)

// ChunkReader splits a stream into fixed-size chunks using one owned buffer.
//
// Every chunk except the last is exactly the configured size. The slice
// returned by Next aliases the internal buffer and is only valid until the
// following call to Next.
type ChunkReader struct {
	src  io.Reader
	buf  []byte
	read int64
	done bool
}

// NewChunkReader returns a ChunkReader over src. size must be positive.
func NewChunkReader(src io.Reader, size int) *ChunkReader {
	if size <= 0 {
		panic("ingest: chunk size must be positive")
	}
	return &ChunkReader{src: src, buf: make([]byte, size)}
}

// Next returns the next chunk, or io.EOF once the source is exhausted.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(c.src, c.buf)
	c.read += int64(n)
	switch {
	case err == nil:
		return c.buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return c.buf[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		c.done = true
		return nil, err
	}
}

// BytesRead is the total number of bytes pulled from the source so far.
func (c *ChunkReader) BytesRead() int64 {
	return c.read
}
