// Package stream normalizes heterogeneous byte sources into a
// sequence of fixed-size chunks delivered to a sink. It backs both
// multipart uploads (chunks collected into memory) and downloads
// (chunks forwarded straight to a destination writer).
package stream

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidChunkSize is returned by [Process] when the chunk
	// size is zero or negative.
	ErrInvalidChunkSize = errors.New("chunk size must be greater than zero")
)

// Source yields successive byte slices from an underlying stream.
// Next returns io.EOF once the stream is exhausted. The slices a
// Source returns may be of any length; [Process] re-chunks them.
//
// A Source is single-use: once Next returns io.EOF or any other
// error, the Source must not be read again.
type Source interface {
	Next() ([]byte, error)
}

// Sink receives chunks emitted by [Process].
type Sink interface {
	Emit(chunk []byte) error
}

// readerSource pulls from an io.Reader with its own scratch buffer.
type readerSource struct {
	r   io.Reader
	buf []byte
}

// ReaderSource adapts a pull-based io.Reader into a Source.
func ReaderSource(r io.Reader) Source {
	return &readerSource{r: r, buf: make([]byte, 32*1024)}
}

func (s *readerSource) Next() ([]byte, error) {
	n, err := s.r.Read(s.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.buf[:n])
		return out, nil
	}
	if err == nil {
		err = io.EOF
	}

	return nil, err
}

// chanSource drains a push-based channel of byte slices.
type chanSource struct {
	ch <-chan []byte
}

// ChanSource adapts a push-based channel into a Source. The Source
// is exhausted when the channel is closed.
func ChanSource(ch <-chan []byte) Source {
	return &chanSource{ch: ch}
}

func (s *chanSource) Next() ([]byte, error) {
	b, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}

	return b, nil
}

// textSource drains a channel of strings, treating each element as
// its UTF-8 byte encoding.
type textSource struct {
	ch <-chan string
}

// TextSource adapts a push-based channel of strings into a Source.
// Each string contributes its UTF-8 bytes to the stream.
func TextSource(ch <-chan string) Source {
	return &textSource{ch: ch}
}

func (s *textSource) Next() ([]byte, error) {
	str, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}

	return []byte(str), nil
}

// Collector is an append-only in-memory Sink.
type Collector struct {
	chunks [][]byte
	size   int
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(chunk []byte) error {
	c.chunks = append(c.chunks, chunk)
	c.size += len(chunk)

	return nil
}

// Chunks returns the collected chunks in emission order.
func (c *Collector) Chunks() [][]byte {
	return c.chunks
}

// Bytes concatenates all collected chunks.
func (c *Collector) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}

	return out
}

// Len reports the total number of collected bytes.
func (c *Collector) Len() int {
	return c.size
}

// writerSink forwards chunks to an io.Writer.
type writerSink struct {
	w io.Writer
}

// WriterSink adapts an io.Writer into a Sink.
func WriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) Emit(chunk []byte) error {
	if _, err := s.w.Write(chunk); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// Process drains src and emits fixed-size chunks of chunkSize bytes
// to sink. The final chunk may be shorter; a zero-byte source emits
// nothing. The emitted byte sequence equals the source byte sequence
// regardless of how the source happens to segment its reads.
func Process(src Source, chunkSize int, sink Sink) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	var buf []byte
	for {
		b, err := src.Next()
		if len(b) > 0 {
			buf = append(buf, b...)
		}

		for len(buf) >= chunkSize {
			chunk := make([]byte, chunkSize)
			copy(chunk, buf[:chunkSize])
			buf = buf[chunkSize:]

			if err := sink.Emit(chunk); err != nil {
				return fmt.Errorf("emitting chunk: %w", err)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading source: %w", err)
			}
			break
		}
	}

	if len(buf) > 0 {
		chunk := make([]byte, len(buf))
		copy(chunk, buf)

		if err := sink.Emit(chunk); err != nil {
			return fmt.Errorf("emitting final chunk: %w", err)
		}
	}

	return nil
}
