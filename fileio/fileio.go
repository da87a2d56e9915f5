// Package fileio provides the file-system and in-memory source/sink
// collaborators consumed by the conversion workflow. The core client
// never touches the file system directly; everything goes through
// these adapters.
package fileio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/typeshift/typeshift-go/api"
	"github.com/typeshift/typeshift-go/stream"
)

// LocalFile reads an input file from a local path.
type LocalFile struct {
	path string
}

// NewLocalFile returns a readable for the file at path. Existence is
// checked at Open, not construction.
func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

// Open opens the file and returns a pull-based source over its
// contents. A missing file surfaces as an input-not-found failure.
func (f *LocalFile) Open() (stream.Source, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &api.Error{Kind: api.KindInputNotFound, Err: err}
		}

		return nil, fmt.Errorf("opening input file: %w", err)
	}

	return &fileSource{src: stream.ReaderSource(file), file: file}, nil
}

// Filename returns the base name of the underlying path.
func (f *LocalFile) Filename() string {
	return filepath.Base(f.path)
}

// ContentType guesses the media type from the file extension.
func (f *LocalFile) ContentType() string {
	if ct := mime.TypeByExtension(filepath.Ext(f.path)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// fileSource closes the underlying file once the stream ends.
type fileSource struct {
	src  stream.Source
	file *os.File
}

func (s *fileSource) Next() ([]byte, error) {
	b, err := s.src.Next()
	if err != nil {
		if closeErr := s.file.Close(); closeErr != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Join(err, closeErr)
		}

		return nil, err
	}

	return b, nil
}

// LocalTarget writes a result file to a local path. Data streams to
// a temp file in the destination directory and is renamed into place
// on a clean Close; a failed write removes the temp file instead.
type LocalTarget struct {
	path string
}

// NewLocalTarget returns a path-writable for the file at path.
func NewLocalTarget(path string) *LocalTarget {
	return &LocalTarget{path: path}
}

// Path returns the current destination path.
func (t *LocalTarget) Path() string {
	return t.path
}

// SetPath replaces the destination path. Callers use this to adopt
// the server-provided filename before opening the sink.
func (t *LocalTarget) SetPath(path string) {
	t.path = path
}

// Open creates the temp file and returns a sink over it.
func (t *LocalTarget) Open() (stream.Sink, error) {
	file, err := os.CreateTemp(filepath.Dir(t.path), ".typeshift-dl-*")
	if err != nil {
		return nil, &api.Error{Kind: api.KindOutputWrite, Err: fmt.Errorf("creating temp file: %w", err)}
	}

	return &fileSink{file: file, dest: t.path}, nil
}

// fileSink accumulates chunks in a temp file and commits on Close.
type fileSink struct {
	file    *os.File
	dest    string
	writeEr error
}

func (s *fileSink) Emit(chunk []byte) error {
	if s.writeEr != nil {
		return s.writeEr
	}

	if _, err := s.file.Write(chunk); err != nil {
		s.writeEr = &api.Error{Kind: api.KindOutputWrite, Err: fmt.Errorf("writing chunk: %w", err)}
		return s.writeEr
	}

	return nil
}

// Close finalizes the sink: on a clean write history the temp file is
// synced and renamed to the destination; otherwise it is removed.
func (s *fileSink) Close() error {
	if s.writeEr != nil {
		_ = s.file.Close()
		_ = os.Remove(s.file.Name())

		return s.writeEr
	}

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		_ = os.Remove(s.file.Name())

		return &api.Error{Kind: api.KindOutputWrite, Err: fmt.Errorf("syncing temp file: %w", err)}
	}
	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.file.Name())

		return &api.Error{Kind: api.KindOutputWrite, Err: fmt.Errorf("closing temp file: %w", err)}
	}
	if err := os.Rename(s.file.Name(), s.dest); err != nil {
		_ = os.Remove(s.file.Name())

		return &api.Error{Kind: api.KindOutputWrite, Err: fmt.Errorf("renaming temp file: %w", err)}
	}

	return nil
}

// Buffer is an in-memory readable and writable, mostly for tests and
// embedded use.
type Buffer struct {
	name string
	data []byte
}

// NewBuffer returns a Buffer named name holding data. data may be
// nil for a write-only buffer.
func NewBuffer(name string, data []byte) *Buffer {
	return &Buffer{name: name, data: data}
}

// Open returns a pull-based source over the buffered bytes.
func (b *Buffer) Open() (stream.Source, error) {
	return stream.ReaderSource(bytes.NewReader(b.data)), nil
}

// Filename returns the buffer's name.
func (b *Buffer) Filename() string {
	return b.name
}

// ContentType guesses the media type from the name's extension.
func (b *Buffer) ContentType() string {
	if ct := mime.TypeByExtension(filepath.Ext(b.name)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// Bytes returns the buffered contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// BufferTarget is an in-memory writable that collects the downloaded
// result.
type BufferTarget struct {
	data []byte
}

// NewBufferTarget returns an empty BufferTarget.
func NewBufferTarget() *BufferTarget {
	return &BufferTarget{}
}

// Open returns a sink that appends to the target.
func (t *BufferTarget) Open() (stream.Sink, error) {
	return &bufferSink{target: t}, nil
}

// Bytes returns everything written so far.
func (t *BufferTarget) Bytes() []byte {
	return t.data
}

type bufferSink struct {
	target *BufferTarget
}

func (s *bufferSink) Emit(chunk []byte) error {
	s.target.data = append(s.target.data, chunk...)
	return nil
}
