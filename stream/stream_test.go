package stream_test

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/typeshift/typeshift-go/stream"
)

func TestProcess_RoundTrip(t *testing.T) {
	testCases := map[string]struct {
		dataLen   int
		chunkSize int
	}{
		"empty":             {dataLen: 0, chunkSize: 4},
		"smallerThanChunk":  {dataLen: 3, chunkSize: 8},
		"exactChunk":        {dataLen: 8, chunkSize: 8},
		"exactMultiple":     {dataLen: 32, chunkSize: 8},
		"withRemainder":     {dataLen: 37, chunkSize: 8},
		"chunkSizeOne":      {dataLen: 17, chunkSize: 1},
		"largeUnevenChunks": {dataLen: 100_003, chunkSize: 4096},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			data := make([]byte, tc.dataLen)
			rand.New(rand.NewSource(42)).Read(data)

			collector := stream.NewCollector()
			if err := stream.Process(stream.ReaderSource(bytes.NewReader(data)), tc.chunkSize, collector); err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}

			if !bytes.Equal(collector.Bytes(), data) {
				t.Error("concatenated chunks do not reproduce the source bytes")
			}

			expChunks := (tc.dataLen + tc.chunkSize - 1) / tc.chunkSize
			if got := len(collector.Chunks()); got != expChunks {
				t.Errorf("expected %d chunks, got %d", expChunks, got)
			}

			for i, chunk := range collector.Chunks() {
				if i < len(collector.Chunks())-1 && len(chunk) != tc.chunkSize {
					t.Errorf("chunk %d: expected length %d, got %d", i, tc.chunkSize, len(chunk))
				}
				if len(chunk) > tc.chunkSize {
					t.Errorf("chunk %d exceeds chunk size: %d > %d", i, len(chunk), tc.chunkSize)
				}
			}
		})
	}
}

func TestProcess_BoundaryIndependence(t *testing.T) {
	// The same bytes fed through sources with different internal
	// segmentation must produce identical emitted bytes.
	data := []byte(strings.Repeat("typeshift", 1000))
	const chunkSize = 100

	segmentations := [][]int{
		{len(data)},
		{1, 7, 100, len(data)},
		{8999, 1},
	}

	var results [][]byte
	for _, segs := range segmentations {
		ch := make(chan []byte, len(segs)+1)
		remaining := data
		for _, n := range segs {
			if n > len(remaining) {
				n = len(remaining)
			}
			ch <- remaining[:n]
			remaining = remaining[n:]
		}
		if len(remaining) > 0 {
			ch <- remaining
		}
		close(ch)

		collector := stream.NewCollector()
		if err := stream.Process(stream.ChanSource(ch), chunkSize, collector); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		results = append(results, collector.Bytes())
	}

	for i := 1; i < len(results); i++ {
		if diff := cmp.Diff(results[0], results[i]); diff != "" {
			t.Errorf("segmentation %d produced different bytes; diff: %s", i, diff)
		}
	}
}

func TestProcess_TextSource(t *testing.T) {
	ch := make(chan string, 3)
	ch <- "héllo "
	ch <- "wörld"
	ch <- "!"
	close(ch)

	collector := stream.NewCollector()
	if err := stream.Process(stream.TextSource(ch), 4, collector); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if got := string(collector.Bytes()); got != "héllo wörld!" {
		t.Errorf("expected UTF-8 round trip, got %q", got)
	}
}

func TestProcess_ZeroByteSourceEmitsNothing(t *testing.T) {
	collector := stream.NewCollector()
	if err := stream.Process(stream.ReaderSource(bytes.NewReader(nil)), 16, collector); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(collector.Chunks()) != 0 {
		t.Errorf("expected no chunks, got %d", len(collector.Chunks()))
	}
}

func TestProcess_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		err := stream.Process(stream.ReaderSource(bytes.NewReader([]byte("x"))), size, stream.NewCollector())
		if !errors.Is(err, stream.ErrInvalidChunkSize) {
			t.Errorf("chunk size %d: expected ErrInvalidChunkSize, got: %v", size, err)
		}
	}
}

func TestProcess_WriterSink(t *testing.T) {
	data := []byte("stream me to a writer, please")

	var buf bytes.Buffer
	if err := stream.Process(stream.ReaderSource(bytes.NewReader(data)), 5, stream.WriterSink(&buf)); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("writer received %q, want %q", buf.Bytes(), data)
	}
}

type failingSink struct{}

func (failingSink) Emit([]byte) error { return errors.New("sink full") }

func TestProcess_SinkErrorAborts(t *testing.T) {
	err := stream.Process(stream.ReaderSource(bytes.NewReader(make([]byte, 64))), 8, failingSink{})
	if err == nil {
		t.Fatal("expected error from failing sink, got nil")
	}
}

type failingSource struct{}

func (failingSource) Next() ([]byte, error) { return nil, errors.New("backing store gone") }

func TestProcess_SourceErrorPropagates(t *testing.T) {
	err := stream.Process(failingSource{}, 8, stream.NewCollector())
	if err == nil {
		t.Fatal("expected error from failing source, got nil")
	}
}
