package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/typeshift/typeshift-go/stream"
)

// appIDPlaceholder in string field values is replaced with the
// credential's app id when the body is encoded.
const appIDPlaceholder = "%app-id%"

// Descriptor is a logical request: where it goes and what it
// carries. The transport turns one Descriptor into one or more
// physical HTTP attempts.
type Descriptor struct {
	// Path is the endpoint path, e.g. "/convert/file".
	Path string
	// Method is http.MethodGet or http.MethodPost.
	Method string
	// Fields holds the multipart body: string values become plain
	// form fields, *FileField values become streamed binary parts.
	Fields map[string]any
	// Timeout overrides the derived timeout when non-zero.
	Timeout time.Duration
	// Version overrides the client's API version when non-empty.
	Version string
}

// FileField is a file-valued entry in a Descriptor.
type FileField struct {
	Source      stream.Source
	Filename    string
	ContentType string
	// ChunkSize overrides the client's stream chunk size when
	// non-zero.
	ChunkSize int
}

// Canon canonicalizes a format identifier: trimmed, lower-cased,
// leading dots stripped. The empty string stays empty. Canon is
// idempotent.
func Canon(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimLeft(format, ".")

	return format
}

// filePart is a file field buffered through the chunk pipeline,
// ready to attach to a multipart body. Buffering happens once per
// Descriptor so retried attempts reuse the same bytes instead of
// re-reading a single-use source.
type filePart struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

// encodedFields is the partitioned, pre-buffered form of a
// Descriptor's fields.
type encodedFields struct {
	strings map[string]string
	files   []filePart
}

// encodeFields partitions fields by value shape, substitutes the
// app-id placeholder into string values, and drains each file source
// through the chunk pipeline into memory.
func (c *Client) encodeFields(fields map[string]any) (*encodedFields, error) {
	enc := &encodedFields{strings: make(map[string]string)}

	for name, value := range fields {
		switch v := value.(type) {
		case string:
			enc.strings[name] = strings.ReplaceAll(v, appIDPlaceholder, c.credential.App())
		case *FileField:
			chunkSize := v.ChunkSize
			if chunkSize <= 0 {
				chunkSize = c.chunkSize
			}

			collector := stream.NewCollector()
			if err := stream.Process(v.Source, chunkSize, collector); err != nil {
				return nil, fmt.Errorf("buffering file field %q: %w", name, err)
			}

			contentType := v.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			enc.files = append(enc.files, filePart{
				name:        name,
				filename:    v.Filename,
				contentType: contentType,
				data:        collector.Bytes(),
			})
		default:
			return nil, fmt.Errorf("field %q has unsupported type %T", name, value)
		}
	}

	return enc, nil
}

// multipartBody assembles a fresh multipart body from pre-buffered
// fields. Called once per attempt.
func multipartBody(enc *encodedFields) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for name, value := range enc.strings {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("writing field %q: %w", name, err)
		}
	}

	for _, fp := range enc.files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fp.name, fp.filename))
		hdr.Set("Content-Type", fp.contentType)

		part, err := mw.CreatePart(hdr)
		if err != nil {
			return nil, "", fmt.Errorf("creating part %q: %w", fp.name, err)
		}
		if _, err := part.Write(fp.data); err != nil {
			return nil, "", fmt.Errorf("writing part %q: %w", fp.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	return &buf, mw.FormDataContentType(), nil
}
