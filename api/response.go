package api

import (
	"io"
	"log/slog"
)

// Envelope is a decoded JSON response body. The service nests error
// and warning records at a handful of conventional locations, so the
// body stays untyped and the classifier walks known paths instead.
type Envelope = map[string]any

// Response is the result of a successful Send: either a decoded JSON
// envelope, or the raw body for endpoints that stream binary data.
type Response struct {
	// JSON holds the decoded envelope for JSON responses; nil for
	// binary responses.
	JSON Envelope

	// Body is the unread response stream for binary responses.
	// The caller owns it and must Close it.
	Body io.ReadCloser
	// ContentLength is the reported body length, -1 when unknown.
	ContentLength int64
	// Filename is the name extracted from the Content-Disposition
	// header, if the service supplied one.
	Filename string
}

// Raw reports whether the response carries a binary body instead of
// a JSON envelope.
func (r *Response) Raw() bool {
	return r.JSON == nil
}

// errorPaths are the candidate locations of an error record, in
// priority order. The first path that resolves wins; the empty path
// means the envelope root itself.
var errorPaths = [][]string{
	{"error"},
	{"result", "error"},
	{"result", "output", "result", "error"},
	{},
}

// warningPaths are the candidate locations of warning records. All
// matching paths contribute, not just the first.
var warningPaths = [][]string{
	{"warning"},
	{"result", "warning"},
	{"result", "output", "warning"},
	{"result", "output", "result", "warning"},
}

// Record is a code/message pair extracted from an envelope.
type Record struct {
	Code    string
	Message string
}

// at walks env along path, failing soft: a missing key or a
// non-object intermediate yields nil.
func at(env Envelope, path []string) map[string]any {
	node := env
	for _, key := range path {
		child, ok := node[key].(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}

	return node
}

// record extracts a code/message pair from obj. ok is false when obj
// bears neither field, which is how a candidate path is rejected.
func record(obj map[string]any) (Record, bool) {
	if obj == nil {
		return Record{}, false
	}

	code, hasCode := obj["code"].(string)
	msg, hasMsg := obj["message"].(string)
	if !hasCode && !hasMsg {
		return Record{}, false
	}

	return Record{Code: code, Message: msg}, true
}

// hasError reports whether any candidate error path resolves to an
// object bearing a code or message.
func hasError(env Envelope) bool {
	_, ok := getError(env)
	return ok
}

// getError returns the record at the first matching error path.
func getError(env Envelope) (Record, bool) {
	for _, path := range errorPaths {
		if rec, ok := record(at(env, path)); ok {
			return rec, true
		}
	}

	return Record{}, false
}

// getWarnings returns the records at every matching warning path.
func getWarnings(env Envelope) []Record {
	var warnings []Record
	for _, path := range warningPaths {
		if rec, ok := record(at(env, path)); ok {
			warnings = append(warnings, rec)
		}
	}

	return warnings
}

// classify inspects a decoded envelope, logs any warnings, and
// returns the typed error when the envelope reports one. Warnings
// never interrupt control flow.
func classify(env Envelope, logger *slog.Logger) *Error {
	for _, w := range getWarnings(env) {
		logger.Warn("service warning", "code", w.Code, "message", w.Message)
	}

	rec, ok := getError(env)
	if !ok {
		return nil
	}

	return &Error{
		Kind:    kindOfCode(rec.Code),
		Code:    rec.Code,
		Message: rec.Message,
	}
}
