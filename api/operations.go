package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/typeshift/typeshift-go/stream"
)

// Task lifecycle statuses reported by the service. A task being
// "completed" says nothing about the conversion outcome; see the
// convert statuses below.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
)

// Conversion outcome statuses reported once a task completes.
const (
	ConvertSuccessful = "successful"
	ConvertFailed     = "failed"
)

// ConvertParams describes a conversion request against an uploaded
// connector.
type ConvertParams struct {
	Connector string `json:"connector" validate:"required"`
	Output    string `json:"output" validate:"required"`
	Input     string `json:"input"`
}

// ConvertTask is the service's answer to a conversion request.
type ConvertTask struct {
	Connector string
	Status    string
}

// TaskStatus is one observation of an asynchronous task: the
// task-level lifecycle state, plus the conversion-level outcome and
// credit cost once the inner result is available.
type TaskStatus struct {
	Task     string
	Convert  string
	VCredits int
}

// DownloadTarget is a resolved download connector/filename pair.
type DownloadTarget struct {
	Connector string
	Filename  string
}

// dataField JSON-encodes the conventional "data" body field. The app
// id travels as a placeholder substituted by the transport.
func dataField(extra map[string]any) (string, error) {
	data := map[string]any{"app": appIDPlaceholder}
	for k, v := range extra {
		data[k] = v
	}

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding data field: %w", err)
	}

	return string(b), nil
}

// Upload streams src to the service and returns the connector
// referencing the uploaded file.
func (c *Client) Upload(ctx context.Context, src stream.Source, filename string) (string, error) {
	data, err := dataField(nil)
	if err != nil {
		return "", err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/upload/file",
		Method: http.MethodPost,
		Fields: map[string]any{
			"data": data,
			"file": &FileField{Source: src, Filename: filename},
		},
	})
	if err != nil {
		return "", err
	}

	connector := stringAt(resp.JSON, "entity", "id")
	if connector == "" {
		return "", &Error{Kind: KindAPI, Message: "upload response missing entity id"}
	}

	return connector, nil
}

// ConvertFile requests an asynchronous conversion of an uploaded
// connector and returns the task connector plus its reported status.
func (c *Client) ConvertFile(ctx context.Context, params ConvertParams) (*ConvertTask, error) {
	params.Output = Canon(params.Output)
	params.Input = Canon(params.Input)

	if err := Validate(params); err != nil {
		return nil, fmt.Errorf("invalid convert parameters: %w", err)
	}

	parameters := map[string]any{"output": params.Output}
	if params.Input != "" {
		parameters["input"] = params.Input
	}

	data, err := dataField(map[string]any{
		"connector":  params.Connector,
		"mode":       "async",
		"parameters": parameters,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/convert/file",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	return &ConvertTask{
		Connector: stringAt(resp.JSON, "entity", "id"),
		Status:    stringAt(resp.JSON, "entity", "status"),
	}, nil
}

// ConvertStatus probes a conversion task once. While the task is
// still running the inner result may be absent; Convert stays empty
// in that case rather than erroring.
func (c *Client) ConvertStatus(ctx context.Context, connector string) (*TaskStatus, error) {
	data, err := dataField(map[string]any{"connector": connector})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/convert/status",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	return &TaskStatus{
		Task:     stringAt(resp.JSON, "entity", "status"),
		Convert:  stringAt(resp.JSON, "result", "output", "status"),
		VCredits: intAt(resp.JSON, "entity", "vcredits"),
	}, nil
}

// TaskResponse fetches the full stored response of a task.
func (c *Client) TaskResponse(ctx context.Context, connector string) (Envelope, error) {
	data, err := dataField(map[string]any{"connector": connector})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/task/response",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	return resp.JSON, nil
}

// DownloadURL resolves the download connector and server-side
// filename for a completed conversion task.
func (c *Client) DownloadURL(ctx context.Context, connector string) (*DownloadTarget, error) {
	data, err := dataField(map[string]any{"connector": connector})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/download/url",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	target := &DownloadTarget{
		Connector: stringAt(resp.JSON, "result", "output", "connector"),
		Filename:  stringAt(resp.JSON, "result", "output", "filename"),
	}
	if target.Connector == "" {
		return nil, &Error{Kind: KindAPI, Message: "download url response missing connector"}
	}

	return target, nil
}

// DownloadFile opens the binary stream for a download connector. The
// caller owns the returned response body.
func (c *Client) DownloadFile(ctx context.Context, connector string) (*Response, error) {
	data, err := dataField(map[string]any{"connector": connector})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/download/url/get",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	if !resp.Raw() {
		return nil, &Error{Kind: KindAPI, Message: "download response was not a binary stream"}
	}

	return resp, nil
}

// FormatGet fetches the service's metadata for one format.
func (c *Client) FormatGet(ctx context.Context, format string) (Envelope, error) {
	data, err := dataField(map[string]any{
		"parameters": map[string]any{"format": Canon(format)},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/format/get",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	return resp.JSON, nil
}

// GraphInfo describes whether a conversion pair is supported and
// what it costs.
type GraphInfo struct {
	Supported bool
	VCredits  int
}

// ConvertGraph looks up the conversion graph edge from input to
// output format.
func (c *Client) ConvertGraph(ctx context.Context, input, output string) (*GraphInfo, error) {
	data, err := dataField(map[string]any{
		"parameters": map[string]any{
			"input":  Canon(input),
			"output": Canon(output),
		},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/convert/graph",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	supported, _ := at(resp.JSON, []string{"result", "output"})["supported"].(bool)

	return &GraphInfo{
		Supported: supported,
		VCredits:  intAt(resp.JSON, "result", "output", "vcredits"),
	}, nil
}

// ConvertFormats lists the formats a given format converts to, or
// every supported conversion when format is empty.
func (c *Client) ConvertFormats(ctx context.Context, format string) (Envelope, error) {
	parameters := map[string]any{}
	if f := Canon(format); f != "" {
		parameters["format"] = f
	}

	data, err := dataField(map[string]any{"parameters": parameters})
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, Descriptor{
		Path:   "/convert/formats",
		Method: http.MethodPost,
		Fields: map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	return resp.JSON, nil
}

// stringAt resolves a string leaf at path, empty when absent.
func stringAt(env Envelope, path ...string) string {
	if len(path) == 0 {
		return ""
	}

	parent := at(env, path[:len(path)-1])
	if parent == nil {
		return ""
	}

	s, _ := parent[path[len(path)-1]].(string)

	return s
}

// intAt resolves a numeric leaf at path, zero when absent. JSON
// numbers decode as float64.
func intAt(env Envelope, path ...string) int {
	if len(path) == 0 {
		return 0
	}

	parent := at(env, path[:len(path)-1])
	if parent == nil {
		return 0
	}

	switch n := parent[path[len(path)-1]].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		v, _ := n.Int64()
		return int(v)
	default:
		return 0
	}
}
