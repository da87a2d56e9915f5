// Package convert orchestrates the upload → convert → poll →
// download lifecycle of one conversion task against the remote
// service. A Converter drives exactly one task and is not safe for
// concurrent use; independent Converters may run in parallel.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/typeshift/typeshift-go/api"
	"github.com/typeshift/typeshift-go/stream"
)

// Readable is an input collaborator: something the workflow can open
// as a byte source and name.
type Readable interface {
	Open() (stream.Source, error)
	Filename() string
	ContentType() string
}

// Writable is an output collaborator: something the workflow can
// open as a byte sink.
type Writable interface {
	Open() (stream.Sink, error)
}

// PathWritable is a Writable whose destination path can be replaced,
// letting the workflow adopt the server-provided filename.
type PathWritable interface {
	Writable
	Path() string
	SetPath(path string)
}

// State is the workflow's lifecycle position. Transitions are driven
// entirely by the caller invoking workflow operations.
type State int

const (
	StateCreated State = iota
	StateUploading
	StateConverting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateUploading:
		return "uploading"
	case StateConverting:
		return "converting"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// defaultPollIntervals paces status polling: two short sleeps, then
// settle on the final interval for as long as the task runs.
var defaultPollIntervals = []time.Duration{10 * time.Second, 10 * time.Second, 15 * time.Second}

var (
	// ErrNotStarted is returned by Wait and Download before Start
	// has succeeded.
	ErrNotStarted = errors.New("conversion not started")
	// ErrNotCompleted is returned by Download before the task has
	// been observed completed.
	ErrNotCompleted = errors.New("conversion not completed")
	// ErrInvalidInterval is returned by Wait when the poll interval
	// required next is not positive.
	ErrInvalidInterval = errors.New("poll interval must be positive")
)

// Converter is the conversion workflow state machine.
type Converter struct {
	client       *api.Client
	input        Readable
	output       Writable
	outputFormat string
	inputFormat  string
	logger       *slog.Logger
	intervals    []time.Duration
	sleep        func(d time.Duration)

	state     State
	connector string
	convert   string
	vcredits  int
}

// Option is a functional option for configuring a [Converter] via [New].
type Option func(*options) error

type options struct {
	inputFormat string
	logger      *slog.Logger
	intervals   []time.Duration
	sleep       func(d time.Duration)
}

// WithInputFormat declares the input format instead of letting the
// service infer it from the uploaded file.
func WithInputFormat(format string) Option {
	return func(o *options) error {
		if api.Canon(format) == "" {
			return errors.New("input format must not be empty")
		}
		o.inputFormat = format
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Converter].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithPollIntervals replaces the sleep sequence used between status
// polls. Once the sequence is exhausted, polling continues at the
// final interval.
func WithPollIntervals(intervals ...time.Duration) Option {
	return func(o *options) error {
		if len(intervals) == 0 {
			return errors.New("at least one poll interval is required")
		}
		o.intervals = intervals
		return nil
	}
}

// WithSleep replaces the sleep between polls. Intended for tests.
func WithSleep(fn func(d time.Duration)) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("sleep func must not be nil")
		}
		o.sleep = fn
		return nil
	}
}

// New builds a Converter that will convert input to outputFormat and
// stream the result into output.
func New(client *api.Client, input Readable, output Writable, outputFormat string, optFns ...Option) (*Converter, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if input == nil || output == nil {
		return nil, errors.New("input and output must not be nil")
	}
	if api.Canon(outputFormat) == "" {
		return nil, errors.New("output format must not be empty")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying converter option: %w", err)
		}
	}

	c := &Converter{
		client:       client,
		input:        input,
		output:       output,
		outputFormat: api.Canon(outputFormat),
		inputFormat:  api.Canon(opts.inputFormat),
		logger:       slog.Default(),
		intervals:    defaultPollIntervals,
		sleep:        time.Sleep,
		state:        StateCreated,
	}

	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.intervals != nil {
		c.intervals = opts.intervals
	}
	if opts.sleep != nil {
		c.sleep = opts.sleep
	}

	return c, nil
}

// State returns the workflow's current lifecycle position.
func (c *Converter) State() State {
	return c.state
}

// Connector returns the conversion task's connector, empty before
// Start succeeds.
func (c *Converter) Connector() string {
	return c.connector
}

// Start uploads the input and requests an asynchronous conversion.
// If the service reports the new task as anything other than running,
// Start fails with a task-not-running error and the workflow must not
// proceed to polling.
func (c *Converter) Start(ctx context.Context) error {
	c.state = StateUploading

	src, err := c.input.Open()
	if err != nil {
		return err
	}

	uploadConnector, err := c.client.Upload(ctx, src, c.input.Filename())
	if err != nil {
		return fmt.Errorf("uploading input: %w", err)
	}

	c.logger.Info("input uploaded", "connector", uploadConnector, "filename", c.input.Filename())

	task, err := c.client.ConvertFile(ctx, api.ConvertParams{
		Connector: uploadConnector,
		Output:    c.outputFormat,
		Input:     c.inputFormat,
	})
	if err != nil {
		return fmt.Errorf("requesting conversion: %w", err)
	}

	c.connector = task.Connector

	if task.Status != api.TaskRunning {
		return &api.Error{
			Kind:    api.KindTaskNotRunning,
			Message: fmt.Sprintf("conversion task reported status %q", task.Status),
		}
	}

	c.state = StateConverting
	c.logger.Info("conversion running", "connector", c.connector, "output", c.outputFormat)

	return nil
}

// poll probes the task once and folds the observation into the
// workflow state. A still-running task may lack the inner result;
// the conversion-level status simply stays unset in that case.
func (c *Converter) poll(ctx context.Context) (bool, error) {
	status, err := c.client.ConvertStatus(ctx, c.connector)
	if err != nil {
		return false, err
	}

	if status.Convert != "" {
		c.convert = status.Convert
	}
	if status.VCredits > 0 {
		c.vcredits = status.VCredits
	}

	if status.Task != api.TaskCompleted {
		return false, nil
	}

	c.state = StateCompleted

	return true, nil
}

// Wait polls the task until it reports completed, sleeping between
// polls per the configured interval sequence. When the sequence runs
// out, the final interval repeats indefinitely. Wait blocks the
// caller; cancellation happens through ctx.
func (c *Converter) Wait(ctx context.Context) error {
	if c.state == StateCompleted {
		return nil
	}
	if c.state != StateConverting {
		return ErrNotStarted
	}

	for idx := 0; ; idx++ {
		done, err := c.poll(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		interval := c.intervals[min(idx, len(c.intervals)-1)]
		if interval <= 0 {
			return fmt.Errorf("%w: %v at index %d", ErrInvalidInterval, interval, idx)
		}

		c.logger.Debug("task still running", "connector", c.connector, "next_poll", interval.String())
		c.sleep(interval)
	}
}

// Done probes the task once; true iff the task-level status is
// completed. A completed task may still hold a failed conversion.
func (c *Converter) Done(ctx context.Context) (bool, error) {
	if c.state == StateCompleted {
		return true, nil
	}
	if c.state != StateConverting {
		return false, ErrNotStarted
	}

	return c.poll(ctx)
}

// Successful reports whether the last observed conversion-level
// status was successful. Meaningful only once Done is true.
func (c *Converter) Successful() bool {
	return c.convert == api.ConvertSuccessful
}

// CreditsUsed returns the vCredits the conversion consumed. ok is
// false until the task has completed.
func (c *Converter) CreditsUsed() (int, bool) {
	if c.state != StateCompleted {
		return 0, false
	}

	return c.vcredits, true
}

// Download resolves the result's download connector and streams the
// remote bytes into the output. With useServerFilename, a
// path-assignable output adopts the server-provided filename in its
// current directory before the sink is opened.
func (c *Converter) Download(ctx context.Context, useServerFilename bool) error {
	if c.connector == "" {
		return ErrNotStarted
	}
	if c.state != StateCompleted {
		return ErrNotCompleted
	}

	target, err := c.client.DownloadURL(ctx, c.connector)
	if err != nil {
		return fmt.Errorf("resolving download url: %w", err)
	}

	resp, err := c.client.DownloadFile(ctx, target.Connector)
	if err != nil {
		return fmt.Errorf("opening download stream: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close download body", "error", err)
		}
	}()

	serverName := target.Filename
	if serverName == "" {
		serverName = resp.Filename
	}

	if useServerFilename && serverName != "" {
		if pw, ok := c.output.(PathWritable); ok {
			pw.SetPath(filepath.Join(filepath.Dir(pw.Path()), serverName))
		}
	}

	sink, err := c.output.Open()
	if err != nil {
		return err
	}

	streamErr := stream.Process(stream.ReaderSource(resp.Body), c.client.ChunkSize(), sink)

	if closer, ok := sink.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil && streamErr == nil {
			streamErr = closeErr
		}
	}
	if streamErr != nil {
		return fmt.Errorf("streaming download: %w", streamErr)
	}

	c.logger.Info("download complete", "connector", target.Connector, "filename", serverName)

	return nil
}
