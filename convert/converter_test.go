package convert_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/typeshift/typeshift-go/api"
	"github.com/typeshift/typeshift-go/convert"
	"github.com/typeshift/typeshift-go/fileio"
)

// fakeService scripts the remote side of one conversion: an upload,
// a convert request, a configurable sequence of status answers, then
// the download handshake.
type fakeService struct {
	t *testing.T

	statusBodies []string
	statusCalls  int
	uploadCalls  int
	convertBody  string
	downloadData []byte
	downloadName string
}

func (f *fakeService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON := func(body string) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(body))
		}

		switch r.URL.Path {
		case "/v1/upload/file":
			f.uploadCalls++
			writeJSON(`{"entity":{"id":"up-1","status":"uploaded"}}`)
		case "/v1/convert/file":
			writeJSON(f.convertBody)
		case "/v1/convert/status":
			if f.statusCalls >= len(f.statusBodies) {
				f.t.Errorf("unexpected status poll #%d", f.statusCalls+1)
				writeJSON(`{}`)
				return
			}
			body := f.statusBodies[f.statusCalls]
			f.statusCalls++
			writeJSON(body)
		case "/v1/download/url":
			writeJSON(`{"result":{"output":{"connector":"dl-1","filename":"` + f.downloadName + `"}}}`)
		case "/v1/download/url/get":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(f.downloadData)
		default:
			f.t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func testClient(t *testing.T, endpoint string) *api.Client {
	t.Helper()

	cred, err := api.NewCredential("app-1", "tok-1")
	if err != nil {
		t.Fatalf("creating credential: %v", err)
	}

	c, err := api.Build(cred, api.WithEndpoint(endpoint))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const runningStatus = `{"entity":{"id":"cv-1","status":"running"}}`
const completedStatus = `{"entity":{"id":"cv-1","status":"completed","vcredits":2},"result":{"output":{"status":"successful"}}}`
const failedStatus = `{"entity":{"id":"cv-1","status":"completed","vcredits":1},"result":{"output":{"status":"failed"}}}`

func TestConverter_FullLifecycle(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{runningStatus, runningStatus, completedStatus},
		downloadData: bytes.Repeat([]byte("pdf bytes "), 50),
		downloadName: "report.pdf",
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	output := fileio.NewBufferTarget()
	var sleeps []time.Duration

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("report.md", []byte("# report")),
		output,
		"pdf",
		convert.WithLogger(quietLogger()),
		convert.WithPollIntervals(time.Second, 2*time.Second),
		convert.WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if c.State() != convert.StateCreated {
		t.Fatalf("expected created state, got %v", c.State())
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}
	if c.State() != convert.StateConverting {
		t.Errorf("expected converting state, got %v", c.State())
	}
	if c.Connector() != "cv-1" {
		t.Errorf("expected connector cv-1, got %q", c.Connector())
	}

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("waiting for completion: %v", err)
	}
	if c.State() != convert.StateCompleted {
		t.Errorf("expected completed state, got %v", c.State())
	}
	if !c.Successful() {
		t.Error("expected a successful conversion")
	}

	credits, ok := c.CreditsUsed()
	if !ok || credits != 2 {
		t.Errorf("expected (2, true) credits, got (%d, %v)", credits, ok)
	}

	// Two still-running polls, so two sleeps: the first interval then
	// the second. The third poll completes without another sleep.
	expSleeps := []time.Duration{time.Second, 2 * time.Second}
	if diff := cmp.Diff(expSleeps, sleeps); diff != "" {
		t.Errorf("sleep sequence mismatch; diff: %s", diff)
	}

	if err := c.Download(context.Background(), false); err != nil {
		t.Fatalf("downloading result: %v", err)
	}
	if !bytes.Equal(output.Bytes(), svc.downloadData) {
		t.Error("downloaded bytes do not match the service payload")
	}
	if svc.uploadCalls != 1 {
		t.Errorf("expected exactly one upload, got %d", svc.uploadCalls)
	}
}

func TestConverter_StartTaskNotRunning(t *testing.T) {
	svc := &fakeService{
		t:           t,
		convertBody: `{"entity":{"id":"cv-1","status":"queued"}}`,
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	err = c.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for non-running task")
	}

	kind, ok := api.KindOf(err)
	if !ok || kind != api.KindTaskNotRunning {
		t.Errorf("expected KindTaskNotRunning, got (%v, %v)", kind, ok)
	}

	// The workflow must not advance to polling.
	if err := c.Wait(context.Background()); !errors.Is(err, convert.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted from Wait, got: %v", err)
	}
	if svc.statusCalls != 0 {
		t.Errorf("expected zero status polls, got %d", svc.statusCalls)
	}
}

func TestConverter_WaitClampsIntervals(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{runningStatus, runningStatus, runningStatus, runningStatus, completedStatus},
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	var sleeps []time.Duration
	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
		convert.WithPollIntervals(time.Second, 3*time.Second),
		convert.WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("waiting for completion: %v", err)
	}

	// The final interval repeats once the sequence is exhausted.
	expSleeps := []time.Duration{time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}
	if diff := cmp.Diff(expSleeps, sleeps); diff != "" {
		t.Errorf("sleep sequence mismatch; diff: %s", diff)
	}
}

func TestConverter_WaitInvalidInterval(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{runningStatus, runningStatus},
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
		convert.WithPollIntervals(time.Second, 0),
		convert.WithSleep(func(time.Duration) {}),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}
	if err := c.Wait(context.Background()); !errors.Is(err, convert.ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got: %v", err)
	}
}

func TestConverter_WaitAlreadyCompleted(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{completedStatus},
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
		convert.WithSleep(func(time.Duration) {}),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// A second Wait must not poll again.
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if svc.statusCalls != 1 {
		t.Errorf("expected a single status poll, got %d", svc.statusCalls)
	}
}

func TestConverter_DoneSingleProbe(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{runningStatus, failedStatus},
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}

	done, err := c.Done(context.Background())
	if err != nil || done {
		t.Fatalf("expected (false, nil) on first probe, got (%v, %v)", done, err)
	}

	done, err = c.Done(context.Background())
	if err != nil || !done {
		t.Fatalf("expected (true, nil) on second probe, got (%v, %v)", done, err)
	}
	if c.Successful() {
		t.Error("expected a failed conversion")
	}

	credits, ok := c.CreditsUsed()
	if !ok || credits != 1 {
		t.Errorf("expected (1, true) credits, got (%d, %v)", credits, ok)
	}
}

func TestConverter_DownloadGuards(t *testing.T) {
	c, err := convert.New(
		testClient(t, "http://localhost:0"),
		fileio.NewBuffer("in.md", []byte("x")),
		fileio.NewBufferTarget(),
		"pdf",
		convert.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Download(context.Background(), false); !errors.Is(err, convert.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got: %v", err)
	}
}

func TestConverter_DownloadServerFilename(t *testing.T) {
	svc := &fakeService{
		t:            t,
		convertBody:  `{"entity":{"id":"cv-1","status":"running"}}`,
		statusBodies: []string{completedStatus},
		downloadData: []byte("result bytes"),
		downloadName: "server-chosen.pdf",
	}
	ts := httptest.NewServer(svc.handler())
	defer ts.Close()

	dir := t.TempDir()
	target := fileio.NewLocalTarget(dir + "/local-name.pdf")

	c, err := convert.New(
		testClient(t, ts.URL),
		fileio.NewBuffer("in.md", []byte("x")),
		target,
		"pdf",
		convert.WithLogger(quietLogger()),
		convert.WithSleep(func(time.Duration) {}),
	)
	if err != nil {
		t.Fatalf("building converter: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("starting conversion: %v", err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("waiting for completion: %v", err)
	}
	if err := c.Download(context.Background(), true); err != nil {
		t.Fatalf("downloading result: %v", err)
	}

	exp := dir + "/server-chosen.pdf"
	if target.Path() != exp {
		t.Errorf("expected target path %q, got %q", exp, target.Path())
	}
}

func TestNew_Validation(t *testing.T) {
	client := testClient(t, "http://localhost:0")
	input := fileio.NewBuffer("in.md", nil)
	output := fileio.NewBufferTarget()

	testCases := map[string]func() error{
		"nilClient": func() error {
			_, err := convert.New(nil, input, output, "pdf")
			return err
		},
		"nilInput": func() error {
			_, err := convert.New(client, nil, output, "pdf")
			return err
		},
		"nilOutput": func() error {
			_, err := convert.New(client, input, nil, "pdf")
			return err
		},
		"emptyOutputFormat": func() error {
			_, err := convert.New(client, input, output, " . ")
			return err
		},
		"emptyInputFormatOption": func() error {
			_, err := convert.New(client, input, output, "pdf", convert.WithInputFormat("."))
			return err
		},
		"emptyIntervals": func() error {
			_, err := convert.New(client, input, output, "pdf", convert.WithPollIntervals())
			return err
		},
	}

	for name, build := range testCases {
		t.Run(name, func(t *testing.T) {
			if err := build(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
