// Package fetch downloads remote artifacts to local files. Downloads go to a
// ".part" sibling that survives interruption and is resumed with a ranged
// request; only a file that matches its expected digest is moved into place.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/failure"
)

// PartSuffix is appended to the destination path while a download is in flight.
const PartSuffix = ".part"

const (
	DefaultMaxAttempts   = 5
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultMaxDelay      = 8 * time.Second
	DefaultHeaderTimeout = 30 * time.Second
	DefaultIdleTimeout   = time.Minute
)

// errStalled ends an attempt whose connection went quiet.
var errStalled = errors.New("connection stalled")

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient returns an HTTPClient using http.DefaultClient.
type DefaultHTTPClient struct{}

func (DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

// NewClient returns an *http.Client whose transport gives up on a server
// that sends no response headers within headerTimeout (0 means
// DefaultHeaderTimeout). timeout bounds the whole exchange; 0 disables it.
func NewClient(timeout, headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Fetcher downloads artifacts with retry and resume.
type Fetcher struct {
	Client      HTTPClient
	MaxAttempts int           // 0 means DefaultMaxAttempts
	BaseDelay   time.Duration // first backoff delay, doubled per attempt
	MaxDelay    time.Duration // backoff cap
	IdleTimeout time.Duration // longest wait for the next bytes, 0 means DefaultIdleTimeout
	UserAgent   string
	Logger      *slog.Logger

	// Sleep waits between attempts. Tests replace it to observe backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Request describes one artifact to download.
type Request struct {
	URL         string
	Destination string
	Digest      digest.Digest

	// Progress, if set, is called as bytes arrive. total is -1 when the
	// server does not announce a length.
	Progress func(written, total int64)
}

// Result reports how an artifact was obtained.
type Result struct {
	Bytes    int64
	Attempts int
	Resumed  bool // at least one attempt continued a partial file
	Reused   bool // destination already held the verified artifact
}

// rejectedError marks a response that retrying cannot fix.
type rejectedError struct {
	status int
	url    string
}

func (e *rejectedError) Error() string {
	if e.status == 0 {
		return fmt.Sprintf("invalid request for %s", e.url)
	}
	return fmt.Sprintf("HTTP %d from %s", e.status, e.url)
}

// Fetch downloads req.URL to req.Destination.
//
// Connection failures, stalled connections and 5xx responses are retried
// with exponential backoff. A 4xx response fails immediately with FetchRejected. Once all
// bytes are present the partial file is verified: a mismatch deletes it and
// fails with IntegrityError. On cancellation the partial file is kept.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Digest.IsZero() {
		return nil, failure.Newf(failure.UntrustedSource, "fetch", "no digest declared for %s", req.URL)
	}

	if err := digest.Verify(req.Destination, req.Digest); err == nil {
		info, _ := os.Stat(req.Destination)
		return &Result{Bytes: info.Size(), Reused: true}, nil
	}

	part := req.Destination + PartSuffix
	result := &Result{}
	maxAttempts := f.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		resumed, err := f.attempt(ctx, req, part)
		if resumed {
			result.Resumed = true
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return result, failure.New(failure.Cancelled, "fetch", ctx.Err())
		}

		var rejected *rejectedError
		if errors.As(err, &rejected) {
			_ = os.Remove(part)
			return result, failure.New(failure.FetchRejected, "fetch", err).
				WithHint("check that the template's URL is still published")
		}
		if attempt >= maxAttempts {
			return result, failure.New(failure.FetchFailed, "fetch",
				fmt.Errorf("giving up after %d attempts: %w", attempt, err)).
				WithHint("check network connectivity, then resume to continue the download")
		}

		delay := f.backoff(attempt)
		f.logger().Warn("fetch attempt failed, retrying",
			"url", req.URL, "attempt", attempt, "delay", delay, "error", err)
		if err := f.sleep(ctx, delay); err != nil {
			return result, failure.New(failure.Cancelled, "fetch", err)
		}
	}

	if err := digest.Verify(part, req.Digest); err != nil {
		_ = os.Remove(part)
		return result, err
	}
	if err := os.Rename(part, req.Destination); err != nil {
		return result, failure.New(failure.IOFailure, "fetch", fmt.Errorf("moving download into place: %w", err))
	}
	if info, err := os.Stat(req.Destination); err == nil {
		result.Bytes = info.Size()
	}
	return result, nil
}

// attempt performs one HTTP exchange, appending to part when the server
// honours the range request. It reports whether it resumed.
func (f *Fetcher) attempt(ctx context.Context, req Request, part string) (bool, error) {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := f.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	watchdog := time.AfterFunc(idle, func() { cancel(errStalled) })
	defer watchdog.Stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return false, &rejectedError{url: req.URL}
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if f.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = DefaultHTTPClient{}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("requesting %s: %w", req.URL, stalled(ctx, err))
	}
	defer resp.Body.Close()

	resumed := false
	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			// The server answered a different range. Start over.
			_ = os.Remove(part)
			return false, fmt.Errorf("unexpected Content-Range %q for offset %d", resp.Header.Get("Content-Range"), offset)
		}
		flags |= os.O_APPEND
		resumed = true
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// Everything is already on disk; verification decides.
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL)
	default:
		return false, &rejectedError{status: resp.StatusCode, url: req.URL}
	}

	out, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return resumed, fmt.Errorf("opening %s: %w", part, err)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	w := &progressWriter{w: out, written: offset, total: total, report: req.Progress}
	n, copyErr := io.Copy(w, &contextReader{ctx: ctx, r: resp.Body, idle: idle, watchdog: watchdog})
	closeErr := out.Close()

	if copyErr != nil {
		return resumed, fmt.Errorf("reading body of %s: %w", req.URL, stalled(ctx, copyErr))
	}
	if closeErr != nil {
		return resumed, fmt.Errorf("closing %s: %w", part, closeErr)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return resumed, fmt.Errorf("short body from %s: got %d of %d bytes", req.URL, n, resp.ContentLength)
	}
	return resumed, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := f.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// contentRangeStart parses the first byte position of "bytes start-end/total".
func contentRangeStart(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	startText, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startText), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// stalled replaces err with errStalled when the idle watchdog ended the
// attempt.
func stalled(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errStalled) {
		return cause
	}
	return err
}

// contextReader stops at cancellation and rearms the idle watchdog after
// every read that returns data.
type contextReader struct {
	ctx      context.Context
	r        io.Reader
	idle     time.Duration
	watchdog *time.Timer
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if n > 0 && c.watchdog != nil {
		c.watchdog.Reset(c.idle)
	}
	return n, err
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.report != nil && n > 0 {
		p.report(p.written, p.total)
	}
	return n, err
}
