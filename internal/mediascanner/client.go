// Package mediascanner is the polling HTTP client for the external
// media-scanner service the worker drives. The scanner
// speaks an async-job protocol: a POST kicks a job off, and the
// response body's leading token says whether it finished, is still
// running (poll with GET), or failed.
package mediascanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind identifies which scanner endpoint a request targets.
type Kind string

const (
	KindScan      Kind = "media"
	KindMetadata  Kind = "metadata"
	KindPreview   Kind = "preview"
	KindThumbnail Kind = "thumbnail"
)

// Config is the DeviceSettings.mediaScanner block. A blank
// Host means the scanner is unconfigured (Enabled reports false); the
// worker's scanner operations then yield SKIPPED rather than erroring,
// except thumbnail generation, which still issues its request.
type Config struct {
	Host string
	Port int
}

// PollInterval is how long Client waits between an IN PROGRESS poll and
// the next GET ("wait 1s and GET the same URI").
var PollInterval = time.Second

// Status is the outcome of one scanner round-trip.
type Status int

const (
	StatusDone Status = iota
	StatusInProgress
	StatusError
)

// Client talks to the media scanner over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a scanner client for cfg. An http.Client with no
// timeout is used deliberately: the poll loop itself is the backstop,
// matching ("No explicit timeout on the scanner poll; failure
// must come via 500/404").
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, http: &http.Client{}}
}

// Enabled reports whether a scanner host is configured.
func (c *Client) Enabled() bool {
	return c.cfg.Host != ""
}

func (c *Client) uri(kind Kind, id string) string {
	verb := "generateAsync"
	if kind == KindScan {
		verb = "scanAsync"
	}
	return fmt.Sprintf("http://%s:%d/%s/%s/%s", c.cfg.Host, c.cfg.Port, kind, verb, url.PathEscape(id))
}

// Result is the parsed outcome of one scanner response body.
type Result struct {
	Status Status
	Body   string
}

func parseBody(body string) Status {
	switch {
	case strings.HasPrefix(body, "202"):
		return StatusDone
	case strings.HasPrefix(body, "203"):
		return StatusInProgress
	default:
		// 500/404 and anything unrecognised are both terminal
		// failures.
		return StatusError
	}
}

func (c *Client) roundTrip(ctx context.Context, method string, kind Kind, id string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.uri(kind, id), nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "mediascanner: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "mediascanner: request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, errors.Wrap(err, "mediascanner: read response")
	}

	text := string(body)
	return Result{Status: parseBody(text), Body: text}, nil
}

// Generate runs one scanner operation to completion: POSTs to kick the
// job off, then GETs once a second while the response reports IN
// PROGRESS. It returns the final Result body so the caller can fold it
// into a workflow.Result.
func (c *Client) Generate(ctx context.Context, kind Kind, id string) (Result, error) {
	res, err := c.roundTrip(ctx, http.MethodPost, kind, id)
	if err != nil {
		return Result{}, err
	}
	if res.Status != StatusInProgress {
		return res, nil
	}
	return c.pollUntilDone(ctx, kind, id)
}

// pollUntilDone terminates only on a DONE or failing body; any other
// body mid-poll also terminates as a failure. Polls are GET, not POST.
// This loop is not a cancellation point, tryToAbort only ever applies
// to the copy phase of a COPY step, but it still observes ctx so the
// process can shut down.
func (c *Client) pollUntilDone(ctx context.Context, kind Kind, id string) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(PollInterval):
		}

		res, err := c.roundTrip(ctx, http.MethodGet, kind, id)
		if err != nil {
			return Result{}, err
		}
		if res.Status != StatusInProgress {
			return res, nil
		}
	}
}
