package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/internal/metrics"
	"github.com/sashabaranov/go-openai"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"
)

// ErrRemote matches every *RemoteError.
var ErrRemote = errors.New("llm: remote call failed")

// RemoteError is a failure reported by, or on the way to, the remote API.
type RemoteError struct {
	StatusCode int // HTTP status when the API produced one
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm remote call (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm remote call: %v", e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Status is the non-error result of a bounded call.
type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Request describes one chat completion. Timeout bounds the whole call,
// including the wait for a free worker.
type Request struct {
	Messages  []openai.ChatCompletionMessage
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Outcome carries the response when Status is StatusOK.
type Outcome struct {
	Status   Status
	Response openai.ChatCompletionResponse
}

// Caller runs completions on a bounded set of workers and gives up on them
// once their timeout expires.
type Caller struct {
	client  Client
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// CallerOption customizes a Caller.
type CallerOption func(*Caller)

// WithMetrics records call durations.
func WithMetrics(m *metrics.Metrics) CallerOption {
	return func(c *Caller) { c.metrics = m }
}

// NewCaller returns a Caller allowing at most workers concurrent requests.
func NewCaller(client Client, workers int, opts ...CallerOption) *Caller {
	if workers < 1 {
		workers = 1
	}
	c := &Caller{client: client, sem: semaphore.NewWeighted(int64(workers))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callResult struct {
	resp openai.ChatCompletionResponse
	err  error
}

// Complete sends req with N=1 and waits at most req.Timeout. A timeout is
// reported as StatusUnavailable with a nil error; a result arriving after
// that is dropped. No retries are made.
func (c *Caller) Complete(ctx context.Context, req Request) (Outcome, error) {
	if req.Timeout <= 0 {
		return Outcome{}, fmt.Errorf("llm: timeout must be positive, got %s", req.Timeout)
	}

	start := time.Now()
	defer func() { c.metrics.RemoteCall(time.Since(start)) }()

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if err := c.sem.Acquire(callCtx, 1); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		logger.L.Warn("no llm worker available before timeout", "timeout", req.Timeout)
		return Outcome{Status: StatusUnavailable}, nil
	}

	var settled atomic.Bool
	results := make(chan callResult, 1)

	go func() {
		defer c.sem.Release(1)

		var res callResult
		var pc panics.Catcher
		pc.Try(func() {
			res.resp, res.err = c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
				Model:     req.Model,
				Messages:  req.Messages,
				MaxTokens: req.MaxTokens,
				N:         1,
			})
		})
		if r := pc.Recovered(); r != nil {
			res = callResult{err: fmt.Errorf("client panicked: %w", r.AsError())}
		}

		if !settled.CompareAndSwap(false, true) {
			logger.L.Debug("discarding llm result that arrived after timeout", "error", res.err)
			return
		}
		results <- res
	}()

	select {
	case res := <-results:
		return c.settle(ctx, callCtx, res)
	case <-callCtx.Done():
		if !settled.CompareAndSwap(false, true) {
			// the worker settled first; its result is already on the way
			return c.settle(ctx, callCtx, <-results)
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		logger.L.Warn("llm call timed out", "timeout", req.Timeout)
		return Outcome{Status: StatusUnavailable}, nil
	}
}

func (c *Caller) settle(ctx, callCtx context.Context, res callResult) (Outcome, error) {
	if res.err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && errors.Is(res.err, context.DeadlineExceeded) {
			logger.L.Warn("llm call timed out", "error", res.err)
			return Outcome{Status: StatusUnavailable}, nil
		}
		return Outcome{}, classify(res.err)
	}
	if len(res.resp.Choices) == 0 {
		return Outcome{}, &RemoteError{Err: errors.New("response has no choices")}
	}
	return Outcome{Status: StatusOK, Response: res.resp}, nil
}

func classify(err error) *RemoteError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RemoteError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RemoteError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &RemoteError{Err: err}
}
