package llm

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comigor/notarobot/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

// funcLLM adapts a function to the Client interface.
type funcLLM func(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

func (f funcLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f(ctx, r)
}

func answer(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
		}},
	}
}

func request(timeout time.Duration) Request {
	return Request{
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		Model:     "gpt-3.5-turbo",
		MaxTokens: 800,
		Timeout:   timeout,
	}
}

func TestComplete_OK(t *testing.T) {
	var seen openai.ChatCompletionRequest
	c := NewCaller(funcLLM(func(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		seen = r
		return answer("hello"), nil
	}), 1)

	out, err := c.Complete(context.Background(), request(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusOK, out.Status)
	require.Equal(t, "hello", out.Response.Choices[0].Message.Content)

	require.Equal(t, 1, seen.N)
	require.Equal(t, 800, seen.MaxTokens)
	require.Equal(t, "gpt-3.5-turbo", seen.Model)
	require.Len(t, seen.Messages, 1)
}

func TestComplete_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// never returns on its own and ignores cancellation
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		<-release
		return answer("too late"), nil
	}), 1)

	start := time.Now()
	out, err := c.Complete(context.Background(), request(time.Second))
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, out.Status)
	require.GreaterOrEqual(t, elapsed, time.Second)
	require.Less(t, elapsed, 1500*time.Millisecond)
}

func TestComplete_LateResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		if calls.Add(1) == 1 {
			<-release
			return answer("late"), nil
		}
		return answer("fresh"), nil
	}), 1)

	out, err := c.Complete(context.Background(), request(50*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, out.Status)
	require.Empty(t, out.Response.Choices)

	// the worker slot frees up once the hung call finally returns
	close(release)
	out, err = c.Complete(context.Background(), request(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusOK, out.Status)
	require.Equal(t, "fresh", out.Response.Choices[0].Message.Content)
}

func TestComplete_CancelsInFlightOnTimeout(t *testing.T) {
	cancelled := make(chan struct{})
	c := NewCaller(funcLLM(func(ctx context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		<-ctx.Done()
		close(cancelled)
		return openai.ChatCompletionResponse{}, ctx.Err()
	}), 1)

	out, err := c.Complete(context.Background(), request(50*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, out.Status)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight request context was not cancelled")
	}
}

func TestComplete_WaitingForWorkerCountsAgainstTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		<-release
		return answer("x"), nil
	}), 1)

	out, err := c.Complete(context.Background(), request(30*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, out.Status)

	// the only worker is still stuck on the first call
	start := time.Now()
	out, err = c.Complete(context.Background(), request(100*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, out.Status)
	require.Less(t, time.Since(start), time.Second)
}

func TestComplete_RemoteErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		resp   openai.ChatCompletionResponse
		status int
	}{
		"api error": {
			err:    &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limited"},
			status: http.StatusTooManyRequests,
		},
		"request error": {
			err:    &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")},
			status: http.StatusBadGateway,
		},
		"network": {err: errors.New("connection refused")},
		"no choices": {resp: openai.ChatCompletionResponse{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
				return tc.resp, tc.err
			}), 1)

			_, err := c.Complete(context.Background(), request(time.Second))
			require.ErrorIs(t, err, ErrRemote)
			var re *RemoteError
			require.True(t, errors.As(err, &re))
			require.Equal(t, tc.status, re.StatusCode)
		})
	}
}

func TestComplete_RecoversPanic(t *testing.T) {
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		panic("boom")
	}), 1)

	var err error
	require.NotPanics(t, func() {
		_, err = c.Complete(context.Background(), request(time.Second))
	})
	require.ErrorIs(t, err, ErrRemote)
	require.ErrorContains(t, err, "boom")
}

func TestComplete_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCaller(funcLLM(func(ctx context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		cancel()
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}), 1)

	_, err := c.Complete(ctx, request(time.Second))
	require.ErrorIs(t, err, context.Canceled)
}

func TestComplete_RejectsZeroTimeout(t *testing.T) {
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return answer("x"), nil
	}), 1)
	_, err := c.Complete(context.Background(), request(0))
	require.Error(t, err)
}

func TestComplete_RecordsDuration(t *testing.T) {
	m := metrics.New()
	c := NewCaller(funcLLM(func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return answer("x"), nil
	}), 1, WithMetrics(m))

	_, err := c.Complete(context.Background(), request(time.Second))
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(m.Registry(), "notarobot_remote_call_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
