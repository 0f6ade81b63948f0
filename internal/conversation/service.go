// Package conversation implements the chat turn: it records the user's
// message, rebuilds the recent context and asks the remote model for a reply
// within a bounded time.
package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/comigor/notarobot/internal/config"
	"github.com/comigor/notarobot/internal/history"
	"github.com/comigor/notarobot/internal/llm"
	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/internal/metrics"
	"github.com/sashabaranov/go-openai"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
	OutcomeRejected    Outcome = "rejected"
)

// User-facing replies for turns that did not produce an answer.
const (
	MsgUnavailable = "OpenAI's robots seem to be very tired. :zzz: Please try again later."
	MsgFailed      = "The robots are not answering right now. Please try again later."
	MsgRejected    = "You have to tell me something first."
)

// Reply is what the command surface shows the user. Text never carries
// internal error detail.
type Reply struct {
	Text    string  `json:"text"`
	Outcome Outcome `json:"outcome"`
}

// Completer is the bounded remote call; *llm.Caller implements it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Outcome, error)
}

// Service runs chat turns against a history store and a completer.
type Service struct {
	store   history.Store
	caller  Completer
	cfg     config.ChatConfig
	metrics *metrics.Metrics
}

// NewService creates a Service. m may be nil.
func NewService(store history.Store, caller Completer, cfg config.ChatConfig, m *metrics.Metrics) *Service {
	return &Service{store: store, caller: caller, cfg: cfg, metrics: m}
}

// SubmitTurn appends the user's text, queries the author's recent history,
// calls the model and stores its answer. Storage faults never fail the turn.
func (s *Service) SubmitTurn(ctx context.Context, author, text string) Reply {
	if strings.TrimSpace(text) == "" {
		s.metrics.Turn(string(OutcomeRejected))
		return Reply{Text: MsgRejected, Outcome: OutcomeRejected}
	}

	t := newTurn(author, func(ctx context.Context, reply string) error {
		_, err := s.store.Append(ctx, author, history.RoleAssistant, reply)
		return err
	})
	t.log.Info("chat turn received", "chars", len(text))

	_, appendErr := s.store.Append(ctx, author, history.RoleUser, text)
	if appendErr != nil {
		s.storageFault("append", appendErr)
		t.log.Error("user message not stored", "error", appendErr)
	}
	if err := t.fire(ctx, TriggerRecord); err != nil {
		return s.fail(t, err)
	}

	msgs := history.History(ctx, observedStore{s.store, s.metrics}, author, s.cfg.TimeframeHours)
	// the current utterance must reach the model even when it is not in the store
	if appendErr != nil || len(msgs) == 0 {
		msgs = append(msgs, history.Message{Author: author, Role: history.RoleUser, Content: text})
	}

	messages, err := Assemble(msgs, s.cfg.SystemPrompt, s.cfg.ContextLength)
	if err != nil {
		_ = t.fire(ctx, TriggerCall)
		_ = t.fire(ctx, TriggerFail)
		return s.fail(t, err)
	}

	if err := t.fire(ctx, TriggerCall); err != nil {
		return s.fail(t, err)
	}
	out, err := s.caller.Complete(ctx, s.request(messages))
	if err != nil {
		_ = t.fire(ctx, TriggerFail)
		return s.fail(t, err)
	}
	if out.Status == llm.StatusUnavailable {
		_ = t.fire(ctx, TriggerTimeout)
		t.log.Warn("chat turn unavailable")
		s.metrics.Turn(string(OutcomeUnavailable))
		return Reply{Text: MsgUnavailable, Outcome: OutcomeUnavailable}
	}

	answer := out.Response.Choices[0].Message.Content
	if err := t.fire(ctx, TriggerReply); err != nil {
		return s.fail(t, err)
	}
	if err := t.fire(ctx, TriggerPersist, answer); err != nil {
		s.storageFault("append", err)
		t.log.Error("reply not stored", "error", err)
	}

	t.log.Info("chat turn answered", "state", t.state())
	s.metrics.Turn(string(OutcomeAnswered))
	return Reply{Text: answer, Outcome: OutcomeAnswered}
}

// Prompt answers a single prompt with no history and no persistence.
func (s *Service) Prompt(ctx context.Context, author, text string) Reply {
	log := logger.L.With("author", author)
	if strings.TrimSpace(text) == "" {
		return Reply{Text: MsgRejected, Outcome: OutcomeRejected}
	}

	messages, err := Assemble([]history.Message{{Author: author, Role: history.RoleUser, Content: text}}, s.cfg.SystemPrompt, 0)
	if err != nil {
		log.Error("prompt context not assembled", "error", err)
		return Reply{Text: MsgFailed, Outcome: OutcomeFailed}
	}
	out, err := s.caller.Complete(ctx, s.request(messages))
	if err != nil {
		log.Error("prompt failed", "error", err)
		return Reply{Text: MsgFailed, Outcome: OutcomeFailed}
	}
	if out.Status == llm.StatusUnavailable {
		log.Warn("prompt unavailable")
		return Reply{Text: MsgUnavailable, Outcome: OutcomeUnavailable}
	}
	return Reply{Text: out.Response.Choices[0].Message.Content, Outcome: OutcomeAnswered}
}

func (s *Service) request(messages []openai.ChatCompletionMessage) llm.Request {
	return llm.Request{
		Messages:  messages,
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Timeout:   s.cfg.Timeout(),
	}
}

func (s *Service) fail(t *turn, err error) Reply {
	if errors.Is(err, llm.ErrRemote) {
		t.log.Error("chat turn failed on remote call", "error", err, "state", t.state())
	} else {
		t.log.Error("chat turn failed", "error", err, "state", t.state())
	}
	s.metrics.Turn(string(OutcomeFailed))
	return Reply{Text: MsgFailed, Outcome: OutcomeFailed}
}

func (s *Service) storageFault(op string, err error) {
	if errors.Is(err, history.ErrStorage) {
		s.metrics.StorageFault(op)
	}
}

// observedStore counts window faults before History swallows them.
type observedStore struct {
	history.Store
	metrics *metrics.Metrics
}

func (o observedStore) Window(ctx context.Context, author string, timeframeHours float64) ([]history.Message, error) {
	msgs, err := o.Store.Window(ctx, author, timeframeHours)
	if err != nil && errors.Is(err, history.ErrStorage) {
		o.metrics.StorageFault("window")
	}
	return msgs, err
}
