package conversation

import (
	"errors"
	"fmt"

	"github.com/comigor/notarobot/internal/history"
	"github.com/sashabaranov/go-openai"
)

// ErrUnknownRole is returned when a stored message has a role the API
// cannot be given.
var ErrUnknownRole = errors.New("conversation: unknown role")

// Assemble turns windowed history into the request context. Order is kept
// as is; when contextLength > 0 only that many of the newest messages are
// used. A non-empty systemPrompt is prepended and does not count towards
// contextLength.
func Assemble(msgs []history.Message, systemPrompt string, contextLength int) ([]openai.ChatCompletionMessage, error) {
	if contextLength > 0 && len(msgs) > contextLength {
		msgs = msgs[len(msgs)-contextLength:]
	}

	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		var role string
		switch m.Role {
		case history.RoleUser:
			role = openai.ChatMessageRoleUser
		case history.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return nil, fmt.Errorf("%w %q in message %d", ErrUnknownRole, m.Role, m.ID)
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out, nil
}
