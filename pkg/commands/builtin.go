package commands

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/comigor/notarobot/internal/conversation"
)

// Conversation is what the chat and write commands need from the
// conversation service.
type Conversation interface {
	SubmitTurn(ctx context.Context, author, text string) conversation.Reply
	Prompt(ctx context.Context, author, text string) conversation.Reply
}

// RegisterBuiltins adds every built-in command to r.
func RegisterBuiltins(r *Registry, conv Conversation) {
	r.Register(&ChatCommand{conv: conv})
	r.Register(&WriteCommand{conv: conv})
	r.Register(NewHelloCommand())
	r.Register(NewDiceCommand())
	r.Register(&HelpCommand{registry: r})
}

// ChatCommand talks to the model with the author's recent history.
type ChatCommand struct {
	conv Conversation
}

func (c *ChatCommand) Name() string        { return "chat" }
func (c *ChatCommand) Description() string { return "Chat with totally not a robot." }
func (c *ChatCommand) Params() []Param {
	return []Param{{Name: "message", Description: "Your message to the robot, e.g. 'A poem about...'.", Required: true}}
}

func (c *ChatCommand) Run(ctx context.Context, inv Invocation) (string, error) {
	return c.conv.SubmitTurn(ctx, inv.Author, inv.Arg("message", "")).Text, nil
}

// WriteCommand answers a single prompt without any history.
type WriteCommand struct {
	conv Conversation
}

func (c *WriteCommand) Name() string        { return "write" }
func (c *WriteCommand) Description() string { return "Let the robot write something for you." }
func (c *WriteCommand) Params() []Param {
	return []Param{{Name: "prompt", Description: "What to write, e.g. 'A haiku about Mondays'.", Required: true}}
}

func (c *WriteCommand) Run(ctx context.Context, inv Invocation) (string, error) {
	return c.conv.Prompt(ctx, inv.Author, inv.Arg("prompt", "")).Text, nil
}

var greetings = []string{
	"Whad up?", "Not you again...", "Nice!", "Was geht?", "How ya doin?",
	"Greetings, fellow traveler!", "I'm not the bot you are looking for. :disguised_face:",
	":robot:", "Hello there!", "Howdy! :cowboy:", "Hi! :wave:", "Hey! :wave:",
}

// HelloCommand greets with a random line.
type HelloCommand struct {
	intn func(n int) int
}

func NewHelloCommand() *HelloCommand {
	return &HelloCommand{intn: rand.IntN}
}

func (c *HelloCommand) Name() string        { return "hello" }
func (c *HelloCommand) Description() string { return "Says hello... or maybe not." }
func (c *HelloCommand) Params() []Param     { return nil }

func (c *HelloCommand) Run(context.Context, Invocation) (string, error) {
	return greetings[c.intn(len(greetings))], nil
}

const maxDice = 10

// DiceCommand rolls up to ten six-sided dice.
type DiceCommand struct {
	intn func(n int) int
}

func NewDiceCommand() *DiceCommand {
	return &DiceCommand{intn: rand.IntN}
}

func (c *DiceCommand) Name() string        { return "dice" }
func (c *DiceCommand) Description() string { return "Simulates rolling a dice N times." }
func (c *DiceCommand) Params() []Param {
	return []Param{{Name: "rolls", Description: "Number of dice rolls, at most 10. Defaults to 1.", Number: true}}
}

func (c *DiceCommand) Run(_ context.Context, inv Invocation) (string, error) {
	raw := strings.TrimSpace(inv.Arg("rolls", "1"))
	// MCP clients send numbers as JSON floats, so "2.0" is accepted too
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("invalid rolls %q: %w", raw, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("invalid rolls %q", raw)
	}
	if f > maxDice {
		return "I only have 10 dice.", nil
	}
	rolls := 1
	if f >= 1 {
		rolls = int(f)
	}

	results := make([]string, rolls)
	for i := range results {
		results[i] = strconv.Itoa(c.intn(6) + 1)
	}
	return strings.Join(results, ", "), nil
}

// HelpCommand lists the registered commands.
type HelpCommand struct {
	registry *Registry
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Show help." }
func (c *HelpCommand) Params() []Param     { return nil }

func (c *HelpCommand) Run(context.Context, Invocation) (string, error) {
	var b strings.Builder
	b.WriteString("Here is what I can do:")
	for _, cmd := range c.registry.List() {
		b.WriteString("\n/")
		b.WriteString(cmd.Name())
		for _, p := range cmd.Params() {
			if p.Required {
				fmt.Fprintf(&b, " <%s>", p.Name)
			} else {
				fmt.Fprintf(&b, " [%s]", p.Name)
			}
		}
		b.WriteString(" - ")
		b.WriteString(cmd.Description())
	}
	return b.String(), nil
}
