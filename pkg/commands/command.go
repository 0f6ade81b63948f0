// Package commands holds the bot's user-facing commands and the dispatcher
// that runs them for any transport.
package commands

import (
	"context"
	"fmt"
	"strconv"
)

// Param describes one named argument of a command.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Number      bool   `json:"number,omitempty"`
}

// Invocation is a single call of a command by an author.
type Invocation struct {
	Author string            `json:"author"`
	Args   map[string]string `json:"args"`
}

// Arg returns the named argument, or def when it is missing or blank.
func (i Invocation) Arg(name, def string) string {
	if v, ok := i.Args[name]; ok && v != "" {
		return v
	}
	return def
}

// Command is the interface for all commands
type Command interface {
	Name() string
	Description() string
	Params() []Param
	Run(ctx context.Context, inv Invocation) (string, error)
}

// ArgsFromAny converts decoded JSON arguments to the string form commands
// take. Numbers keep their shortest representation.
func ArgsFromAny(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
