package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/comigor/notarobot/internal/config"
	"github.com/comigor/notarobot/pkg/commands"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func newDispatcher() *commands.Dispatcher {
	reg := commands.NewRegistry()
	reg.Register(commands.NewDiceCommand())
	reg.Register(commands.NewHelloCommand())
	return commands.NewDispatcher(reg, config.LimitsConfig{}, nil)
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandler_Dispatches(t *testing.T) {
	h := handler(newDispatcher(), "dice")

	res, err := h(context.Background(), callReq("dice", map[string]any{"author": "u1", "rolls": float64(11)}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "I only have 10 dice.", text(t, res))
}

func TestHandler_RequiresAuthor(t *testing.T) {
	h := handler(newDispatcher(), "hello")

	res, err := h(context.Background(), callReq("hello", map[string]any{}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestToolFor(t *testing.T) {
	tool := toolFor(commands.NewDiceCommand())
	require.Equal(t, "dice", tool.Name)
	require.Equal(t, []string{"author"}, tool.InputSchema.Required)
	require.Contains(t, tool.InputSchema.Properties, "rolls")
	require.Equal(t, "number", tool.InputSchema.Properties["rolls"].(map[string]any)["type"])
}

func TestNew_ListsTools(t *testing.T) {
	s := New(newDispatcher(), "test")

	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"name":"dice"`)
	require.Contains(t, string(raw), `"name":"hello"`)
}
