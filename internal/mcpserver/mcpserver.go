// Package mcpserver exposes the command registry as MCP tools over stdio.
package mcpserver

import (
	"context"
	"io"

	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/pkg/commands"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const authorArg = "author"

// New builds an MCP server with one tool per registered command. Every tool
// takes the calling author plus the command's own params.
func New(d *commands.Dispatcher, version string) *server.MCPServer {
	s := server.NewMCPServer("notarobot", version, server.WithToolCapabilities(false))
	for _, cmd := range d.Registry().List() {
		s.AddTool(toolFor(cmd), handler(d, cmd.Name()))
	}
	return s
}

func toolFor(cmd commands.Command) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(cmd.Description()),
		mcp.WithString(authorArg, mcp.Required(), mcp.Description("Who is talking to the bot.")),
	}
	for _, p := range cmd.Params() {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		if p.Number {
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		} else {
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(cmd.Name(), opts...)
}

func handler(d *commands.Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := commands.ArgsFromAny(req.GetArguments())
		author := args[authorArg]
		if author == "" {
			return mcp.NewToolResultError("author is required"), nil
		}
		delete(args, authorArg)

		reply := d.Dispatch(ctx, name, commands.Invocation{Author: author, Args: args})
		return mcp.NewToolResultText(reply), nil
	}
}

// Serve speaks MCP on in/out until ctx is cancelled or in is closed.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	logger.L.Info("mcp server listening on stdio")
	return server.NewStdioServer(s).Listen(ctx, in, out)
}
