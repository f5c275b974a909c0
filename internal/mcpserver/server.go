// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz read tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/itemservice"
	"github.com/starford/ansuz/internal/metaindex"
)

// Server wraps the MCP server with Ansuz tools. All tool calls run as
// the principal given at construction, so ACLs apply the same way they
// do over HTTP.
type Server struct {
	mcp  *server.MCPServer
	svc  *itemservice.Service
	user string
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *itemservice.Service, user string) *Server {
	s := &Server{svc: svc, user: user}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Full-text search through wiki item content, names, and comments."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithBoolean("history", mcp.Description("Also search non-latest revisions")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("read_item",
		mcp.WithDescription("Read the latest content and metadata of a wiki item."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Item name (e.g. Project/Notes)")),
		mcp.WithString("namespace", mcp.Description("Optional namespace (empty for default)")),
		mcp.WithNumber("rev", mcp.Description("Optional revision number (0 for latest)")),
	), s.readItem)

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List wiki items, optionally restricted to a namespace or tag."),
		mcp.WithString("namespace", mcp.Description("Optional namespace filter")),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
	), s.listItems)

	s.mcp.AddTool(mcp.NewTool("item_history",
		mcp.WithDescription("List all revisions of a wiki item, delete tombstones included."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Item name")),
		mcp.WithString("namespace", mcp.Description("Optional namespace")),
	), s.itemHistory)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history := req.GetBool("history", false)

	hits, err := s.svc.Search(ctx, s.user, query, history, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns := req.GetString("namespace", "")
	rev := req.GetInt("rev", 0)

	detail, err := s.svc.Get(ctx, s.user, ns, name, rev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", name, err)), nil
	}
	if detail.Tombstone {
		return mcp.NewToolResultText(fmt.Sprintf("%s is deleted (revision %d is a tombstone)", name, detail.RevNumber)), nil
	}
	header := fmt.Sprintf("name: %s\ncontent-type: %s\nrevision: %d\n\n", detail.Name, detail.ContentType, detail.RevNumber)
	return mcp.NewToolResultText(header + detail.Content), nil
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := metaindex.Filter{
		Namespace: req.GetString("namespace", ""),
		Tag:       req.GetString("tag", ""),
		Limit:     -1,
	}
	entries, _, err := s.svc.List(ctx, s.user, f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) itemHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns := req.GetString("namespace", "")

	revs, err := s.svc.History(ctx, s.user, ns, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read history of %s: %v", name, err)), nil
	}
	out, _ := json.MarshalIndent(revs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
