package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/antonets/toolbridge/internal/session"
	"github.com/antonets/toolbridge/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The MCP surface mirrors
// the runtime object tool scripts see, scoped to this machine's device
// identity.
type MCPDeps struct {
	Store   *storage.Store
	Session *session.Manager
}

// NewMCPServer creates an MCP server exposing the memory store and tool
// catalog over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"toolbridge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("toolbridge: per-tool key/value memory and micro-tool catalog for this device."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("memory_list",
			mcp.WithDescription("List all memory entries stored for a tool on this device."),
			mcp.WithString("tool_id", mcp.Description("Tool identifier"), mcp.Required()),
		),
		mcpMemoryList(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_get",
			mcp.WithDescription("Read one memory value for a tool; returns the fallback when absent."),
			mcp.WithString("tool_id", mcp.Description("Tool identifier"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Memory key"), mcp.Required()),
			mcp.WithString("fallback", mcp.Description("JSON value returned when the key is absent")),
		),
		mcpMemoryGet(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_set",
			mcp.WithDescription("Upsert one memory value for a tool."),
			mcp.WithString("tool_id", mcp.Description("Tool identifier"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Memory key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("JSON-encoded value to store"), mcp.Required()),
		),
		mcpMemorySet(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_remove",
			mcp.WithDescription("Remove one memory key for a tool. Removing an absent key succeeds."),
			mcp.WithString("tool_id", mcp.Description("Tool identifier"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Memory key"), mcp.Required()),
		),
		mcpMemoryRemove(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tools",
			mcp.WithDescription("List micro-tools stored in the local catalog."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListTools(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"toolbridge://session",
			"Device Session",
			mcp.WithResourceDescription("The anonymous session id attributing this device's memory"),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			body, err := json.Marshal(map[string]string{"sessionId": deps.Session.EnsureSessionID()})
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      req.Params.URI,
					MIMEType: "application/json",
					Text:     string(body),
				},
			}, nil
		},
	)

	return s
}

func (d MCPDeps) scope() string {
	return scopeSession + d.Session.EnsureSessionID()
}

func mcpMemoryList(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolID, err := req.RequireString("tool_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		rows, err := deps.Store.ListMemories(toolID, deps.scope())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing memory: %v", err)), nil
		}

		entries := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, map[string]any{
				"memoryKey":   row.Key,
				"memoryValue": json.RawMessage(row.Value),
				"updatedAt":   row.UpdatedAt,
			})
		}
		body, err := json.Marshal(map[string]any{"memories": entries})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func mcpMemoryGet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolID, err := req.RequireString("tool_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fallback := req.GetString("fallback", "null")

		entry, err := deps.Store.GetMemory(toolID, deps.scope(), key)
		if err != nil {
			// Absent keys (and read failures) resolve to the fallback.
			return mcp.NewToolResultText(fallback), nil
		}
		return mcp.NewToolResultText(entry.Value), nil
	}
}

func mcpMemorySet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolID, err := req.RequireString("tool_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !json.Valid([]byte(value)) {
			// Store plain strings as JSON strings rather than rejecting.
			encoded, err := json.Marshal(value)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encoding value: %v", err)), nil
			}
			value = string(encoded)
		}

		entry, err := deps.Store.UpsertMemory(toolID, deps.scope(), key, value)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("saving memory: %v", err)), nil
		}
		body, err := json.Marshal(map[string]any{
			"memoryKey":   entry.Key,
			"memoryValue": json.RawMessage(entry.Value),
			"updatedAt":   entry.UpdatedAt,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func mcpMemoryRemove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolID, err := req.RequireString("tool_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		err = deps.Store.DeleteMemory(toolID, deps.scope(), key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("removing memory: %v", err)), nil
		}
		return mcp.NewToolResultText(`{"status":"removed"}`), nil
	}
}

func mcpListTools(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		tools, err := deps.Store.ListTools(limit, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing tools: %v", err)), nil
		}

		summaries := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			summaries = append(summaries, map[string]any{
				"id":         t.ID,
				"title":      t.Title,
				"summary":    t.Summary,
				"memoryMode": t.MemoryMode,
				"published":  t.PublishedSlug != "",
			})
		}
		body, err := json.Marshal(summaries)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
