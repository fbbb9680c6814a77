// Package toolserver exposes the marketplace to AI agents over MCP stdio.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"unstuck/internal/engine"
	"unstuck/internal/session"
)

// ToolServer wraps the mcp-go server around the engine.
type ToolServer struct {
	mcpServer *server.MCPServer
	engine    engine.Engine
	session   *session.Session
}

func New(e engine.Engine, sess *session.Session) *ToolServer {
	mcpServer := server.NewMCPServer(
		"Unstuck MCP Server",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s := &ToolServer{
		mcpServer: mcpServer,
		engine:    e,
		session:   sess,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *ToolServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *ToolServer) registerTools() {
	s.registerListTasksTool()
	s.registerGetTaskTool()
	s.registerPostTaskTool()
	s.registerPlaceBidTool()
	s.registerSubmitWorkTool()
	s.registerGetProfileTool()
	s.registerSearchTool()
}

func (s *ToolServer) connect(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	return s.session.EnsureConnected(ctx)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func (s *ToolServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List marketplace tasks with their bids, work and derived status"),
		mcp.WithString("status", mcp.Description("Filter by status: bidding, working or completed")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		items, err := s.engine.Load(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}
		status := toString(request.GetArguments()["status"])
		if status != "" {
			filtered := items[:0]
			for _, item := range items {
				if string(item.Status) == status {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}
		payload, _ := json.MarshalIndent(items, "", "  ")
		return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%s", len(items), payload)), nil
	})
}

func (s *ToolServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get one task with its bid, work and status"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id of the task")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		agg, err := s.engine.LoadOne(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		payload, _ := json.MarshalIndent(agg, "", "  ")
		return mcp.NewToolResultText(fmt.Sprintf("Task details:\n\n%s", payload)), nil
	})
}

func (s *ToolServer) registerPostTaskTool() {
	tool := mcp.NewTool("post_task",
		mcp.WithDescription("Post a new task to the marketplace"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Longer task description")),
		mcp.WithString("image", mcp.Description("Image URL the task refers to")),
		mcp.WithNumber("max_price_sats", mcp.Description("Maximum price in satoshis")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		args := request.GetArguments()
		task, err := s.engine.PostTask(ctx, engine.TaskPostOptions{
			Title:       title,
			Description: toString(args["description"]),
			Image:       toString(args["image"]),
			MaxPrice:    toInt64(args["max_price_sats"]),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to post task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task posted with id %s", task.ID())), nil
	})
}

func (s *ToolServer) registerPlaceBidTool() {
	tool := mcp.NewTool("place_bid",
		mcp.WithDescription("Place a bid on a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id of the task")),
		mcp.WithNumber("amount_sats", mcp.Required(), mcp.Description("Bid amount in satoshis")),
		mcp.WithString("invoice", mcp.Description("BOLT11 invoice to attach")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()
		amount := toInt64(args["amount_sats"])
		if amount <= 0 {
			return mcp.NewToolResultError("amount_sats must be positive"), nil
		}
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		agg, err := s.engine.LoadOne(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		bid, err := s.engine.PlaceBid(ctx, engine.BidOptions{
			TaskID:     taskID,
			TaskAuthor: agg.Task.Author(),
			Amount:     amount,
			Invoice:    toString(args["invoice"]),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to place bid: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Bid %s placed for %d sats on task %s", bid.Event.ID, bid.Amount, taskID)), nil
	})
}

func (s *ToolServer) registerSubmitWorkTool() {
	tool := mcp.NewTool("submit_work",
		mcp.WithDescription("Submit work for a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Event id of the task")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Work result: free text, or an action list when format is json")),
		mcp.WithString("format", mcp.Description("Content format: text or json")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		agg, err := s.engine.LoadOne(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		work, err := s.engine.SubmitWork(ctx, engine.WorkOptions{
			TaskID:     taskID,
			TaskAuthor: agg.Task.Author(),
			Content:    content,
			Format:     toString(request.GetArguments()["format"]),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to submit work: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Work %s submitted for task %s", work.Event.ID, taskID)), nil
	})
}

// registerSearchTool is a placeholder web-search tool returning canned
// results, for exercising agent loops offline.
// TODO: back this with a real search provider once one is picked.
func (s *ToolServer) registerSearchTool() {
	tool := mcp.NewTool("search",
		mcp.WithDescription("Search the web (stub: returns canned results)"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		results := []map[string]string{
			{"title": "Result 1 for " + query, "url": "https://example.com/1"},
			{"title": "Result 2 for " + query, "url": "https://example.com/2"},
		}
		payload, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(fmt.Sprintf("Search results:\n\n%s", payload)), nil
	})
}

func (s *ToolServer) registerGetProfileTool() {
	tool := mcp.NewTool("get_profile",
		mcp.WithDescription("Get the published profile for a pubkey"),
		mcp.WithString("pubkey", mcp.Required(), mcp.Description("Hex pubkey to look up")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pubkey, err := request.RequireString("pubkey")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.connect(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
		}
		p, err := s.session.Profile(ctx, pubkey)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get profile: %v", err)), nil
		}
		payload, _ := json.MarshalIndent(p, "", "  ")
		return mcp.NewToolResultText(fmt.Sprintf("Profile:\n\n%s", payload)), nil
	})
}
