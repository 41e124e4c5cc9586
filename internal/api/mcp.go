package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pstash/internal/codec"
	"github.com/kalambet/pstash/internal/storage"
	"github.com/kalambet/pstash/internal/template"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing the prompt store as tools and
// the full export document as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pstash",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pstash — local library of reusable prompt templates with tags, version history, and usage-based ratings."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_prompts",
			mcp.WithDescription("List stored prompt templates, optionally filtered by a search term and a tag."),
			mcp.WithString("search", mcp.Description("Case-insensitive substring matched against title, content, and tags")),
			mcp.WithString("tag", mcp.Description("Exact tag to filter by (case-insensitive)")),
			mcp.WithString("sort", mcp.Description("Sort order: updated, score, or created (default updated)")),
		),
		mcpFindPrompts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_prompt",
			mcp.WithDescription("Fetch one prompt template by id, including its variable placeholders."),
			mcp.WithNumber("id", mcp.Description("Prompt id"), mcp.Required()),
		),
		mcpGetPrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("render_prompt",
			mcp.WithDescription("Render a prompt template with variable values and log the use. Placeholders without a value stay literal."),
			mcp.WithNumber("id", mcp.Description("Prompt id"), mcp.Required()),
			mcp.WithString("variables", mcp.Description("JSON object mapping variable names to values")),
			mcp.WithNumber("rating", mcp.Description("Optional rating 1-5 folded into the prompt score")),
		),
		mcpRenderPrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("save_prompt",
			mcp.WithDescription("Create a prompt template, or update one when id is given (updates snapshot the previous content)."),
			mcp.WithNumber("id", mcp.Description("Prompt id to update; omit to create")),
			mcp.WithString("title", mcp.Description("Display title"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Template body, may contain {{variable}} placeholders"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Tags for categorization")),
			mcp.WithBoolean("favorite", mcp.Description("Mark as favorite")),
			mcp.WithString("change_note", mcp.Description("Annotation stored with the version snapshot on content changes")),
		),
		mcpSavePrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tags",
			mcp.WithDescription("List all tags with the number of prompts carrying each."),
		),
		mcpListTags(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"prompts://export",
			"Prompt Library Export",
			mcp.WithResourceDescription("Portable JSON document of all prompts with tags, scores, and version history"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceExport(deps),
	)

	return s
}

func mcpFindPrompts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sort := req.GetString("sort", storage.SortUpdated)
		switch sort {
		case storage.SortUpdated, storage.SortScore, storage.SortCreated:
		default:
			return mcpError(fmt.Sprintf("unknown sort %q", sort)), nil
		}

		prompts, err := deps.Store.ListPrompts(storage.ListOptions{
			Search: req.GetString("search", ""),
			Tag:    req.GetString("tag", ""),
			Sort:   sort,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("listing prompts failed: %v", err)), nil
		}
		if prompts == nil {
			prompts = []storage.Prompt{}
		}

		b, err := json.Marshal(prompts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal prompts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		prompt, err := deps.Store.GetPrompt(int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("prompt %d does not exist", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reading prompt failed: %v", err)), nil
		}

		result := struct {
			storage.Prompt
			Variables []string `json:"variables"`
		}{Prompt: prompt, Variables: template.ExtractVariables(prompt.Content)}
		if result.Variables == nil {
			result.Variables = []string{}
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal prompt: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRenderPrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		values := map[string]string{}
		if raw := req.GetString("variables", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &values); err != nil {
				return mcpError(fmt.Sprintf("invalid variables JSON: %v", err)), nil
			}
		}

		var rating *int64
		if r := req.GetInt("rating", 0); r != 0 {
			if r < 1 || r > 5 {
				return mcpError("rating must be between 1 and 5"), nil
			}
			v := int64(r)
			rating = &v
		}

		prompt, err := deps.Store.GetPrompt(int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("prompt %d does not exist", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reading prompt failed: %v", err)), nil
		}

		output := template.Render(prompt.Content, values)
		if _, err := deps.Store.LogUsage(prompt.ID, values, output, rating); err != nil {
			return mcpError(fmt.Sprintf("rendered but failed to log usage: %v", err)), nil
		}
		return mcpText(output), nil
	}
}

func mcpSavePrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || strings.TrimSpace(title) == "" {
			return mcpError("title is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcpError("content is required"), nil
		}

		tagList := req.GetStringSlice("tags", nil)
		favorite := req.GetBool("favorite", false)

		var prompt storage.Prompt
		if id := req.GetInt("id", 0); id != 0 {
			prompt, err = deps.Store.UpdatePrompt(int64(id), strings.TrimSpace(title), content,
				tagList, favorite, req.GetString("change_note", ""))
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("prompt %d does not exist", id)), nil
			}
		} else {
			prompt, err = deps.Store.CreatePrompt(strings.TrimSpace(title), content, tagList, favorite)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("saving prompt failed: %v", err)), nil
		}

		b, err := json.Marshal(prompt)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal prompt: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTags(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tagCounts, err := deps.Store.ListTags()
		if err != nil {
			return mcpError(fmt.Sprintf("listing tags failed: %v", err)), nil
		}
		if len(tagCounts) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(tagCounts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tags: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceExport(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := codec.Export(deps.Store)
		if err != nil {
			return nil, fmt.Errorf("exporting prompts: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
