package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pstash/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Store: store}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tools ---

func TestMCPSavePrompt_Create(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpSavePrompt(deps)

	result, err := handler(context.Background(), makeCallToolRequest("save_prompt", map[string]interface{}{
		"title":    "Greeting",
		"content":  "Hello {{name}}",
		"tags":     []interface{}{"work", "WORK"},
		"favorite": true,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var p storage.Prompt
	if err := json.Unmarshal([]byte(toolText(t, result)), &p); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if p.ID == 0 || p.Title != "Greeting" || !p.IsFavorite {
		t.Errorf("saved prompt = %+v", p)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "work" {
		t.Errorf("tags = %v, want deduplicated [work]", p.Tags)
	}

	got, err := store.GetPrompt(p.ID)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got.Content != "Hello {{name}}" {
		t.Errorf("stored content = %q", got.Content)
	}
}

func TestMCPSavePrompt_UpdateSnapshotsVersion(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p, err := store.CreatePrompt("Draft", "v1", nil, false)
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpSavePrompt(deps)
	result, err := handler(context.Background(), makeCallToolRequest("save_prompt", map[string]interface{}{
		"id":          float64(p.ID),
		"title":       "Draft",
		"content":     "v2",
		"change_note": "second pass",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	versions, err := store.ListVersions(p.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Content != "v1" || versions[0].ChangeNote != "second pass" {
		t.Errorf("versions = %+v", versions)
	}
}

func TestMCPSavePrompt_MissingTitle(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSavePrompt(deps)

	result, err := handler(context.Background(), makeCallToolRequest("save_prompt", map[string]interface{}{
		"content": "x",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing title")
	}
}

func TestMCPFindPrompts(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if _, err := store.CreatePrompt("Alpha", "quarterly", []string{"work"}, false); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}
	if _, err := store.CreatePrompt("Beta", "quarterly", []string{"fun"}, false); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpFindPrompts(deps)
	result, err := handler(context.Background(), makeCallToolRequest("find_prompts", map[string]interface{}{
		"search": "quarterly",
		"tag":    "work",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var prompts []storage.Prompt
	if err := json.Unmarshal([]byte(toolText(t, result)), &prompts); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(prompts) != 1 || prompts[0].Title != "Alpha" {
		t.Errorf("prompts = %+v, want only Alpha", prompts)
	}
}

func TestMCPFindPrompts_BadSort(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpFindPrompts(deps)

	result, err := handler(context.Background(), makeCallToolRequest("find_prompts", map[string]interface{}{
		"sort": "bogus",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for unknown sort")
	}
}

func TestMCPGetPrompt(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p, err := store.CreatePrompt("Tpl", "{{a}} and {{b}}", nil, false)
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpGetPrompt(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_prompt", map[string]interface{}{
		"id": float64(p.ID),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var got struct {
		storage.Prompt
		Variables []string `json:"variables"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("id = %d, want %d", got.ID, p.ID)
	}
	if len(got.Variables) != 2 || got.Variables[0] != "a" || got.Variables[1] != "b" {
		t.Errorf("variables = %v, want [a b]", got.Variables)
	}
}

func TestMCPGetPrompt_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetPrompt(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_prompt", map[string]interface{}{
		"id": float64(999),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing prompt")
	}
}

func TestMCPRenderPrompt(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p, err := store.CreatePrompt("Tpl", "Hello {{name}}", nil, false)
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpRenderPrompt(deps)
	result, err := handler(context.Background(), makeCallToolRequest("render_prompt", map[string]interface{}{
		"id":        float64(p.ID),
		"variables": `{"name":"Ada"}`,
		"rating":    float64(4),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Hello Ada" {
		t.Errorf("output = %q, want %q", got, "Hello Ada")
	}

	got, err := store.GetPrompt(p.ID)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got.ScoreCount != 1 || got.ScoreAvg != 4 {
		t.Errorf("score = %v/%d, want 4/1", got.ScoreAvg, got.ScoreCount)
	}
}

func TestMCPRenderPrompt_InvalidVariablesJSON(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p, err := store.CreatePrompt("Tpl", "x", nil, false)
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpRenderPrompt(deps)
	result, err := handler(context.Background(), makeCallToolRequest("render_prompt", map[string]interface{}{
		"id":        float64(p.ID),
		"variables": "not json",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for invalid variables JSON")
	}
}

func TestMCPListTags(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if _, err := store.CreatePrompt("A", "x", []string{"go", "sql"}, false); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpListTags(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_tags", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, `"go"`) || !strings.Contains(text, `"sql"`) {
		t.Errorf("tags output = %s", text)
	}
}

// --- resources ---

func TestMCPResourceExport(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if _, err := store.CreatePrompt("Portable", "body", nil, false); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	handler := mcpResourceExport(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("prompts://export"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if text.MIMEType != "application/json" {
		t.Errorf("mime = %q, want application/json", text.MIMEType)
	}

	var doc struct {
		Prompts []storage.Prompt `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(text.Text), &doc); err != nil {
		t.Fatalf("export resource not valid JSON: %v", err)
	}
	if len(doc.Prompts) != 1 || doc.Prompts[0].Title != "Portable" {
		t.Errorf("exported prompts = %+v", doc.Prompts)
	}
}
