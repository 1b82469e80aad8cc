package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loamdev/loam/internal/config"
	"github.com/loamdev/loam/internal/engine"
	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/events"
	"github.com/loamdev/loam/internal/remote"
	"github.com/loamdev/loam/internal/store"
)

// testSetup builds handlers over an engine backed by a temp SQLite
// mirror and the in-memory remote.
func testSetup(t *testing.T) (*Handlers, *engine.Engine) {
	t.Helper()

	baseDir := t.TempDir()
	db, err := store.InitDB(baseDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.Open(db)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	eng := engine.New(engine.Options{
		Store:   s,
		Gateway: remote.NewMemoryGateway(),
		Bus:     events.NewBus(nil),
	})
	return NewHandlers(eng, baseDir), eng
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultText extracts the text payload from a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", result.Content[0])
	}
	return text.Text
}

// decodeResult unmarshals a success result payload into out.
func decodeResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

// errorCode extracts the error code from an error result.
func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	return payload.Error.Code
}

func TestHandleMessageAppend_ThenThreadList(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	id := entity.MustNewID()
	result, err := h.HandleMessageAppend(ctx, makeRequest(map[string]any{
		"thread_id": id,
		"role":      "user",
		"content":   "hello from mcp",
	}))
	if err != nil {
		t.Fatalf("HandleMessageAppend failed: %v", err)
	}
	var msg entity.Message
	decodeResult(t, result, &msg)
	if msg.ThreadID != id || msg.Content != "hello from mcp" {
		t.Errorf("message = %+v", msg)
	}

	listResult, err := h.HandleThreadList(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleThreadList failed: %v", err)
	}
	var list struct {
		Threads []entity.Thread `json:"threads"`
		HasMore bool            `json:"has_more"`
	}
	decodeResult(t, listResult, &list)
	if len(list.Threads) != 1 || list.Threads[0].ID != id {
		t.Errorf("threads = %+v, want the implicitly created thread", list.Threads)
	}
}

func TestHandleThreadRename_Validation(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	if err := seedThread(eng, "t1", "old"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Blank title is rejected with a structured validation error.
	result, err := h.HandleThreadRename(ctx, makeRequest(map[string]any{
		"thread_id": "t1",
		"title":     "   ",
	}))
	if err != nil {
		t.Fatalf("HandleThreadRename failed: %v", err)
	}
	if code := errorCode(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}

	// Unknown thread is NOT_FOUND.
	result, err = h.HandleThreadRename(ctx, makeRequest(map[string]any{
		"thread_id": "nope",
		"title":     "fine",
	}))
	if err != nil {
		t.Fatalf("HandleThreadRename failed: %v", err)
	}
	if code := errorCode(t, result); code != "NOT_FOUND" {
		t.Errorf("code = %s, want NOT_FOUND", code)
	}
}

func TestHandleThreadTags_LimitSurfaced(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	if err := seedThread(eng, "t1", "tagged"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tags := make([]any, 11)
	for i := range tags {
		tags[i] = "tag"
	}
	result, err := h.HandleThreadTags(ctx, makeRequest(map[string]any{
		"thread_id": "t1",
		"tags":      tags,
	}))
	if err != nil {
		t.Fatalf("HandleThreadTags failed: %v", err)
	}
	if code := errorCode(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}
}

func TestHandleThreadBranch_CopiesMessages(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	src := entity.MustNewID()
	for _, content := range []string{"first", "second"} {
		if _, err := h.HandleMessageAppend(ctx, makeRequest(map[string]any{
			"thread_id": src, "role": "user", "content": content,
		})); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	result, err := h.HandleThreadBranch(ctx, makeRequest(map[string]any{
		"source_id": src,
		"title":     "the fork",
	}))
	if err != nil {
		t.Fatalf("HandleThreadBranch failed: %v", err)
	}
	var branch entity.Thread
	decodeResult(t, result, &branch)
	if branch.ID == src || branch.Title != "the fork" {
		t.Errorf("branch = %+v", branch)
	}

	msgsResult, err := h.HandleThreadMessages(ctx, makeRequest(map[string]any{
		"thread_id": branch.ID,
	}))
	if err != nil {
		t.Fatalf("HandleThreadMessages failed: %v", err)
	}
	var msgs struct {
		Messages []entity.Message `json:"messages"`
	}
	decodeResult(t, msgsResult, &msgs)
	if len(msgs.Messages) != 2 {
		t.Errorf("branch messages = %d, want 2", len(msgs.Messages))
	}
}

func TestHandleProjectDelete_Detaches(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	createResult, err := h.HandleProjectCreate(ctx, makeRequest(map[string]any{
		"name": "Research",
	}))
	if err != nil {
		t.Fatalf("HandleProjectCreate failed: %v", err)
	}
	var p entity.Project
	decodeResult(t, createResult, &p)

	if err := seedThread(eng, "x", "scoped"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := h.HandleThreadAssign(ctx, makeRequest(map[string]any{
		"thread_id": "x", "project_id": p.ID,
	})); err != nil {
		t.Fatalf("HandleThreadAssign failed: %v", err)
	}

	if _, err := h.HandleProjectDelete(ctx, makeRequest(map[string]any{
		"project_id": p.ID,
	})); err != nil {
		t.Fatalf("HandleProjectDelete failed: %v", err)
	}

	th, ok := eng.Thread("x")
	if !ok {
		t.Fatal("thread deleted along with project")
	}
	if th.ProjectID != nil {
		t.Errorf("ProjectID = %v, want detached", *th.ProjectID)
	}
}

func TestHandleCacheStatus(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	if err := seedThread(eng, "t1", "one"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := h.HandleCacheStatus(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleCacheStatus failed: %v", err)
	}
	var status engine.Status
	decodeResult(t, result, &status)
	if status.Counts[entity.TypeThread] != 1 {
		t.Errorf("thread count = %d, want 1", status.Counts[entity.TypeThread])
	}
	if status.PageSize == 0 {
		t.Error("page size missing from status")
	}
}

func TestHandleCacheExport(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	if err := seedThread(eng, "t1", "exported"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := h.HandleCacheExport(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleCacheExport failed: %v", err)
	}
	var out engine.ExportOutput
	decodeResult(t, result, &out)
	// seeding created a thread, its message, and the derived summary
	if out.Count != 3 {
		t.Errorf("export count = %d, want 3", out.Count)
	}
	if !strings.Contains(out.Path, "exports") {
		t.Errorf("export path = %s, want under exports dir", out.Path)
	}
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"thread_list", "bogus_tool"})
	if len(unknown) != 1 || unknown[0] != "bogus_tool" {
		t.Errorf("unknown = %v, want [bogus_tool]", unknown)
	}
}

func TestNewServer_SkipsDisabledTools(t *testing.T) {
	_, eng := testSetup(t)
	cfg := config.DefaultConfig()
	cfg.DisabledTools = []string{"thread_delete"}

	s := NewServer(eng, cfg, t.TempDir(), "test")
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

// seedThread puts a thread straight into the engine's store via the
// append path (the only public write that can create a thread), then
// renames it to the wanted title.
func seedThread(eng *engine.Engine, id, title string) error {
	ctx := context.Background()
	if _, err := eng.AppendMessage(ctx, id, "u1", entity.RoleUser, title, nil); err != nil {
		return err
	}
	_, err := eng.RenameThread(ctx, id, title)
	return err
}
