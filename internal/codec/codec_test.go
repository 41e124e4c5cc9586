package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kalambet/pstash/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportRoundTrip(t *testing.T) {
	src := openTestStore(t)

	p, err := src.CreatePrompt("Greeting", "Hello {{name}}", []string{"work"}, true)
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}
	if _, err := src.UpdatePrompt(p.ID, "Greeting", "Hi {{name}}", []string{"work"}, true, "shortened"); err != nil {
		t.Fatalf("UpdatePrompt: %v", err)
	}
	rating := int64(4)
	if _, err := src.LogUsage(p.ID, map[string]string{"name": "Ada"}, "Hi Ada", &rating); err != nil {
		t.Fatalf("LogUsage: %v", err)
	}

	data, err := Export(src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.ExportedAt.IsZero() {
		t.Error("exportedAt not set")
	}
	if len(doc.Prompts) != 1 {
		t.Fatalf("got %d exported prompts, want 1", len(doc.Prompts))
	}
	item := doc.Prompts[0]
	if item.Title != "Greeting" || item.Content != "Hi {{name}}" {
		t.Errorf("exported prompt = %q/%q", item.Title, item.Content)
	}
	if item.ScoreCount == nil || *item.ScoreCount != 1 {
		t.Errorf("exported scoreCount = %v, want 1", item.ScoreCount)
	}
	if len(item.Versions) != 1 || item.Versions[0].Content != "Hello {{name}}" {
		t.Fatalf("exported versions = %+v, want the pre-edit snapshot", item.Versions)
	}

	// Importing into a fresh store creates brand-new records carrying the
	// exported history.
	dst := openTestStore(t)
	imported, err := Import(dst, data)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported != 1 {
		t.Errorf("imported = %d, want 1", imported)
	}

	prompts, err := dst.ListPrompts(storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts after import, want 1", len(prompts))
	}
	got := prompts[0]
	if got.Title != "Greeting" || got.Content != "Hi {{name}}" || !got.IsFavorite {
		t.Errorf("imported prompt = %+v", got)
	}
	if got.ScoreAvg != 4 || got.ScoreCount != 1 {
		t.Errorf("imported score = %v/%d, want 4/1", got.ScoreAvg, got.ScoreCount)
	}

	versions, err := dst.ListVersions(got.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Content != "Hello {{name}}" || versions[0].ChangeNote != "shortened" {
		t.Errorf("imported versions = %+v", versions)
	}
}

func TestImport_AcceptsBareArray(t *testing.T) {
	dst := openTestStore(t)

	imported, err := Import(dst, []byte(`[{"title":"A","content":"body"}]`))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported != 1 {
		t.Errorf("imported = %d, want 1", imported)
	}
}

func TestImport_MalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not JSON", `not json at all`},
		{"wrong shape", `{"foo": 1}`},
		{"empty title", `[{"title":"  ","content":"body"}]`},
		{"empty content", `[{"title":"A","content":""}]`},
		{"negative scoreCount", `[{"title":"A","content":"b","scoreCount":-1}]`},
		{"negative scoreAvg", `[{"title":"A","content":"b","scoreAvg":-0.5}]`},
		{"scoreAvg without rated uses", `[{"title":"A","content":"b","scoreAvg":3.5,"scoreCount":0}]`},
		{"blank version content", `[{"title":"A","content":"b","versions":[{"content":"  "}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := openTestStore(t)
			_, err := Import(dst, []byte(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}

			prompts, listErr := dst.ListPrompts(storage.ListOptions{})
			if listErr != nil {
				t.Fatalf("ListPrompts: %v", listErr)
			}
			if len(prompts) != 0 {
				t.Errorf("rejected import still created %d prompts", len(prompts))
			}
		})
	}
}

func TestImport_OneBadRecordRejectsAll(t *testing.T) {
	dst := openTestStore(t)

	data := []byte(`{"prompts":[
		{"title":"Good","content":"fine"},
		{"title":"","content":"missing title"}
	]}`)
	if _, err := Import(dst, data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}

	prompts, err := dst.ListPrompts(storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(prompts) != 0 {
		t.Errorf("partial import applied %d prompts, want 0", len(prompts))
	}
}

func TestExport_EmptyStore(t *testing.T) {
	src := openTestStore(t)

	data, err := Export(src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.Prompts == nil || len(doc.Prompts) != 0 {
		t.Errorf("prompts = %v, want present empty array", doc.Prompts)
	}
}
