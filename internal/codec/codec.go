// Package codec serializes the full prompt set to a portable JSON document
// and validates documents on the way back in. Import is all-or-nothing: one
// structurally invalid record rejects the whole document.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pstash/internal/storage"
)

// ErrMalformed is returned when an import document fails schema validation.
var ErrMalformed = errors.New("malformed import document")

// Document is the export payload: every live prompt with its tags, favorite
// flag, score, timestamps, and version history.
type Document struct {
	ExportedAt time.Time    `json:"exportedAt"`
	Prompts    []PromptItem `json:"prompts"`
}

// PromptItem is one exported prompt. Pointer fields are optional on import.
type PromptItem struct {
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	Tags       []string      `json:"tags,omitempty"`
	IsFavorite *bool         `json:"isFavorite,omitempty"`
	ScoreAvg   *float64      `json:"scoreAvg,omitempty"`
	ScoreCount *int64        `json:"scoreCount,omitempty"`
	CreatedAt  *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time    `json:"updatedAt,omitempty"`
	Versions   []VersionItem `json:"versions,omitempty"`
}

// VersionItem is one exported history entry.
type VersionItem struct {
	Content    string     `json:"content"`
	ChangeNote string     `json:"changeNote,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// Exporter reads the record set to serialize.
// Implemented by storage.Store.
type Exporter interface {
	ListPrompts(opts storage.ListOptions) ([]storage.Prompt, error)
	ListVersions(promptID int64) ([]storage.PromptVersion, error)
}

// Importer applies a validated document atomically.
// Implemented by storage.Store.
type Importer interface {
	ImportPrompts(records []storage.ImportedPrompt) (int64, error)
}

// Export serializes every live prompt (newest updated first) with its
// version history into an indented JSON document.
func Export(src Exporter) ([]byte, error) {
	prompts, err := src.ListPrompts(storage.ListOptions{Sort: storage.SortUpdated})
	if err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}

	doc := Document{ExportedAt: time.Now().UTC(), Prompts: []PromptItem{}}
	for _, p := range prompts {
		versions, err := src.ListVersions(p.ID)
		if err != nil {
			return nil, fmt.Errorf("reading versions for prompt %d: %w", p.ID, err)
		}
		items := make([]VersionItem, 0, len(versions))
		for _, v := range versions {
			createdAt := v.CreatedAt
			items = append(items, VersionItem{
				Content:    v.Content,
				ChangeNote: v.ChangeNote,
				CreatedAt:  &createdAt,
			})
		}

		favorite := p.IsFavorite
		scoreAvg := p.ScoreAvg
		scoreCount := p.ScoreCount
		createdAt := p.CreatedAt
		updatedAt := p.UpdatedAt
		doc.Prompts = append(doc.Prompts, PromptItem{
			Title:      p.Title,
			Content:    p.Content,
			Tags:       p.Tags,
			IsFavorite: &favorite,
			ScoreAvg:   &scoreAvg,
			ScoreCount: &scoreCount,
			CreatedAt:  &createdAt,
			UpdatedAt:  &updatedAt,
			Versions:   items,
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}

// Import parses and validates jsonData, then creates every record as a new
// prompt. Both the wrapped {"prompts": [...]} form and a bare prompt array
// are accepted. Returns the number of prompts created.
func Import(dst Importer, jsonData []byte) (int64, error) {
	items, err := parseItems(jsonData)
	if err != nil {
		return 0, err
	}

	records := make([]storage.ImportedPrompt, 0, len(items))
	for i, item := range items {
		rec, err := validateItem(i, item)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}

	imported, err := dst.ImportPrompts(records)
	if err != nil {
		return 0, fmt.Errorf("applying import: %w", err)
	}
	return imported, nil
}

func parseItems(jsonData []byte) ([]PromptItem, error) {
	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err == nil && doc.Prompts != nil {
		return doc.Prompts, nil
	}

	var flat []PromptItem
	if err := json.Unmarshal(jsonData, &flat); err != nil {
		return nil, fmt.Errorf("%w: not a valid export document: %v", ErrMalformed, err)
	}
	return flat, nil
}

func validateItem(index int, item PromptItem) (storage.ImportedPrompt, error) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d has an empty title", ErrMalformed, index)
	}
	if strings.TrimSpace(item.Content) == "" {
		return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d (%q) has empty content", ErrMalformed, index, title)
	}

	var scoreCount int64
	if item.ScoreCount != nil {
		scoreCount = *item.ScoreCount
	}
	if scoreCount < 0 {
		return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d (%q) has negative scoreCount", ErrMalformed, index, title)
	}
	var scoreAvg float64
	if item.ScoreAvg != nil {
		scoreAvg = *item.ScoreAvg
	}
	if scoreAvg < 0 {
		return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d (%q) has negative scoreAvg", ErrMalformed, index, title)
	}
	if scoreCount == 0 && scoreAvg != 0 {
		return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d (%q) has a scoreAvg but no rated uses", ErrMalformed, index, title)
	}

	rec := storage.ImportedPrompt{
		Title:      title,
		Content:    item.Content,
		Tags:       item.Tags,
		ScoreAvg:   scoreAvg,
		ScoreCount: scoreCount,
	}
	if item.IsFavorite != nil {
		rec.IsFavorite = *item.IsFavorite
	}

	for j, v := range item.Versions {
		if strings.TrimSpace(v.Content) == "" {
			return storage.ImportedPrompt{}, fmt.Errorf("%w: prompt %d (%q) version %d has empty content", ErrMalformed, index, title, j)
		}
		iv := storage.ImportedVersion{Content: v.Content, ChangeNote: v.ChangeNote}
		if v.CreatedAt != nil {
			iv.CreatedAt = *v.CreatedAt
		}
		rec.Versions = append(rec.Versions, iv)
	}

	return rec, nil
}
