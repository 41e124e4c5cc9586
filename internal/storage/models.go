package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested prompt does not exist.
var ErrNotFound = errors.New("not found")

// Prompt is the primary record: a titled, tagged text template with a
// favorite flag and a usage-derived score.
type Prompt struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags"`
	IsFavorite bool      `json:"isFavorite"`
	ScoreAvg   float64   `json:"scoreAvg"`
	ScoreCount int64     `json:"scoreCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PromptVersion is an immutable snapshot of a prompt's content taken just
// before an edit replaced it.
type PromptVersion struct {
	ID         int64     `json:"id"`
	PromptID   int64     `json:"promptId"`
	Content    string    `json:"content"`
	ChangeNote string    `json:"changeNote"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UsageLogEntry records one render-and-use event. Rating is nil when the
// use was not rated; unrated entries never affect the prompt score.
type UsageLogEntry struct {
	ID         int64             `json:"id"`
	PromptID   int64             `json:"promptId"`
	InputVars  map[string]string `json:"inputVars"`
	OutputText string            `json:"outputText"`
	Rating     *int64            `json:"rating"`
	UsedAt     time.Time         `json:"usedAt"`
}

// Sort modes for ListPrompts.
const (
	SortUpdated = "updated"
	SortScore   = "score"
	SortCreated = "created"
)

// ListOptions filters and orders a prompt listing. Search and Tag compose
// with logical AND; an empty Sort falls back to SortUpdated.
type ListOptions struct {
	Search string
	Tag    string
	Sort   string
}

// ImportedVersion is one history entry of an imported prompt.
type ImportedVersion struct {
	Content    string
	ChangeNote string
	CreatedAt  time.Time
}

// ImportedPrompt is one record of a validated import document. Imported
// prompts always become new rows; the store never deduplicates by title.
type ImportedPrompt struct {
	Title      string
	Content    string
	Tags       []string
	IsFavorite bool
	ScoreAvg   float64
	ScoreCount int64
	Versions   []ImportedVersion
}
