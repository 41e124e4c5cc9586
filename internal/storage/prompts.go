package storage

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pstash/internal/tags"
)

// Timestamps are stored as RFC3339Nano TEXT so that ordering stays stable
// when two mutations land within the same second.
func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// encodeTags serializes without HTML escaping so that tags containing &, <,
// or > stay searchable as literal substrings of the stored column.
func encodeTags(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func decodeTags(value string) []string {
	var list []string
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil
	}
	return list
}

const promptColumns = "id, title, content, tags, is_favorite, score_avg, score_count, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (Prompt, error) {
	var p Prompt
	var tagsRaw, createdAt, updatedAt string
	var favorite int
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &tagsRaw, &favorite,
		&p.ScoreAvg, &p.ScoreCount, &createdAt, &updatedAt); err != nil {
		return Prompt{}, err
	}
	p.Tags = decodeTags(tagsRaw)
	p.IsFavorite = favorite == 1
	var err error
	if p.CreatedAt, err = parseStamp(createdAt); err != nil {
		return Prompt{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseStamp(updatedAt); err != nil {
		return Prompt{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// CreatePrompt inserts a new prompt, assigning its id and timestamps. Tags
// are deduplicated case-insensitively, keeping first-seen casing. No version
// row is written; a new prompt's initial content is implicit in the prompt
// itself.
func (s *Store) CreatePrompt(title, content string, tagList []string, isFavorite bool) (Prompt, error) {
	now := nowStamp()
	res, err := s.db.Exec(`
		INSERT INTO prompts (title, content, tags, is_favorite, score_avg, score_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		title, content, encodeTags(tags.Parse(tagList)), boolToInt(isFavorite), now, now,
	)
	if err != nil {
		return Prompt{}, fmt.Errorf("inserting prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Prompt{}, fmt.Errorf("reading new prompt id: %w", err)
	}
	return s.GetPrompt(id)
}

// UpdatePrompt overwrites an existing prompt. When the new content differs
// from the stored content, a version snapshot of the previous content is
// written first, inside the same transaction, so the pre-edit text is always
// recoverable. updated_at refreshes regardless of whether content changed;
// metadata-only edits produce no version.
func (s *Store) UpdatePrompt(id int64, title, content string, tagList []string, isFavorite bool, changeNote string) (Prompt, error) {
	now := nowStamp()

	tx, err := s.db.Begin()
	if err != nil {
		return Prompt{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	var oldContent string
	err = tx.QueryRow("SELECT content FROM prompts WHERE id = ?", id).Scan(&oldContent)
	if err == sql.ErrNoRows {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, fmt.Errorf("reading current content: %w", err)
	}

	if oldContent != content {
		if _, err := tx.Exec(`
			INSERT INTO prompt_versions (prompt_id, content, change_note, created_at)
			VALUES (?, ?, ?, ?)`,
			id, oldContent, strings.TrimSpace(changeNote), now,
		); err != nil {
			return Prompt{}, fmt.Errorf("writing version snapshot: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE prompts SET title = ?, content = ?, tags = ?, is_favorite = ?, updated_at = ?
		WHERE id = ?`,
		title, content, encodeTags(tags.Parse(tagList)), boolToInt(isFavorite), now, id,
	); err != nil {
		return Prompt{}, fmt.Errorf("updating prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Prompt{}, fmt.Errorf("committing update: %w", err)
	}
	return s.GetPrompt(id)
}

// GetPrompt returns the prompt with the given id, or ErrNotFound.
func (s *Store) GetPrompt(id int64) (Prompt, error) {
	row := s.db.QueryRow("SELECT "+promptColumns+" FROM prompts WHERE id = ?", id)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// DeletePrompt removes a prompt together with all its versions and usage
// logs (foreign-key cascade), as one atomic unit.
func (s *Store) DeletePrompt(id int64) error {
	res, err := s.db.Exec("DELETE FROM prompts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting prompt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPrompts returns prompts matching opts. Search matches the title,
// content, or any tag as a case-insensitive substring; Tag narrows to
// prompts whose tag set contains it exactly (case-insensitive). Both filters
// compose with AND.
func (s *Store) ListPrompts(opts ListOptions) ([]Prompt, error) {
	sb := strings.Builder{}
	sb.WriteString("SELECT " + promptColumns + " FROM prompts WHERE 1 = 1")
	var args []any

	if search := strings.TrimSpace(opts.Search); search != "" {
		sb.WriteString(" AND (lower(title) LIKE ? OR lower(content) LIKE ? OR lower(tags) LIKE ?)")
		pattern := "%" + strings.ToLower(search) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	switch opts.Sort {
	case SortScore:
		// Unrated prompts rank after all rated ones regardless of their
		// default average.
		sb.WriteString(" ORDER BY (score_count = 0) ASC, score_avg DESC, updated_at DESC")
	case SortCreated:
		sb.WriteString(" ORDER BY created_at DESC, id DESC")
	default:
		sb.WriteString(" ORDER BY updated_at DESC, id DESC")
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	defer rows.Close()

	tagFilter := strings.TrimSpace(opts.Tag)
	var results []Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		if tagFilter != "" && !tags.Contains(p.Tags, tagFilter) {
			continue
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// ListVersions returns the version history of a prompt, newest first. A
// prompt with no history (or no such prompt) yields an empty list.
func (s *Store) ListVersions(promptID int64) ([]PromptVersion, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt_id, content, change_note, created_at
		FROM prompt_versions WHERE prompt_id = ?
		ORDER BY created_at DESC, id DESC`, promptID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []PromptVersion
	for rows.Next() {
		var v PromptVersion
		var createdAt string
		if err := rows.Scan(&v.ID, &v.PromptID, &v.Content, &v.ChangeNote, &createdAt); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseStamp(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListTags computes the derived tag index by folding the tag sets of all
// live prompts: case-insensitive counts under first-seen canonical casing,
// ordered by descending count then name.
func (s *Store) ListTags() ([]tags.Count, error) {
	rows, err := s.db.Query("SELECT tags FROM prompts")
	if err != nil {
		return nil, fmt.Errorf("scanning tags: %w", err)
	}
	defer rows.Close()

	var sets [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		sets = append(sets, decodeTags(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tags.Fold(sets), nil
}

// LogUsage appends a render-and-use event for a prompt. A non-nil rating
// folds into the prompt's running score average in the same transaction as
// the insert; a nil rating logs the use without touching the score.
func (s *Store) LogUsage(promptID int64, inputVars map[string]string, outputText string, rating *int64) (UsageLogEntry, error) {
	if inputVars == nil {
		inputVars = map[string]string{}
	}
	varsJSON, err := json.Marshal(inputVars)
	if err != nil {
		return UsageLogEntry{}, fmt.Errorf("encoding input vars: %w", err)
	}
	now := nowStamp()

	tx, err := s.db.Begin()
	if err != nil {
		return UsageLogEntry{}, fmt.Errorf("beginning usage transaction: %w", err)
	}
	defer tx.Rollback()

	var scoreAvg float64
	var scoreCount int64
	err = tx.QueryRow("SELECT score_avg, score_count FROM prompts WHERE id = ?", promptID).
		Scan(&scoreAvg, &scoreCount)
	if err == sql.ErrNoRows {
		return UsageLogEntry{}, ErrNotFound
	}
	if err != nil {
		return UsageLogEntry{}, fmt.Errorf("reading score state: %w", err)
	}

	var ratingVal any
	if rating != nil {
		ratingVal = *rating
	}
	res, err := tx.Exec(`
		INSERT INTO usage_logs (prompt_id, input_vars, output_text, rating, used_at)
		VALUES (?, ?, ?, ?, ?)`,
		promptID, string(varsJSON), outputText, ratingVal, now,
	)
	if err != nil {
		return UsageLogEntry{}, fmt.Errorf("inserting usage log: %w", err)
	}

	if rating != nil {
		nextCount := scoreCount + 1
		nextAvg := (scoreAvg*float64(scoreCount) + float64(*rating)) / float64(nextCount)
		if _, err := tx.Exec(
			"UPDATE prompts SET score_avg = ?, score_count = ? WHERE id = ?",
			nextAvg, nextCount, promptID,
		); err != nil {
			return UsageLogEntry{}, fmt.Errorf("updating score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return UsageLogEntry{}, fmt.Errorf("committing usage log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return UsageLogEntry{}, err
	}
	usedAt, err := parseStamp(now)
	if err != nil {
		return UsageLogEntry{}, err
	}
	return UsageLogEntry{
		ID:         id,
		PromptID:   promptID,
		InputVars:  inputVars,
		OutputText: outputText,
		Rating:     rating,
		UsedAt:     usedAt,
	}, nil
}

// ListUsage returns the most recent usage log entries for a prompt, newest
// first. Missing prompts yield an empty list.
func (s *Store) ListUsage(promptID int64, limit int) ([]UsageLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, prompt_id, input_vars, output_text, rating, used_at
		FROM usage_logs WHERE prompt_id = ?
		ORDER BY used_at DESC, id DESC LIMIT ?`, promptID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing usage logs: %w", err)
	}
	defer rows.Close()

	var entries []UsageLogEntry
	for rows.Next() {
		var e UsageLogEntry
		var varsRaw, usedAt string
		var rating sql.NullInt64
		if err := rows.Scan(&e.ID, &e.PromptID, &varsRaw, &e.OutputText, &rating, &usedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := rating.Int64
			e.Rating = &v
		}
		if err := json.Unmarshal([]byte(varsRaw), &e.InputVars); err != nil {
			return nil, fmt.Errorf("decoding input vars: %w", err)
		}
		if e.UsedAt, err = parseStamp(usedAt); err != nil {
			return nil, fmt.Errorf("parsing used_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ImportPrompts inserts every record as a brand-new prompt (fresh ids, fresh
// timestamps) in one transaction; a failure on any record applies nothing.
// Returns the number of prompts created.
func (s *Store) ImportPrompts(records []ImportedPrompt) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowStamp()
	var imported int64
	for _, rec := range records {
		scoreAvg := rec.ScoreAvg
		if rec.ScoreCount == 0 {
			scoreAvg = 0
		}
		res, err := tx.Exec(`
			INSERT INTO prompts (title, content, tags, is_favorite, score_avg, score_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Title, rec.Content, encodeTags(tags.Parse(rec.Tags)),
			boolToInt(rec.IsFavorite), scoreAvg, rec.ScoreCount, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("importing prompt %q: %w", rec.Title, err)
		}
		promptID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}

		for _, v := range rec.Versions {
			createdAt := now
			if !v.CreatedAt.IsZero() {
				createdAt = v.CreatedAt.UTC().Format(time.RFC3339Nano)
			}
			if _, err := tx.Exec(`
				INSERT INTO prompt_versions (prompt_id, content, change_note, created_at)
				VALUES (?, ?, ?, ?)`,
				promptID, v.Content, v.ChangeNote, createdAt,
			); err != nil {
				return 0, fmt.Errorf("importing version for %q: %w", rec.Title, err)
			}
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return imported, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
