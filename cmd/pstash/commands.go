package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/pstash/internal/config"
)

// promptView mirrors the server's prompt JSON for display.
type promptView struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"isFavorite"`
	ScoreAvg   float64  `json:"scoreAvg"`
	ScoreCount int64    `json:"scoreCount"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
}

type upsertBody struct {
	ID         *int64   `json:"id,omitempty"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"isFavorite"`
	ChangeNote *string  `json:"changeNote,omitempty"`
}

func splitTags(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// truncate shortens s to at most max runes so multibyte characters are never
// split mid-sequence.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func parsePromptID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid prompt id %q", arg)
	}
	return id, nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts, optionally filtered and sorted",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		tag, _ := cmd.Flags().GetString("tag")
		sortBy, _ := cmd.Flags().GetString("sort")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if search != "" {
			q.Set("search", search)
		}
		if tag != "" {
			q.Set("tag", tag)
		}
		if sortBy != "" {
			q.Set("sort", sortBy)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/prompts"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var prompts []promptView
		if err := decodeJSON(resp, &prompts); err != nil {
			return err
		}

		if len(prompts) == 0 {
			fmt.Println("No prompts found.")
			return nil
		}
		if limit > 0 && len(prompts) > limit {
			prompts = prompts[:limit]
		}

		for _, p := range prompts {
			star := " "
			if p.IsFavorite {
				star = colorize(colorYellow, "★")
			}
			score := "unrated"
			if p.ScoreCount > 0 {
				score = fmt.Sprintf("%.1f (%d)", p.ScoreAvg, p.ScoreCount)
			}
			line := fmt.Sprintf("%s %s %s", colorize(colorCyan, fmt.Sprintf("#%d", p.ID)), star, colorize(colorBold, p.Title))
			if len(p.Tags) > 0 {
				line += "  [" + strings.Join(p.Tags, ", ") + "]"
			}
			line += "  " + score
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("search", "", "case-insensitive substring matched against title, content, and tags")
	listCmd.Flags().String("tag", "", "filter to prompts carrying this tag")
	listCmd.Flags().String("sort", "", "sort order: updated, score, or created")
	listCmd.Flags().Int("limit", 0, "truncate output to the first N prompts")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a prompt, its variables, and its content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/prompts/%d", id))
		if err != nil {
			return err
		}
		var p promptView
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		varsResp, err := client.get(cmd.Context(), fmt.Sprintf("/prompts/%d/variables", id))
		if err != nil {
			return err
		}
		var vars struct {
			Variables []string `json:"variables"`
		}
		if err := decodeJSON(varsResp, &vars); err != nil {
			return err
		}

		printStatus("Title", "%s", p.Title)
		printStatus("Tags", "%s", strings.Join(p.Tags, ", "))
		printStatus("Favorite", "%v", p.IsFavorite)
		if p.ScoreCount > 0 {
			printStatus("Score", "%.2f from %d ratings", p.ScoreAvg, p.ScoreCount)
		} else {
			printStatus("Score", "unrated")
		}
		printStatus("Variables", "%s", strings.Join(vars.Variables, ", "))
		printStatus("Updated", "%s", p.UpdatedAt)
		fmt.Println(p.Content)
		return nil
	},
}

// --- add / edit ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new prompt",
	Long: `Create a new prompt.

Examples:
  pstash add --title "Bug report" --content "Describe {{symptom}} in {{component}}" --tags triage,work
  pstash add --title "Review checklist" --file ./checklist.md --favorite`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, err := contentFromFlags(cmd)
		if err != nil {
			return err
		}
		tagsCSV, _ := cmd.Flags().GetString("tags")
		favorite, _ := cmd.Flags().GetBool("favorite")

		if title == "" {
			return fmt.Errorf("--title is required")
		}
		if content == "" {
			return fmt.Errorf("one of --content or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/prompts", upsertBody{
			Title:      title,
			Content:    content,
			Tags:       splitTags(tagsCSV),
			IsFavorite: favorite,
		})
		if err != nil {
			return err
		}
		var p promptView
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Created prompt #%d %q", p.ID, p.Title)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Update a prompt (content changes snapshot the previous version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/prompts/%d", id))
		if err != nil {
			return err
		}
		var current promptView
		if err := decodeJSON(resp, &current); err != nil {
			return err
		}

		body := upsertBody{
			ID:         &id,
			Title:      current.Title,
			Content:    current.Content,
			Tags:       current.Tags,
			IsFavorite: current.IsFavorite,
		}
		if cmd.Flags().Changed("title") {
			body.Title, _ = cmd.Flags().GetString("title")
		}
		if cmd.Flags().Changed("content") || cmd.Flags().Changed("file") {
			if body.Content, err = contentFromFlags(cmd); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("tags") {
			csv, _ := cmd.Flags().GetString("tags")
			body.Tags = splitTags(csv)
		}
		if cmd.Flags().Changed("favorite") {
			body.IsFavorite, _ = cmd.Flags().GetBool("favorite")
		}
		if cmd.Flags().Changed("note") {
			note, _ := cmd.Flags().GetString("note")
			body.ChangeNote = &note
		}

		saveResp, err := client.post(cmd.Context(), "/prompts", body)
		if err != nil {
			return err
		}
		var p promptView
		if err := decodeJSON(saveResp, &p); err != nil {
			return err
		}
		printSuccess("Updated prompt #%d %q", p.ID, p.Title)
		return nil
	},
}

func contentFromFlags(cmd *cobra.Command) (string, error) {
	content, _ := cmd.Flags().GetString("content")
	file, _ := cmd.Flags().GetString("file")
	if content != "" && file != "" {
		return "", fmt.Errorf("--content and --file are mutually exclusive")
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}
	return content, nil
}

func init() {
	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().String("title", "", "prompt title")
		c.Flags().String("content", "", "template body; may contain {{variable}} placeholders")
		c.Flags().String("file", "", "read the template body from a file")
		c.Flags().String("tags", "", "comma-separated tags")
		c.Flags().Bool("favorite", false, "mark as favorite")
	}
	editCmd.Flags().String("note", "", "change note stored with the version snapshot")
}

// --- rm ---

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a prompt with its versions and usage logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/prompts/%d", id))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp)
		}
		printSuccess("Deleted prompt #%d", id)
		return nil
	},
}

// --- versions ---

var versionsCmd = &cobra.Command{
	Use:   "versions <id>",
	Short: "Show a prompt's version history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/prompts/%d/versions", id))
		if err != nil {
			return err
		}

		var versions []struct {
			ID         int64  `json:"id"`
			Content    string `json:"content"`
			ChangeNote string `json:"changeNote"`
			CreatedAt  string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &versions); err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No versions recorded.")
			return nil
		}

		for _, v := range versions {
			header := fmt.Sprintf("version %d  %s", v.ID, v.CreatedAt)
			if v.ChangeNote != "" {
				header += "  — " + v.ChangeNote
			}
			fmt.Println(colorize(colorBold, header))
			fmt.Println("  " + strings.ReplaceAll(truncate(v.Content, 200), "\n", "\n  "))
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show recent uses of a prompt, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/prompts/%d/usage", id)
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var entries []struct {
			UsedAt     string `json:"usedAt"`
			OutputText string `json:"outputText"`
			Rating     *int64 `json:"rating"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No usage recorded.")
			return nil
		}
		for _, e := range entries {
			rating := "-"
			if e.Rating != nil {
				rating = fmt.Sprintf("%d/5", *e.Rating)
			}
			preview := strings.ReplaceAll(truncate(e.OutputText, 80), "\n", " ")
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, e.UsedAt), rating, preview)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "number of entries to show (default 50)")
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render <id>",
	Short: "Render a prompt with variable values and log the use",
	Long: `Render a prompt with variable values and log the use.

The rendered text goes to stdout so it can be piped; placeholders without a
supplied value are kept literal and reported on stderr.

Examples:
  pstash render 3 --var symptom="panic on start" --var component=server
  pstash render 3 --var name=Ada --rate 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePromptID(args[0])
		if err != nil {
			return err
		}
		varFlags, _ := cmd.Flags().GetStringArray("var")
		rate, _ := cmd.Flags().GetInt("rate")

		values := map[string]string{}
		for _, kv := range varFlags {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --var %q, expected name=value", kv)
			}
			values[name] = value
		}

		body := map[string]any{"variables": values}
		if cmd.Flags().Changed("rate") {
			body["rating"] = rate
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/prompts/%d/render", id), body)
		if err != nil {
			return err
		}

		var result struct {
			Output  string   `json:"output"`
			Missing []string `json:"missing"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Missing) > 0 {
			printWarning("unresolved variables: %s", strings.Join(result.Missing, ", "))
		}
		fmt.Println(result.Output)
		return nil
	},
}

func init() {
	renderCmd.Flags().StringArray("var", nil, "variable value as name=value (repeatable)")
	renderCmd.Flags().Int("rate", 0, "rate this use 1-5; folds into the prompt score")
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags with prompt counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/tags")
		if err != nil {
			return err
		}

		var tagCounts []struct {
			Name  string `json:"name"`
			Count int64  `json:"count"`
		}
		if err := decodeJSON(resp, &tagCounts); err != nil {
			return err
		}

		if len(tagCounts) == 0 {
			fmt.Println("No tags in use.")
			return nil
		}
		for _, t := range tagCounts {
			fmt.Printf("%s  %d\n", colorize(colorBold, t.Name), t.Count)
		}
		return nil
	},
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all prompts as a portable JSON document",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return responseError(resp)
		}

		var doc json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return err
		}

		if output == "" {
			fmt.Println(string(doc))
			return nil
		}
		if err := os.WriteFile(output, append([]byte(doc), '\n'), 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		printSuccess("Exported prompts to %s", output)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import prompts from an export document (always creates new prompts)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/import", json.RawMessage(data))
		if err != nil {
			return err
		}

		var result struct {
			Imported int64 `json:"imported"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d prompts", result.Imported)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
