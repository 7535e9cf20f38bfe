package capabilities

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// Note is one saved note.
type Note struct {
	ID    string    `json:"id"`
	Title string    `json:"title,omitempty"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Notes stores free-form notes in an append-only JSONL file. Lines that
// fail to parse are skipped on read so one bad write cannot poison the
// whole collection.
type Notes struct {
	path   string
	logger zerolog.Logger

	mu sync.Mutex
}

func NewNotes(path string, logger zerolog.Logger) *Notes {
	return &Notes{
		path:   path,
		logger: logger.With().Str("component", "notes").Logger(),
	}
}

func (n *Notes) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "notes",
		Version:     "1.0.0",
		Category:    "productivity",
		Description: "Free-form notes: jot something down, list recent notes, search by keyword",
		Actions: []capability.ActionSpec{
			{
				Name:        "add",
				Description: "Save a note",
				Parameters: []capability.ParamSpec{
					{Name: "text", Type: "string", Description: "Note body", Required: true},
					{Name: "title", Type: "string", Description: "Optional short title"},
				},
			},
			{
				Name:        "list",
				Description: "List notes, newest first",
				Parameters: []capability.ParamSpec{
					{Name: "limit", Type: "integer", Description: "Maximum notes to return", Default: 10},
				},
			},
			{
				Name:        "search",
				Description: "Find notes containing a phrase",
				Parameters: []capability.ParamSpec{
					{Name: "query", Type: "string", Required: true},
					{Name: "limit", Type: "integer", Default: 10},
				},
			},
		},
	}
}

func (n *Notes) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch action {
	case "add":
		return n.add(params)
	case "list", "":
		return n.list(params)
	case "search":
		return n.search(params)
	default:
		return nil, fmt.Errorf("notes does not support action %q", action)
	}
}

func (n *Notes) add(params map[string]any) (map[string]any, error) {
	text, err := requireString(params, "text")
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	note := Note{ID: id, Text: strings.TrimSpace(text), At: time.Now()}
	if title, ok := stringParam(params, "title"); ok {
		note.Title = strings.TrimSpace(title)
	}

	line, err := json.Marshal(note)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open notes file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append note: %w", err)
	}

	n.logger.Info().Str("id", note.ID).Msg("Note saved")
	return map[string]any{"id": note.ID, "title": note.Title}, nil
}

func (n *Notes) list(params map[string]any) (map[string]any, error) {
	limit := 10
	if v, ok := intParam(params, "limit"); ok && v > 0 {
		limit = v
	}

	all, err := n.loadAll()
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	reverse(all)

	return map[string]any{"notes": notesPayload(all), "count": len(all)}, nil
}

func (n *Notes) search(params map[string]any) (map[string]any, error) {
	query, err := requireString(params, "query")
	if err != nil {
		return nil, err
	}
	limit := 10
	if v, ok := intParam(params, "limit"); ok && v > 0 {
		limit = v
	}

	needle := strings.ToLower(query)
	all, err := n.loadAll()
	if err != nil {
		return nil, err
	}

	var hits []Note
	for i := len(all) - 1; i >= 0 && len(hits) < limit; i-- {
		if strings.Contains(strings.ToLower(all[i].Text), needle) ||
			strings.Contains(strings.ToLower(all[i].Title), needle) {
			hits = append(hits, all[i])
		}
	}

	return map[string]any{"notes": notesPayload(hits), "count": len(hits), "query": query}, nil
}

func (n *Notes) loadAll() ([]Note, error) {
	f, err := os.Open(n.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open notes file: %w", err)
	}
	defer f.Close()

	var notes []Note
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var note Note
		if err := json.Unmarshal([]byte(line), &note); err != nil {
			n.logger.Warn().Err(err).Msg("Skipping unreadable note line")
			continue
		}
		notes = append(notes, note)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan notes file: %w", err)
	}
	return notes, nil
}

func notesPayload(notes []Note) []map[string]any {
	out := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		entry := map[string]any{
			"id":   note.ID,
			"text": note.Text,
			"at":   note.At.Format(time.RFC3339),
		}
		if note.Title != "" {
			entry["title"] = note.Title
		}
		out = append(out, entry)
	}
	return out
}

func reverse(notes []Note) {
	for i, j := 0, len(notes)-1; i < j; i, j = i+1, j-1 {
		notes[i], notes[j] = notes[j], notes[i]
	}
}
