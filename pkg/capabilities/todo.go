package capabilities

import (
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

// TodoItem is one entry in the task list.
type TodoItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Due         string    `json:"due,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Done        bool      `json:"done"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Todo manages a task list persisted as a single JSON file.
type Todo struct {
	path   string
	logger zerolog.Logger

	mu sync.Mutex
}

func NewTodo(path string, logger zerolog.Logger) *Todo {
	return &Todo{
		path:   path,
		logger: logger.With().Str("component", "todo").Logger(),
	}
}

func (t *Todo) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "todo",
		Version:     "1.0.0",
		Category:    "productivity",
		Description: "Personal task list: add, list, complete and remove items",
		Actions: []capability.ActionSpec{
			{
				Name:        "add",
				Description: "Add a task",
				Parameters: []capability.ParamSpec{
					{Name: "title", Type: "string", Description: "What needs doing", Required: true},
					{Name: "due", Type: "string", Description: "Due date or free-form deadline"},
					{Name: "priority", Type: "string", Enum: []string{"low", "normal", "high"}},
					{Name: "notes", Type: "string", Description: "Extra context"},
				},
			},
			{
				Name:        "list",
				Description: "List tasks",
				Parameters: []capability.ParamSpec{
					{Name: "status", Type: "string", Enum: []string{"open", "done", "all"}, Default: "open"},
				},
			},
			{
				Name:        "complete",
				Description: "Mark a task done",
				Parameters: []capability.ParamSpec{
					{Name: "id", Type: "string", Required: true},
				},
			},
			{
				Name:        "remove",
				Description: "Delete a task",
				Parameters: []capability.ParamSpec{
					{Name: "id", Type: "string", Required: true},
				},
			},
		},
	}
}

func (t *Todo) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch action {
	case "add":
		return t.add(params)
	case "list", "":
		return t.list(params)
	case "complete":
		return t.setDone(params)
	case "remove":
		return t.remove(params)
	default:
		return nil, fmt.Errorf("todo does not support action %q", action)
	}
}

func (t *Todo) add(params map[string]any) (map[string]any, error) {
	title, err := requireString(params, "title")
	if err != nil {
		return nil, err
	}

	item := TodoItem{
		Title:     strings.TrimSpace(title),
		Priority:  "normal",
		CreatedAt: time.Now(),
	}
	if due, ok := stringParam(params, "due"); ok {
		item.Due = due
	}
	if prio, ok := stringParam(params, "priority"); ok && prio != "" {
		switch prio {
		case "low", "normal", "high":
			item.Priority = prio
		default:
			return nil, fmt.Errorf("priority must be low, normal or high, got %q", prio)
		}
	}
	if notes, ok := stringParam(params, "notes"); ok {
		item.Notes = notes
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	item.ID = id

	items, err := t.load()
	if err != nil {
		return nil, err
	}
	items = append(items, item)
	if err := t.save(items); err != nil {
		return nil, err
	}

	t.logger.Info().Str("id", item.ID).Str("title", item.Title).Msg("Todo added")
	return map[string]any{
		"id":    item.ID,
		"title": item.Title,
		"due":   item.Due,
		"count": len(items),
	}, nil
}

func (t *Todo) list(params map[string]any) (map[string]any, error) {
	status, _ := stringParam(params, "status")
	if status == "" {
		status = "open"
	}
	if status != "open" && status != "done" && status != "all" {
		return nil, fmt.Errorf("status must be open, done or all, got %q", status)
	}

	items, err := t.load()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, it := range items {
		if status == "open" && it.Done || status == "done" && !it.Done {
			continue
		}
		entry := map[string]any{
			"id":    it.ID,
			"title": it.Title,
			"done":  it.Done,
		}
		if it.Due != "" {
			entry["due"] = it.Due
		}
		if it.Priority != "" {
			entry["priority"] = it.Priority
		}
		out = append(out, entry)
	}

	return map[string]any{
		"items": out,
		"count": len(out),
	}, nil
}

func (t *Todo) setDone(params map[string]any) (map[string]any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}

	items, err := t.load()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID != id {
			continue
		}
		items[i].Done = true
		items[i].CompletedAt = time.Now()
		if err := t.save(items); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "title": items[i].Title, "done": true}, nil
	}
	return nil, fmt.Errorf("no task with id %q", id)
}

func (t *Todo) remove(params map[string]any) (map[string]any, error) {
	id, err := requireString(params, "id")
	if err != nil {
		return nil, err
	}

	items, err := t.load()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID != id {
			continue
		}
		removed := items[i]
		items = append(items[:i], items[i+1:]...)
		if err := t.save(items); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "title": removed.Title, "count": len(items)}, nil
	}
	return nil, fmt.Errorf("no task with id %q", id)
}

func (t *Todo) load() ([]TodoItem, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read todo list: %w", err)
	}
	var items []TodoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("todo list is corrupt: %w", err)
	}
	return items, nil
}

func (t *Todo) save(items []TodoItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write todo list: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace todo list: %w", err)
	}
	return nil
}
