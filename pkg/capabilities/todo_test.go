package capabilities

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTodo(t *testing.T) *Todo {
	t.Helper()
	return NewTodo(filepath.Join(t.TempDir(), "todos.json"), zerolog.Nop())
}

func TestTodo_AddAndList(t *testing.T) {
	todo := newTestTodo(t)
	ctx := context.Background()

	added, err := todo.Execute(ctx, "add", map[string]any{
		"title": "buy milk",
		"due":   "tomorrow 9am",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added["id"])
	assert.Equal(t, "buy milk", added["title"])

	_, err = todo.Execute(ctx, "add", map[string]any{
		"title":    "file taxes",
		"priority": "high",
	})
	require.NoError(t, err)

	listed, err := todo.Execute(ctx, "list", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, listed["count"])

	items := listed["items"].([]map[string]any)
	require.Len(t, items, 2)
	assert.Equal(t, "buy milk", items[0]["title"])
	assert.Equal(t, "tomorrow 9am", items[0]["due"])
	assert.Equal(t, "high", items[1]["priority"])
}

func TestTodo_AddRequiresTitle(t *testing.T) {
	todo := newTestTodo(t)

	_, err := todo.Execute(context.Background(), "add", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestTodo_RejectsBadPriority(t *testing.T) {
	todo := newTestTodo(t)

	_, err := todo.Execute(context.Background(), "add", map[string]any{
		"title":    "x",
		"priority": "urgent",
	})
	require.Error(t, err)
}

func TestTodo_CompleteMovesItemToDone(t *testing.T) {
	todo := newTestTodo(t)
	ctx := context.Background()

	added, err := todo.Execute(ctx, "add", map[string]any{"title": "water plants"})
	require.NoError(t, err)
	id := added["id"].(string)

	done, err := todo.Execute(ctx, "complete", map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, true, done["done"])

	open, err := todo.Execute(ctx, "list", map[string]any{"status": "open"})
	require.NoError(t, err)
	assert.Equal(t, 0, open["count"])

	finished, err := todo.Execute(ctx, "list", map[string]any{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, 1, finished["count"])
}

func TestTodo_CompleteUnknownID(t *testing.T) {
	todo := newTestTodo(t)

	_, err := todo.Execute(context.Background(), "complete", map[string]any{"id": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestTodo_Remove(t *testing.T) {
	todo := newTestTodo(t)
	ctx := context.Background()

	added, err := todo.Execute(ctx, "add", map[string]any{"title": "old chore"})
	require.NoError(t, err)

	removed, err := todo.Execute(ctx, "remove", map[string]any{"id": added["id"]})
	require.NoError(t, err)
	assert.Equal(t, "old chore", removed["title"])

	listed, err := todo.Execute(ctx, "list", map[string]any{"status": "all"})
	require.NoError(t, err)
	assert.Equal(t, 0, listed["count"])
}

func TestTodo_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todos.json")
	ctx := context.Background()

	first := NewTodo(path, zerolog.Nop())
	_, err := first.Execute(ctx, "add", map[string]any{"title": "durable"})
	require.NoError(t, err)

	second := NewTodo(path, zerolog.Nop())
	listed, err := second.Execute(ctx, "list", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, listed["count"])
}

func TestTodo_RejectsUnknownAction(t *testing.T) {
	todo := newTestTodo(t)

	_, err := todo.Execute(context.Background(), "archive", nil)
	require.Error(t, err)
}

func TestTodo_Descriptor(t *testing.T) {
	desc := newTestTodo(t).Describe()
	require.NoError(t, desc.Validate())
	assert.Equal(t, "todo", desc.Name)
	assert.ElementsMatch(t, []string{"add", "list", "complete", "remove"}, desc.ActionNames())
}
