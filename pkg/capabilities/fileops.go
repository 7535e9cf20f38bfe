package capabilities

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// maxReadBytes caps file reads so a huge file cannot blow up an
// observation.
const maxReadBytes = 256 * 1024

// Files exposes read, write, list, move and delete under a workspace
// root. Paths are resolved relative to the root and must stay inside it.
type Files struct {
	root   string
	logger zerolog.Logger
}

func NewFiles(root string, logger zerolog.Logger) *Files {
	return &Files{
		root:   filepath.Clean(root),
		logger: logger.With().Str("component", "files").Logger(),
	}
}

func (f *Files) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "files",
		Version:     "1.0.0",
		Category:    "system",
		Description: "Workspace files: read, write, list, move and delete inside the agent workspace",
		Actions: []capability.ActionSpec{
			{
				Name:        "read",
				Description: "Read a text file",
				Parameters: []capability.ParamSpec{
					{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
					{Name: "max_bytes", Type: "integer", Description: "Read at most this many bytes"},
				},
			},
			{
				Name:        "write",
				Description: "Write or append to a file, creating parent directories",
				Parameters: []capability.ParamSpec{
					{Name: "path", Type: "string", Required: true},
					{Name: "content", Type: "string", Required: true},
					{Name: "append", Type: "boolean", Default: false},
				},
			},
			{
				Name:        "list",
				Description: "List a directory",
				Parameters: []capability.ParamSpec{
					{Name: "path", Type: "string", Description: "Directory, workspace root when omitted"},
					{Name: "include_hidden", Type: "boolean", Default: false},
					{Name: "max_items", Type: "integer", Default: 100},
				},
			},
			{
				Name:        "move",
				Description: "Move or rename a file",
				Parameters: []capability.ParamSpec{
					{Name: "src", Type: "string", Required: true},
					{Name: "dst", Type: "string", Required: true},
				},
			},
			{
				Name:        "delete",
				Description: "Delete a single file",
				Parameters: []capability.ParamSpec{
					{Name: "path", Type: "string", Required: true},
				},
			},
		},
	}
}

func (f *Files) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	switch action {
	case "read":
		return f.read(params)
	case "write":
		return f.write(params)
	case "list", "":
		return f.list(params)
	case "move":
		return f.move(params)
	case "delete":
		return f.delete(params)
	default:
		return nil, fmt.Errorf("files does not support action %q", action)
	}
}

// resolve joins the path onto the workspace root and rejects anything
// that escapes it.
func (f *Files) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.Contains(path, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(f.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(f.root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return candidate, nil
}

func (f *Files) read(params map[string]any) (map[string]any, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	limit := int64(maxReadBytes)
	if v, ok := intParam(params, "max_bytes"); ok && v > 0 && int64(v) < limit {
		limit = int64(v)
	}

	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}

	return map[string]any{
		"path":      path,
		"content":   string(data),
		"bytes":     len(data),
		"truncated": truncated,
	}, nil
}

func (f *Files) write(params map[string]any) (map[string]any, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	content, ok := stringParam(params, "content")
	if !ok {
		return nil, fmt.Errorf("parameter %q is required", "content")
	}
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}

	appendMode, _ := boolParam(params, "append")
	if appendMode {
		file, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		if _, err := file.WriteString(content); err != nil {
			return nil, fmt.Errorf("append to %s: %w", path, err)
		}
	} else if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	f.logger.Debug().Str("path", path).Bool("append", appendMode).Int("bytes", len(content)).Msg("File written")
	return map[string]any{
		"path":     path,
		"bytes":    len(content),
		"appended": appendMode,
	}, nil
}

func (f *Files) list(params map[string]any) (map[string]any, error) {
	path, _ := stringParam(params, "path")
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	includeHidden, _ := boolParam(params, "include_hidden")
	maxItems := 100
	if v, ok := intParam(params, "max_items"); ok && v > 0 {
		maxItems = v
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []map[string]any
	truncated := false
	for _, e := range entries {
		if !includeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if len(out) >= maxItems {
			truncated = true
			break
		}
		entry := map[string]any{
			"name": e.Name(),
			"dir":  e.IsDir(),
		}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry["size"] = info.Size()
		}
		out = append(out, entry)
	}

	return map[string]any{
		"path":      path,
		"entries":   out,
		"count":     len(out),
		"truncated": truncated,
	}, nil
}

func (f *Files) move(params map[string]any) (map[string]any, error) {
	src, err := requireString(params, "src")
	if err != nil {
		return nil, err
	}
	dst, err := requireString(params, "dst")
	if err != nil {
		return nil, err
	}

	from, err := f.resolve(src)
	if err != nil {
		return nil, err
	}
	to, err := f.resolve(dst)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return nil, fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	f.logger.Debug().Str("src", src).Str("dst", dst).Msg("File moved")
	return map[string]any{"src": src, "dst": dst}, nil
}

func (f *Files) delete(params map[string]any) (map[string]any, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	target, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, only files can be deleted", path)
	}
	if err := os.Remove(target); err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}

	f.logger.Debug().Str("path", path).Msg("File deleted")
	return map[string]any{"path": path, "deleted": true}, nil
}
