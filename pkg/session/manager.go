// Package session persists conversations as one JSONL file per session.
// Appends are serialized per session key; corrupt lines are skipped on
// load so a torn write never poisons a whole session.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
)

// Roles used by the assistant when recording exchanges.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// summaryContentCap bounds how much of one message RecentSummary quotes.
const summaryContentCap = 240

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	At      time.Time      `json:"at"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Info is session file metadata.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Messages     int       `json:"messages"`
}

// Config holds manager settings.
type Config struct {
	Dir     string // defaults to ~/.nara/sessions
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Manager reads and writes session files.
type Manager struct {
	dir     string
	logger  zerolog.Logger
	metrics *metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates the sessions directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".nara", "sessions")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	m := &Manager{
		dir:     dir,
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
		metrics: cfg.Metrics,
		locks:   make(map[string]*sync.Mutex),
	}
	m.logger.Info().Str("dir", dir).Msg("Session manager initialized")
	m.gaugeActive()
	return m, nil
}

// validateKey rejects keys that could escape the sessions directory.
func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("session key is empty")
	case strings.Contains(key, ".."):
		return fmt.Errorf("session key must not contain '..'")
	case strings.ContainsAny(key, `/\`):
		return fmt.Errorf("session key must not contain path separators")
	case strings.Contains(key, "\x00"):
		return fmt.Errorf("session key must not contain null bytes")
	}
	return nil
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.dir, key+".jsonl")
}

func (m *Manager) lock(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if l, ok := m.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[key] = l
	return l
}

func (m *Manager) dropLock(key string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, key)
}

func (m *Manager) gaugeActive() {
	if m.metrics == nil {
		return
	}
	if keys, err := m.List(); err == nil {
		m.metrics.SessionsActive.Set(float64(len(keys)))
	}
}

// Append writes one message to the session, creating the file on first use.
func (m *Manager) Append(key string, msg Message) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role is empty")
	}
	if msg.Content == "" {
		return fmt.Errorf("message content is empty")
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	l := m.lock(key)
	l.Lock()
	defer l.Unlock()

	path := m.path(key)
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync session file: %w", err)
	}

	if created {
		if m.metrics != nil {
			m.metrics.SessionsTotal.Inc()
		}
		m.gaugeActive()
		m.logger.Info().Str("session", key).Msg("Session created")
	}
	m.logger.Debug().Str("session", key).Str("role", msg.Role).Msg("Message appended")
	return nil
}

// RecordExchange appends a user request and the assistant's reply as one
// turn pair.
func (m *Manager) RecordExchange(key, request, response string) error {
	now := time.Now()
	if err := m.Append(key, Message{Role: RoleUser, Content: request, At: now}); err != nil {
		return err
	}
	return m.Append(key, Message{Role: RoleAssistant, Content: response, At: now})
}

// Load returns every valid message in the session, oldest first. Lines
// that fail to parse are skipped with a warning.
func (m *Manager) Load(key string) ([]Message, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	var messages []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			m.logger.Warn().Str("session", key).Int("line", line).Err(err).Msg("Skipping unparseable line")
			continue
		}
		if msg.Role == "" || msg.Content == "" {
			m.logger.Warn().Str("session", key).Int("line", line).Msg("Skipping incomplete message")
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return messages, nil
}

// RecentSummary renders the last turns of a session for a decision
// prompt. Errors and empty sessions yield an empty string; the caller
// treats absent context as no context.
func (m *Manager) RecentSummary(key string, turns int) string {
	if turns <= 0 {
		turns = 3
	}
	messages, err := m.Load(key)
	if err != nil || len(messages) == 0 {
		return ""
	}

	// turns are user+assistant pairs
	limit := turns * 2
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := "User"
		if msg.Role == RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(capContent(msg.Content))
	}
	return b.String()
}

func capContent(s string) string {
	runes := []rune(s)
	if len(runes) <= summaryContentCap {
		return s
	}
	return string(runes[:summaryContentCap]) + "..."
}

// Delete removes the session file. Deleting a missing session is not an
// error.
func (m *Manager) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	l := m.lock(key)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	m.dropLock(key)
	m.gaugeActive()
	m.logger.Info().Str("session", key).Msg("Session deleted")
	return nil
}

// List returns all session keys, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Stat returns metadata for one session.
func (m *Manager) Stat(key string) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, fmt.Errorf("session %s does not exist", key)
		}
		return Info{}, fmt.Errorf("stat session file: %w", err)
	}
	messages, err := m.Load(key)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		Messages:     len(messages),
	}, nil
}

// Compact rewrites the session keeping only parseable messages, replacing
// the file atomically.
func (m *Manager) Compact(key string) error {
	messages, err := m.Load(key)
	if err != nil {
		return err
	}

	l := m.lock(key)
	l.Lock()
	defer l.Unlock()

	path := m.path(key)
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session file: %w", err)
	}
	m.logger.Info().Str("session", key).Int("messages", len(messages)).Msg("Session compacted")
	return nil
}

// PruneOlderThan deletes sessions whose file has not been modified within
// the retention window. It returns how many were removed.
func (m *Manager) PruneOlderThan(retention time.Duration) (int, error) {
	keys, err := m.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	deleted := 0
	for _, key := range keys {
		fi, err := os.Stat(m.path(key))
		if err != nil {
			continue
		}
		if fi.ModTime().After(cutoff) {
			continue
		}
		if err := m.Delete(key); err != nil {
			m.logger.Warn().Str("session", key).Err(err).Msg("Prune could not delete session")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Info().Int("deleted", deleted).Msg("Old sessions pruned")
	}
	return deleted, nil
}

// Close releases per-session locks.
func (m *Manager) Close() error {
	m.locksMu.Lock()
	m.locks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()
	return nil
}
