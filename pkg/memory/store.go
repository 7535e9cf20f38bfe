package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Episode is one remembered interaction: the request, what came of it,
// and which capabilities were involved.
type Episode struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Request      string    `json:"request"`
	Response     string    `json:"response"`
	Outcome      string    `json:"outcome"`
	Capabilities []string  `json:"capabilities,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snippet is a retrieved fragment of a past episode with its relevance score
type Snippet struct {
	EpisodeID    string    `json:"episode_id"`
	SessionID    string    `json:"session_id"`
	Content      string    `json:"content"`
	Outcome      string    `json:"outcome"`
	Score        float64   `json:"score"`
	VectorScore  *float64  `json:"vector_score,omitempty"`
	KeywordScore *float64  `json:"keyword_score,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RetrieveOptions configures retrieval behavior
type RetrieveOptions struct {
	Limit         int     `json:"limit"`
	SessionID     string  `json:"session_id,omitempty"` // restrict to one session, empty searches all
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

// Status reports the current state of the store
type Status struct {
	TotalEpisodes int        `json:"total_episodes"`
	Sessions      int        `json:"sessions"`
	OldestEpisode *time.Time `json:"oldest_episode,omitempty"`
}

// Config holds episodic store configuration
type Config struct {
	DBPath   string
	Logger   zerolog.Logger
	Embedder EmbeddingProvider // Optional, if nil retrieval is keyword only
	Metrics  *metrics.Metrics
}

// Store persists episodes in SQLite and retrieves them by hybrid
// vector + keyword search.
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	embedder EmbeddingProvider
	metrics  *metrics.Metrics
}

// NewStore opens (or creates) the episode database
func NewStore(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	// Open database with FTS5 support
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   cfg.Logger.With().Str("component", "memory").Logger(),
		embedder: cfg.Embedder,
		metrics:  cfg.Metrics,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Episode store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request TEXT NOT NULL,
			response TEXT NOT NULL,
			outcome TEXT NOT NULL,
			capabilities TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
		CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS episodes_fts USING fts5(
			episode_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Create vector table if an embedder is available
	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS episode_vectors USING vec0(
				episode_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())

		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Save records an episode. A missing ID or timestamp is filled in.
// Embedding failures degrade to keyword-only retrieval for that episode.
func (s *Store) Save(ctx context.Context, ep Episode) (string, error) {
	if ep.Request == "" {
		return "", errors.New("episode request is required")
	}
	if ep.ID == "" {
		suffix, _ := gonanoid.New()
		ep.ID = "ep_" + suffix
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}

	capsJSON, err := json.Marshal(ep.Capabilities)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	content := episodeContent(ep)

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO episodes (id, session_id, request, response, outcome, capabilities, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ep.ID, ep.SessionID, ep.Request, ep.Response, ep.Outcome, string(capsJSON), ep.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert episode: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO episodes_fts (episode_id, content) VALUES (?, ?)",
		ep.ID, content,
	)
	if err != nil {
		return "", fmt.Errorf("failed to index episode: %w", err)
	}

	if s.embedder != nil {
		if err := s.storeEmbedding(ctx, tx, ep.ID, content); err != nil {
			s.logger.Warn().Err(err).Str("episode", ep.ID).Msg("Failed to store embedding")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.MemoryEpisodesTotal.Inc()
	}

	s.logger.Debug().
		Str("episode", ep.ID).
		Str("session", ep.SessionID).
		Str("outcome", ep.Outcome).
		Msg("Episode saved")

	return ep.ID, nil
}

func (s *Store) storeEmbedding(ctx context.Context, tx *sql.Tx, episodeID, content string) error {
	embedding, err := s.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO episode_vectors (episode_id, embedding) VALUES (?, ?)",
		episodeID, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return nil
}

// Retrieve performs hybrid search over stored episodes. Either search
// method may fail without sinking the other.
func (s *Store) Retrieve(ctx context.Context, query string, opts *RetrieveOptions) ([]Snippet, error) {
	if query == "" {
		return []Snippet{}, nil
	}

	if opts == nil {
		opts = &RetrieveOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.VectorWeight == 0 && opts.KeywordWeight == 0 {
		opts.VectorWeight = 0.7
		opts.KeywordWeight = 0.3
	}

	var vectorResults []vectorHit
	var keywordResults []keywordHit
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if s.embedder != nil {
			vectorResults, vectorErr = s.vectorSearch(ctx, query, 200)
		}
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.keywordSearch(query, 200)
	}()

	wg.Wait()

	if vectorErr != nil {
		s.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		s.logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search methods failed")
	}

	snippets := s.merge(vectorResults, keywordResults, opts)
	if len(snippets) > opts.Limit {
		snippets = snippets[:opts.Limit]
	}

	if s.metrics != nil {
		s.metrics.MemoryRetrievalsTotal.Inc()
	}

	s.logger.Debug().
		Str("query", query).
		Int("results", len(snippets)).
		Msg("Retrieval completed")

	return snippets, nil
}

type vectorHit struct {
	episodeID  string
	similarity float64
}

type keywordHit struct {
	episodeID string
	bm25Score float64
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]vectorHit, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT episode_id, vec_distance_cosine(embedding, ?) as distance
		FROM episode_vectors
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorHit
	for rows.Next() {
		var episodeID string
		var distance float64
		if err := rows.Scan(&episodeID, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, vectorHit{episodeID: episodeID, similarity: 1.0 - distance})
	}

	return hits, rows.Err()
}

func (s *Store) keywordSearch(query string, limit int) ([]keywordHit, error) {
	rows, err := s.db.Query(`
		SELECT episode_id, bm25(episodes_fts) as score
		FROM episodes_fts
		WHERE episodes_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var episodeID string
		var score float64
		if err := rows.Scan(&episodeID, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative, convert to positive
		hits = append(hits, keywordHit{episodeID: episodeID, bm25Score: -score})
	}

	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR-query. Raw user text breaks
// MATCH syntax on punctuation, so each term is quoted.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func (s *Store) merge(vectorResults []vectorHit, keywordResults []keywordHit, opts *RetrieveOptions) []Snippet {
	vectorMap := make(map[string]float64)
	keywordMap := make(map[string]float64)

	var maxKeyword float64
	for _, h := range vectorResults {
		vectorMap[h.episodeID] = h.similarity
	}
	for _, h := range keywordResults {
		keywordMap[h.episodeID] = h.bm25Score
		if h.bm25Score > maxKeyword {
			maxKeyword = h.bm25Score
		}
	}

	episodeIDs := make(map[string]bool)
	for id := range vectorMap {
		episodeIDs[id] = true
	}
	for id := range keywordMap {
		episodeIDs[id] = true
	}

	type scored struct {
		episodeID    string
		score        float64
		vectorScore  *float64
		keywordScore *float64
	}

	var ranked []scored
	for episodeID := range episodeIDs {
		var normalizedVector, normalizedKeyword float64

		// Map cosine similarity [-1, 1] to [0, 1]
		if v, ok := vectorMap[episodeID]; ok {
			normalizedVector = (v + 1) / 2
		}
		if k, ok := keywordMap[episodeID]; ok && maxKeyword > 0 {
			normalizedKeyword = k / maxKeyword
		}

		combined := (normalizedVector * opts.VectorWeight) + (normalizedKeyword * opts.KeywordWeight)
		if opts.MinScore > 0 && combined < opts.MinScore {
			continue
		}

		var vecPtr, keyPtr *float64
		if _, ok := vectorMap[episodeID]; ok {
			v := normalizedVector
			vecPtr = &v
		}
		if _, ok := keywordMap[episodeID]; ok {
			k := normalizedKeyword
			keyPtr = &k
		}

		ranked = append(ranked, scored{
			episodeID:    episodeID,
			score:        combined,
			vectorScore:  vecPtr,
			keywordScore: keyPtr,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	snippets := make([]Snippet, 0, len(ranked))
	for _, r := range ranked {
		var request, response, sessionID, outcome string
		var createdAt int64
		err := s.db.QueryRow(`
			SELECT request, response, session_id, outcome, created_at
			FROM episodes
			WHERE id = ?
		`, r.episodeID).Scan(&request, &response, &sessionID, &outcome, &createdAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("episode", r.episodeID).Msg("Failed to fetch episode details")
			continue
		}

		if opts.SessionID != "" && sessionID != opts.SessionID {
			continue
		}

		snippets = append(snippets, Snippet{
			EpisodeID:    r.episodeID,
			SessionID:    sessionID,
			Content:      request + "\n" + response,
			Outcome:      outcome,
			Score:        r.score,
			VectorScore:  r.vectorScore,
			KeywordScore: r.keywordScore,
			CreatedAt:    time.Unix(createdAt, 0),
		})
	}

	return snippets
}

// Prune deletes episodes older than the retention window and returns
// how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).Unix()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM episodes WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, id)
	}
	rows.Close()

	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, id := range stale {
		if _, err := tx.Exec("DELETE FROM episodes_fts WHERE episode_id = ?", id); err != nil {
			return 0, err
		}
		if s.embedder != nil {
			if _, err := tx.Exec("DELETE FROM episode_vectors WHERE episode_id = ?", id); err != nil {
				return 0, err
			}
		}
		if _, err := tx.Exec("DELETE FROM episodes WHERE id = ?", id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("pruned", len(stale)).
		Dur("retention", retention).
		Msg("Pruned old episodes")

	return len(stale), nil
}

// Status returns store-level counters
func (s *Store) Status() Status {
	var status Status

	s.db.QueryRow("SELECT COUNT(*) FROM episodes").Scan(&status.TotalEpisodes)
	s.db.QueryRow("SELECT COUNT(DISTINCT session_id) FROM episodes").Scan(&status.Sessions)

	var oldest sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(created_at) FROM episodes").Scan(&oldest); err == nil && oldest.Valid {
		t := time.Unix(oldest.Int64, 0)
		status.OldestEpisode = &t
	}

	return status
}

// Close releases the underlying database
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing episode store")
	return s.db.Close()
}

func episodeContent(ep Episode) string {
	if ep.Response == "" {
		return ep.Request
	}
	return ep.Request + "\n" + ep.Response
}
