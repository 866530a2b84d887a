// Package memory implements the optional memory backends: a code memory
// (SearchCode) and a general memory (Search), both answering
// relevance-thresholded queries over previously stored content.
//
// Backed by SQLite with an FTS5 virtual table and sync triggers. FTS5 is
// optional; when the virtual table cannot be created the backends fall
// back to LIKE queries.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the shared SQLite backend behind both memory interfaces.
type Store struct {
	db *sql.DB
}

// CodeChunk is one stored unit of code memory.
type CodeChunk struct {
	ID        int
	FilePath  string
	Content   string
	Language  string
	CreatedAt time.Time
}

// CodeMatch is one result of SearchCode.
type CodeMatch struct {
	Chunk CodeChunk
	Score float64
}

// Entry is one stored unit of general memory.
type Entry struct {
	ID        int
	Content   string
	Source    string
	CreatedAt time.Time
}

// Match is one result of Search.
type Match struct {
	ID      string
	Content string
	Score   float64
	Source  string
}

// SearchOptions bound a single query.
type SearchOptions struct {
	Limit     int
	Threshold float64
}

// NewStore opens (creating if necessary) the memory database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS code_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		content TEXT NOT NULL,
		language TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		source TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_code_chunks_file ON code_chunks(file_path);
	CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	ftsSchema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS code_chunks_fts USING fts5(
		content,
		content=code_chunks,
		content_rowid=id
	);

	CREATE TRIGGER IF NOT EXISTS code_chunks_ai AFTER INSERT ON code_chunks BEGIN
		INSERT INTO code_chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS code_chunks_ad AFTER DELETE ON code_chunks BEGIN
		DELETE FROM code_chunks_fts WHERE rowid = old.id;
	END;

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content=memories,
		content_rowid=id
	);

	CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		DELETE FROM memories_fts WHERE rowid = old.id;
	END;
	`

	// FTS5 is optional - if it fails, we'll use LIKE queries
	_, _ = s.db.Exec(ftsSchema)

	return nil
}

func (s *Store) hasFTS(table string) bool {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	return err == nil && count > 0
}

// StoreCode stores one code chunk for later retrieval.
func (s *Store) StoreCode(filePath, content, language string) error {
	_, err := s.db.Exec(`
		INSERT INTO code_chunks (file_path, content, language, created_at)
		VALUES (?, ?, ?, ?)
	`, filePath, content, language, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert code chunk: %w", err)
	}
	return nil
}

// StoreMemory stores one general memory entry.
func (s *Store) StoreMemory(content, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO memories (content, source, created_at)
		VALUES (?, ?, ?)
	`, content, source, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// SearchCode answers the code-memory query interface. Results are scored
// by match rank and filtered against opts.Threshold.
func (s *Store) SearchCode(query string, opts SearchOptions) ([]CodeMatch, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.queryTable("code_chunks", "id, file_path, content, language, created_at", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search code: %w", err)
	}
	defer rows.Close()

	var matches []CodeMatch
	rank := 0
	for rows.Next() {
		var chunk CodeChunk
		var language sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.FilePath, &chunk.Content, &language, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan code chunk: %w", err)
		}
		chunk.Language = language.String

		score := rankScore(rank)
		rank++
		if score < opts.Threshold {
			continue
		}
		matches = append(matches, CodeMatch{Chunk: chunk, Score: score})
	}

	return matches, nil
}

// Search answers the general memory query interface.
func (s *Store) Search(query string, opts SearchOptions) ([]Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.queryTable("memories", "id, content, source, created_at", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var matches []Match
	rank := 0
	for rows.Next() {
		var entry Entry
		var source sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Content, &source, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}

		score := rankScore(rank)
		rank++
		if score < opts.Threshold {
			continue
		}
		matches = append(matches, Match{
			ID:      fmt.Sprintf("%d", entry.ID),
			Content: entry.Content,
			Score:   score,
			Source:  source.String,
		})
	}

	return matches, nil
}

// queryTable runs an FTS5 MATCH when the virtual table exists, falling
// back to a LIKE scan otherwise.
func (s *Store) queryTable(table, columns, query string, limit int) (*sql.Rows, error) {
	if s.hasFTS(table + "_fts") {
		q := fmt.Sprintf(`
			SELECT %s FROM %s t
			JOIN %s_fts fts ON t.id = fts.rowid
			WHERE %s_fts MATCH ?
			ORDER BY fts.rank LIMIT ?
		`, qualify(columns), table, table, table)
		return s.db.Query(q, ftsQuery(query), limit)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM %s t
		WHERE t.content LIKE ?
		ORDER BY t.created_at DESC LIMIT ?
	`, qualify(columns), table)
	return s.db.Query(q, "%"+query+"%", limit)
}

func qualify(columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = "t." + p
	}
	return strings.Join(parts, ", ")
}

// ftsQuery quotes each term so punctuation in natural-language queries
// doesn't trip FTS5's query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return `""`
	}
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, "") + `"`
	}
	return strings.Join(fields, " OR ")
}

// rankScore maps a result's position to a descending score in (0, 1]. FTS5
// rank is not a normalized relevance, so position order is the stable
// signal both backends expose.
func rankScore(rank int) float64 {
	return 1.0 / float64(rank+1)
}
