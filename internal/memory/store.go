// Package memory implements per-workspace long-term recall: SQLite FTS5 for
// lexical match plus embedding blobs for semantic match, fused by weighted
// score. Every failure degrades; recall never blocks a reply.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	chunkTargetChars = 800
	defaultTopK      = 5
)

// Hit is one recall result.
type Hit struct {
	Text    string   `json:"text"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Weights tune the hybrid fusion.
type Weights struct {
	Vector float64
	Text   float64
}

// DefaultWeights favor semantic match.
func DefaultWeights() Weights { return Weights{Vector: 0.7, Text: 0.3} }

// Store is one workspace's memory database. A nil embedder degrades search
// to FTS-only.
type Store struct {
	mu       sync.Mutex // single writer
	dbPath   string
	db       *sql.DB
	embedder Embedder
	weights  Weights
}

// Open prepares a store rooted at <ws>/.msgcode/memory/memory.db. The
// database file is created lazily on first write; Search against a missing
// file returns empty.
func Open(workspacePath string, embedder Embedder, weights Weights) *Store {
	if weights.Vector <= 0 && weights.Text <= 0 {
		weights = DefaultWeights()
	}
	return &Store{
		dbPath:   filepath.Join(workspacePath, ".msgcode", "memory", "memory.db"),
		embedder: embedder,
		weights:  weights,
	}
}

// VectorAvailable reports whether semantic search can run.
func (s *Store) VectorAvailable() bool { return s.embedder != nil }

func (s *Store) open(create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if !create {
		if _, err := os.Stat(s.dbPath); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY,
	text        TEXT NOT NULL,
	text_digest TEXT NOT NULL UNIQUE,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text, content='chunks', content_rowid='id'
);
CREATE TABLE IF NOT EXISTS chunk_vecs (
	id        INTEGER PRIMARY KEY REFERENCES chunks(id),
	embedding BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS embed_cache (
	text_digest TEXT NOT NULL,
	model       TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	PRIMARY KEY (text_digest, model)
);`
	_, err := db.Exec(schema)
	return err
}

// Write splits text into chunks and persists each new one to chunks,
// chunks_fts, and (when an embedder is configured) chunk_vecs. Errors are
// returned but callers treat them as log-only.
func (s *Store) Write(ctx context.Context, text string) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range splitChunks(text) {
		digest := digestOf(chunk)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chunks (text, text_digest) VALUES (?, ?)`, chunk, digest)
		if err != nil {
			tx.Rollback()
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			tx.Rollback() // already stored
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (rowid, text) VALUES (?, ?)`, id, chunk); err != nil {
			tx.Rollback()
			return err
		}
		if s.embedder != nil {
			vec, err := s.embedCached(ctx, tx, digest, chunk)
			if err != nil {
				slog.Debug("memory: embedding failed, chunk stored text-only", "err", err)
			} else if vec != nil {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO chunk_vecs (id, embedding) VALUES (?, ?)`,
					id, encodeVec(vec)); err != nil {
					tx.Rollback()
					return err
				}
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// embedCached consults embed_cache before calling the endpoint.
func (s *Store) embedCached(ctx context.Context, tx *sql.Tx, digest, text string) ([]float32, error) {
	model := s.embedder.Model()
	var blob []byte
	err := tx.QueryRowContext(ctx,
		`SELECT embedding FROM embed_cache WHERE text_digest = ? AND model = ?`,
		digest, model).Scan(&blob)
	if err == nil {
		return decodeVec(blob), nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO embed_cache (text_digest, model, embedding) VALUES (?, ?, ?)`,
		digest, model, encodeVec(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

// Search runs hybrid recall. It never returns an error: any failure logs at
// debug level and yields nil; a missing database yields empty.
func (s *Store) Search(ctx context.Context, query string, topK int) []Hit {
	if topK <= 0 {
		topK = defaultTopK
	}
	db, err := s.open(false)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("memory: open failed", "err", err)
		}
		return nil
	}

	textScores, err := s.searchFTS(ctx, db, query, topK*2)
	if err != nil {
		slog.Debug("memory: fts search failed", "err", err)
		textScores = nil
	}
	var vecScores map[int64]float64
	if s.embedder != nil {
		vecScores, err = s.searchVec(ctx, db, query, topK*2)
		if err != nil {
			slog.Debug("memory: vector search failed, degrading to fts", "err", err)
			vecScores = nil
		}
	}
	if len(textScores) == 0 && len(vecScores) == 0 {
		return nil
	}

	// Weighted fusion over the union of candidates.
	ids := make(map[int64]struct{}, len(textScores)+len(vecScores))
	for id := range textScores {
		ids[id] = struct{}{}
	}
	for id := range vecScores {
		ids[id] = struct{}{}
	}
	type scored struct {
		id      int64
		score   float64
		reasons []string
	}
	fused := make([]scored, 0, len(ids))
	for id := range ids {
		var sc scored
		sc.id = id
		if v, ok := vecScores[id]; ok {
			sc.score += s.weights.Vector * v
			sc.reasons = append(sc.reasons, "vector")
		}
		if t, ok := textScores[id]; ok {
			sc.score += s.weights.Text * t
			sc.reasons = append(sc.reasons, "text")
		}
		fused = append(fused, sc)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].score > fused[j].score })
	if len(fused) > topK {
		fused = fused[:topK]
	}

	hits := make([]Hit, 0, len(fused))
	for _, sc := range fused {
		var text string
		if err := db.QueryRowContext(ctx,
			`SELECT text FROM chunks WHERE id = ?`, sc.id).Scan(&text); err != nil {
			continue
		}
		hits = append(hits, Hit{Text: text, Score: sc.score, Reasons: sc.reasons})
	}
	return hits
}

// searchFTS returns normalized (0..1] lexical scores by FTS rank order.
func (s *Store) searchFTS(ctx context.Context, db *sql.DB, query string, limit int) (map[int64]float64, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT rowid FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY rank LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scores := make(map[int64]float64)
	pos := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pos++
		scores[id] = 1.0 / float64(pos)
	}
	return scores, rows.Err()
}

// searchVec embeds the query and ranks chunks by cosine similarity over the
// stored blobs.
func (s *Store) searchVec(ctx context.Context, db *sql.DB, query string, limit int) (map[int64]float64, error) {
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, embedding FROM chunk_vecs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pair struct {
		id  int64
		sim float64
	}
	var all []pair
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if sim, ok := cosine(qvec, decodeVec(blob)); ok {
			all = append(all, pair{id, sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if len(all) > limit {
		all = all[:limit]
	}
	scores := make(map[int64]float64, len(all))
	for _, p := range all {
		// Map cosine [-1,1] to [0,1] so fusion weights stay comparable.
		scores[p.id] = (p.sim + 1) / 2
	}
	return scores, nil
}

// Count returns the stored chunk total (the /mem command).
func (s *Store) Count(ctx context.Context) int {
	db, err := s.open(false)
	if err != nil {
		return 0
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// sanitizeFTSQuery quotes each term so user punctuation cannot become FTS5
// syntax.
func sanitizeFTSQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		f = strings.TrimFunc(f, func(r rune) bool {
			return !(r == '_' || r == '-' ||
				(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') || r > 127)
		})
		if f != "" {
			terms = append(terms, `"`+f+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}

// splitChunks breaks text on paragraph boundaries near the target size.
func splitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkTargetChars {
		return []string{text}
	}
	paras := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder
	for _, p := range paras {
		if cur.Len() > 0 && cur.Len()+len(p) > chunkTargetChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		// A single oversized paragraph is split hard.
		for cur.Len() > 2*chunkTargetChars {
			s := cur.String()
			chunks = append(chunks, strings.TrimSpace(s[:chunkTargetChars]))
			cur.Reset()
			cur.WriteString(s[chunkTargetChars:])
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	return chunks
}

func digestOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
