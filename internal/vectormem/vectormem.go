// Package vectormem stores embedded MemoryRecords (§3) in sqlite and
// answers k-NN similarity queries with a brute-force cosine scan, dual
// written alongside the Journal.
package vectormem

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryType enumerates the kinds of memory a record may belong to.
type MemoryType string

const (
	TypeEvolution     MemoryType = "evolution"
	TypeConversation  MemoryType = "conversation"
	TypeSemantic      MemoryType = "semantic"
	TypeEpisodic      MemoryType = "episodic"
	TypeProcedural    MemoryType = "procedural"
	TypeConsciousness MemoryType = "consciousness"
	TypeMetaJournal   MemoryType = "meta_journal"
	TypeMetaReflect   MemoryType = "meta_reflection"
	TypeTranscendence MemoryType = "transcendence"
	TypeReflex        MemoryType = "reflex"
)

// Record is one vector-store entry (§3 MemoryRecord).
type Record struct {
	ID         string
	Text       string
	Vector     []float32
	MemoryType MemoryType
	Source     string
	Timestamp  time.Time
	Metadata   map[string]any
}

// Match is a Record annotated with its similarity score against a query.
type Match struct {
	Record Record
	Score  float64
}

// Store is a sqlite-backed vector table enforcing a single declared
// dimension across the whole deployment (Open Question #3).
type Store struct {
	db        *sql.DB
	dimension int
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const vectorTableSchema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	vector BLOB NOT NULL,
	memory_type TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memory_records_type ON memory_records(memory_type);
`

// Open opens (creating if absent) the vector store at dbPath, enforcing
// dimension as the declared embedding length. If a prior run declared a
// different dimension, the vector table is dropped and rebuilt (Open
// Question #3) — the meta table itself is never dropped.
func Open(dbPath string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vectormem: dimension must be positive, got %d", dimension)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vectormem: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectormem: create meta schema: %w", err)
	}

	s := &Store{db: db, dimension: dimension}
	if err := s.reconcileDimension(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) reconcileDimension() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(vectorTableSchema); err != nil {
			return fmt.Errorf("vectormem: create vector table: %w", err)
		}
		return s.setStoredDimension()
	case err != nil:
		return fmt.Errorf("vectormem: read declared dimension: %w", err)
	}

	var prev int
	fmt.Sscanf(stored, "%d", &prev)
	if prev == s.dimension {
		if _, err := s.db.Exec(vectorTableSchema); err != nil {
			return fmt.Errorf("vectormem: create vector table: %w", err)
		}
		return nil
	}

	// Dimension changed since the last run: rebuild the vector table.
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS memory_records`); err != nil {
		return fmt.Errorf("vectormem: drop stale vector table: %w", err)
	}
	if _, err := s.db.Exec(vectorTableSchema); err != nil {
		return fmt.Errorf("vectormem: recreate vector table: %w", err)
	}
	return s.setStoredDimension()
}

func (s *Store) setStoredDimension() error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES ('dimension', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", s.dimension))
	return err
}

// Close releases the sqlite connection.
func (s *Store) Close() error { return s.db.Close() }

// Dimension returns the declared embedding length enforced by this store.
func (s *Store) Dimension() int { return s.dimension }

// fitVector pads or truncates vec to the store's declared dimension (§3
// invariant: "mismatched inputs are pad/truncated to match").
func (s *Store) fitVector(vec []float32) []float32 {
	if len(vec) == s.dimension {
		return vec
	}
	out := make([]float32, s.dimension)
	copy(out, vec)
	return out
}

// Insert embeds and stores rec, assigning an id if none was supplied.
func (s *Store) Insert(rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	vec := s.fitVector(rec.Vector)
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("vectormem: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO memory_records (id, text, vector, memory_type, source, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, encodeFloat32Slice(vec), string(rec.MemoryType), rec.Source, rec.Timestamp, string(metaJSON),
	)
	if err != nil {
		return "", fmt.Errorf("vectormem: insert record: %w", err)
	}
	return rec.ID, nil
}

// Search returns the top-k records by cosine similarity to query, optionally
// restricted to memoryType (empty string means all types).
func (s *Store) Search(query []float32, memoryType MemoryType, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	query = s.fitVector(query)

	sqlQuery := `SELECT id, text, vector, memory_type, source, created_at, metadata FROM memory_records`
	args := []any{}
	if memoryType != "" {
		sqlQuery += ` WHERE memory_type = ?`
		args = append(args, string(memoryType))
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("vectormem: search query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var rec Record
		var vecBlob []byte
		var memType, metaJSON string
		if err := rows.Scan(&rec.ID, &rec.Text, &vecBlob, &memType, &rec.Source, &rec.Timestamp, &metaJSON); err != nil {
			return nil, fmt.Errorf("vectormem: scan record: %w", err)
		}
		rec.MemoryType = MemoryType(memType)
		rec.Vector = decodeFloat32Slice(vecBlob)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("vectormem: decode metadata: %w", err)
			}
		}

		score, err := cosineSimilarity(query, rec.Vector)
		if err != nil {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// cosineSimilarity returns the cosine similarity of a and b, or an error if
// their dimensions differ.
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectormem: dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		magA += float64(a[i] * a[i])
		magB += float64(b[i] * b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32Slice(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	n := len(blob) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4 : (i+1)*4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}
