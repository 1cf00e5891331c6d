// Package perfdb caches measured solver performance by problem key. A DB is
// safe for concurrent use and is only ever emptied by Clear.
package perfdb

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/kforge/internal/problem"
	"github.com/samcharles93/kforge/internal/solver"
)

// Record is the best measurement of one solver on one problem.
type Record struct {
	Key       problem.Key       `json:"key"`
	Solver    string            `json:"solver"`
	Config    solver.PerfConfig `json:"config,omitempty"`
	Time      time.Duration     `json:"time_ns"`
	Workspace int               `json:"workspace"`
	Session   uuid.UUID         `json:"session"`
	Measured  time.Time         `json:"measured"`
}

type entry struct {
	key    problem.Key
	solver string
}

// DB maps (problem key, solver name) to the best known record.
type DB struct {
	mu      sync.RWMutex
	records map[entry]Record
	session uuid.UUID
}

func New() *DB {
	return &DB{
		records: make(map[entry]Record),
		session: uuid.New(),
	}
}

// Session identifies the tuning session records inserted by this DB carry.
func (db *DB) Session() uuid.UUID { return db.session }

func (db *DB) Get(key problem.Key, solverName string) (Record, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.records[entry{key, solverName}]
	return r, ok
}

// Insert stores r unless a faster record for the same entry exists. It
// returns the record kept. Session and timestamp are filled in when unset.
func (db *DB) Insert(r Record) Record {
	if r.Session == uuid.Nil {
		r.Session = db.session
	}
	if r.Measured.IsZero() {
		r.Measured = time.Now()
	}
	e := entry{r.Key, r.Solver}

	db.mu.Lock()
	defer db.mu.Unlock()
	if old, ok := db.records[e]; ok && old.Time <= r.Time {
		return old
	}
	db.records[e] = r
	return r
}

func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.records)
}

// Records returns a snapshot ordered by key then solver.
func (db *DB) Records() []Record {
	db.mu.RLock()
	out := make([]Record, 0, len(db.records))
	for _, r := range db.records {
		out = append(out, r)
	}
	db.mu.RUnlock()
	slices.SortFunc(out, func(a, b Record) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.Solver, b.Solver)
	})
	return out
}

// Clear drops every record.
func (db *DB) Clear() {
	db.mu.Lock()
	clear(db.records)
	db.mu.Unlock()
}

type file struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

const fileVersion = 1

// Save writes the DB as JSON, replacing path atomically.
func (db *DB) Save(path string) error {
	data, err := json.MarshalIndent(file{Version: fileVersion, Records: db.Records()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode perf db: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create perf db directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".perfdb-*")
	if err != nil {
		return fmt.Errorf("create perf db: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write perf db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write perf db: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a DB written by Save. A missing file yields an empty DB.
func Load(path string) (*DB, error) {
	db := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read perf db: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse perf db %s: %w", path, err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("perf db %s has version %d, expected %d", path, f.Version, fileVersion)
	}
	for _, r := range f.Records {
		db.records[entry{r.Key, r.Solver}] = r
	}
	return db, nil
}
