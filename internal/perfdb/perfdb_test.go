package perfdb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertKeepsFastest(t *testing.T) {
	db := New()
	db.Insert(Record{Key: "k", Solver: "a", Time: 5 * time.Millisecond})
	kept := db.Insert(Record{Key: "k", Solver: "a", Time: 9 * time.Millisecond})
	assert.Equal(t, 5*time.Millisecond, kept.Time)

	db.Insert(Record{Key: "k", Solver: "a", Time: 2 * time.Millisecond})
	r, ok := db.Get("k", "a")
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, r.Time)
	assert.Equal(t, db.Session(), r.Session)
	assert.False(t, r.Measured.IsZero())

	_, ok = db.Get("k", "b")
	assert.False(t, ok)
}

func TestClearIsTheOnlyInvalidation(t *testing.T) {
	db := New()
	db.Insert(Record{Key: "k", Solver: "a", Time: time.Millisecond})
	db.Insert(Record{Key: "k2", Solver: "a", Time: time.Millisecond})
	assert.Equal(t, 2, db.Len())
	db.Clear()
	assert.Equal(t, 0, db.Len())
}

func TestConcurrentInsert(t *testing.T) {
	db := New()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.Insert(Record{Key: "k", Solver: "a", Time: time.Duration(i+1) * time.Microsecond})
			db.Get("k", "a")
		}()
	}
	wg.Wait()
	r, ok := db.Get("k", "a")
	require.True(t, ok)
	assert.Equal(t, time.Microsecond, r.Time)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "perf.json")
	db := New()
	db.Insert(Record{Key: "conv-fwd|f32", Solver: "GemmFwd1x1", Config: "tile=4", Time: 3 * time.Millisecond, Workspace: 64})
	db.Insert(Record{Key: "conv-fwd|f32", Solver: "ConvDirectNaiveFwd", Time: 8 * time.Millisecond})
	require.NoError(t, db.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	r, ok := loaded.Get("conv-fwd|f32", "GemmFwd1x1")
	require.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, r.Time)
	assert.Equal(t, 64, r.Workspace)
	assert.Equal(t, db.Session(), r.Session)
	assert.NotEqual(t, uuid.Nil, loaded.Session())

	recs := loaded.Records()
	assert.Equal(t, "ConvDirectNaiveFwd", recs[0].Solver)
}

func TestLoadMissingFile(t *testing.T) {
	db, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, db.Len())
}
