package spooler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentRuns_NewestFirst(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ledger.db")
	db, err := OpenDB(p)
	require.NoError(t, err)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, db.Create(&CaptureRun{RunID: id, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}).Error)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	q, err := OpenQueryDB(p)
	require.NoError(t, err)
	runs, err := RecentRuns(q, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
	assert.Equal(t, "r2", runs[1].RunID)

	all, err := RecentRuns(q, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestProcessedFile_UniquePathAndHash(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, db.Create(&ProcessedFile{Path: "a.json", SHA256: "x"}).Error)
	assert.Error(t, db.Create(&ProcessedFile{Path: "a.json", SHA256: "x"}).Error)
	assert.NoError(t, db.Create(&ProcessedFile{Path: "a.json", SHA256: "y"}).Error)
}
