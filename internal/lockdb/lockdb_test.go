package lockdb

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/lock"
)

var _ lock.Store = (*DB)(nil)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	// Both tables exist and are queryable.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM acquisitions`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM lock_samples`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an already-migrated database is not an error.
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSaveAndListAcquisitions(t *testing.T) {
	db := openTestDB(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := lock.AcquisitionRecord{
		ID:           "film-1",
		StartedAt:    start,
		StoppedAt:    start.Add(time.Minute),
		FinalCoarseZ: 12.5,
		ZScanMode:    true,
		ZOffsets:     "-0.25,0,0.25",
	}
	require.NoError(t, db.SaveAcquisition(rec))

	got, err := db.Acquisitions(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.FinalCoarseZ, got[0].FinalCoarseZ)
	assert.True(t, got[0].ZScanMode)
	assert.Equal(t, rec.ZOffsets, got[0].ZOffsets)
}

func TestSaveSampleIsFlushedInBackground(t *testing.T) {
	db := openTestDB(t)

	at := time.Now().UTC()
	require.NoError(t, db.SaveSample("film-1", at, analysis.Sample{IsGood: true, Offset: 0.5, Sum: 20}))
	require.NoError(t, db.SaveSample("film-1", at, analysis.Sample{IsGood: false}))

	require.Eventually(t, func() bool {
		got, err := db.RecentSamples(10)
		return err == nil && len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	got, err := db.RecentSamples(10)
	require.NoError(t, err)
	// Newest first.
	assert.False(t, got[0].IsGood)
	assert.True(t, got[1].IsGood)
	assert.Equal(t, 0.5, got[1].Offset)
	assert.Equal(t, 20.0, got[1].Sum)
	assert.Equal(t, "film-1", got[1].AcquisitionID)
}

func TestAcquisitionSamplesFiltersAndOrders(t *testing.T) {
	db := openTestDB(t)

	at := time.Now().UTC()
	require.NoError(t, db.SaveSample("film-a", at, analysis.Sample{IsGood: true, Offset: 0.1}))
	require.NoError(t, db.SaveSample("film-b", at, analysis.Sample{IsGood: true, Offset: 0.2}))
	require.NoError(t, db.SaveSample("film-a", at, analysis.Sample{IsGood: false, Offset: 0.3}))

	require.Eventually(t, func() bool {
		got, err := db.RecentSamples(10)
		return err == nil && len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)

	got, err := db.AcquisitionSamples("film-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Oldest first.
	assert.Equal(t, 0.1, got[0].Offset)
	assert.Equal(t, 0.3, got[1].Offset)
}

func TestCloseFlushesQueuedSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")
	db, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, db.SaveSample("film-2", time.Now(), analysis.Sample{IsGood: true, Offset: float64(i)}))
	}
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.RecentSamples(100)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Zero(t, db.SamplesDropped.Value())
}

func TestAdminRoutesServeDebugIndex(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:12345" // tsweb only serves debug pages locally
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tailsql")
}
