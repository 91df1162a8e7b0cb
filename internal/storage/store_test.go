package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/attribution"
	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/dates"
)

func newStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := New(config.StorageConfig{DataDir: t.TempDir(), MaxBundles: max})
	require.NoError(t, err)
	return s
}

func testBundle(runID string, generated time.Time) *audit.Bundle {
	return &audit.Bundle{
		RunID:       runID,
		GeneratedAt: generated,
		Window:      dates.Window{Days: 30},
		Account:     audit.AccountContext{Organization: "Acme Apparel", Currency: "USD"},
		Attribution: attribution.Result{
			Snapshot: attribution.Snapshot{TotalRevenue: 1000},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t, 10)
	bundle := testBundle("run-1", time.Now().UTC())

	require.NoError(t, s.Save(bundle))

	loaded, err := s.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "Acme Apparel", loaded.Account.Organization)
	assert.Equal(t, 1000.0, loaded.Attribution.Snapshot.TotalRevenue)
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t, 10)
	_, err := s.Load("absent")
	assert.True(t, os.IsNotExist(err))
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t, 10)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(testBundle(fmt.Sprintf("run-%d", i), base.AddDate(0, 0, i))))
	}

	summaries, err := s.List()
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "run-2", summaries[0].RunID)
	assert.Equal(t, "run-0", summaries[2].RunID)
	assert.Equal(t, 30, summaries[0].WindowDays)
}

func TestPruneKeepsCap(t *testing.T) {
	s := newStore(t, 2)
	now := time.Now().UTC()

	// Backdate the first two so the third save prunes deterministically.
	require.NoError(t, s.Save(testBundle("run-0", now)))
	require.NoError(t, os.Chtimes(s.path("run-0"), now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, s.Save(testBundle("run-1", now)))
	require.NoError(t, os.Chtimes(s.path("run-1"), now.Add(-time.Minute), now.Add(-time.Minute)))
	require.NoError(t, s.Save(testBundle("run-2", now)))

	summaries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	_, err = s.Load("run-0")
	assert.Error(t, err)
	_, err = s.Load("run-1")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s := newStore(t, 10)
	require.NoError(t, s.Save(testBundle("run-1", time.Now().UTC())))
	require.NoError(t, s.Delete("run-1"))
	_, err := s.Load("run-1")
	assert.Error(t, err)

	entries, err := os.ReadDir(filepath.Dir(s.path("run-1")))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
