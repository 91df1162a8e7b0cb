// Package storage persists audit bundles as JSON files so completed runs
// survive restarts and can be re-served without re-extraction.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// Summary is the index entry for one stored bundle.
type Summary struct {
	RunID        string    `json:"run_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Organization string    `json:"organization"`
	WindowDays   int       `json:"window_days"`
	TotalRevenue float64   `json:"total_revenue"`
	Diagnostics  int       `json:"diagnostics"`
	Partial      bool      `json:"partial,omitempty"`
}

// Store is a file-backed bundle archive bounded to MaxBundles entries.
type Store struct {
	dir string
	max int

	mu sync.RWMutex
}

// New creates the store, making the data directory if needed.
func New(cfg config.StorageConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{dir: cfg.DataDir, max: cfg.MaxBundles}, nil
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, "audit-"+runID+".json")
}

// Save writes the bundle and prunes the oldest files past the cap.
func (s *Store) Save(bundle *audit.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if err := os.WriteFile(s.path(bundle.RunID), data, 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	s.prune()
	return nil
}

// Load reads one bundle by run id.
func (s *Store) Load(runID string) (*audit.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return nil, err
	}
	var bundle audit.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decoding bundle %s: %w", runID, err)
	}
	return &bundle, nil
}

// List returns summaries of all stored bundles, newest first.
func (s *Store) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.bundleFiles()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(s.dir, file))
		if err != nil {
			continue
		}
		var bundle audit.Bundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			logger.Warn("storage", logger.EventDataQuality,
				"reason", "unreadable_bundle", "file", file)
			continue
		}
		summaries = append(summaries, Summary{
			RunID:        bundle.RunID,
			GeneratedAt:  bundle.GeneratedAt,
			Organization: bundle.Account.Organization,
			WindowDays:   bundle.Window.Days,
			TotalRevenue: bundle.Attribution.Snapshot.TotalRevenue,
			Diagnostics:  len(bundle.Diagnostics),
			Partial:      bundle.Partial,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].GeneratedAt.After(summaries[j].GeneratedAt)
	})
	return summaries, nil
}

// Delete removes one stored bundle.
func (s *Store) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.Remove(s.path(runID))
}

func (s *Store) bundleFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".json") {
			files = append(files, name)
		}
	}
	return files, nil
}

// prune deletes the oldest files beyond the cap. Ordered by modification
// time so it never has to decode bundles.
func (s *Store) prune() {
	if s.max <= 0 {
		return
	}
	files, err := s.bundleFiles()
	if err != nil || len(files) <= s.max {
		return
	}

	type aged struct {
		name string
		mod  time.Time
	}
	infos := make([]aged, 0, len(files))
	for _, name := range files {
		fi, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		infos = append(infos, aged{name: name, mod: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mod.Before(infos[j].mod) })

	for _, f := range infos[:len(infos)-s.max] {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err == nil {
			logger.Debug("storage", "bundle_pruned", "file", f.name)
		}
	}
}
