package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/storage"
)

// fakeRunner returns a canned bundle or error and records the options it
// was called with.
type fakeRunner struct {
	mu     sync.Mutex
	opts   []audit.Options
	bundle *audit.Bundle
	err    error
	done   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, opts audit.Options) (*audit.Bundle, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.done != nil {
		defer close(f.done)
	}
	return f.bundle, f.err
}

func newTestServer(t *testing.T, runner *fakeRunner) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(config.StorageConfig{DataDir: t.TempDir(), MaxBundles: 10})
	require.NoError(t, err)
	h := NewHandlers(runner, store, config.AuditConfig{WindowDays: 30, GrowthMonths: 6})
	return NewServer(config.ServerConfig{}, h), store
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never completed")
	}
}

func TestStartAuditCompletes(t *testing.T) {
	runner := &fakeRunner{
		bundle: &audit.Bundle{RunID: "bundle-1", GeneratedAt: time.Now().UTC()},
		done:   make(chan struct{}),
	}
	srv, store := newTestServer(t, runner)

	body := bytes.NewBufferString(`{"days": 7, "fast_mode": true, "include_enhanced": false, "verbose_progress": true}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audits/", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var state struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, "running", state.Status)

	waitDone(t, runner.done)

	runner.mu.Lock()
	require.Len(t, runner.opts, 1)
	assert.Equal(t, 7, runner.opts[0].Days)
	assert.True(t, runner.opts[0].FastMode)
	require.NotNil(t, runner.opts[0].IncludeEnhanced)
	assert.False(t, *runner.opts[0].IncludeEnhanced)
	assert.True(t, runner.opts[0].VerboseProgress)
	assert.Equal(t, 6, runner.opts[0].GrowthMonths)
	runner.mu.Unlock()

	// The bundle lands in the store under its own run id.
	require.Eventually(t, func() bool {
		_, err := store.Load("bundle-1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Polling the tracking id serves the finished bundle.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audits/"+state.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var bundle audit.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, "bundle-1", bundle.RunID)
}

func TestStartAuditFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("account unreachable"), done: make(chan struct{})}
	srv, _ := newTestServer(t, runner)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audits/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var state struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	waitDone(t, runner.done)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audits/"+state.ID, nil))
		var got struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == "failed" && got.Error == "account unreachable"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListAudits(t *testing.T) {
	srv, store := newTestServer(t, &fakeRunner{})
	require.NoError(t, store.Save(&audit.Bundle{RunID: "bundle-1", GeneratedAt: time.Now().UTC()}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audits/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Bundles []storage.Summary `json:"bundles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Bundles, 1)
	assert.Equal(t, "bundle-1", got.Bundles[0].RunID)
}

func TestGetAuditNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audits/absent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAudit(t *testing.T) {
	srv, store := newTestServer(t, &fakeRunner{})
	require.NoError(t, store.Save(&audit.Bundle{RunID: "bundle-1", GeneratedAt: time.Now().UTC()}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/audits/bundle-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audits/bundle-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// fakeLock is an in-memory stand-in for the Redis run lock.
type fakeLock struct {
	mu   sync.Mutex
	held bool
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

func TestStartAuditConflictWhileLocked(t *testing.T) {
	runner := &fakeRunner{
		bundle: &audit.Bundle{RunID: "bundle-1", GeneratedAt: time.Now().UTC()},
		done:   make(chan struct{}),
	}
	store, err := storage.New(config.StorageConfig{DataDir: t.TempDir(), MaxBundles: 10})
	require.NoError(t, err)
	h := NewHandlers(runner, store, config.AuditConfig{WindowDays: 30})
	lock := &fakeLock{held: true}
	h.RunLock = lock
	srv := NewServer(config.ServerConfig{}, h)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audits/", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Once the holder releases, a new run is accepted and the lock is
	// released again when it finishes.
	require.NoError(t, lock.Release(context.Background()))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audits/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitDone(t, runner.done)
	require.Eventually(t, func() bool {
		lock.mu.Lock()
		defer lock.mu.Unlock()
		return !lock.held
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartAuditBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audits/", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
