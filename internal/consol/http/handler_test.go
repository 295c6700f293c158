package http

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/internal/consol"
)

// stubRunStore answers GetRun only; the embedded interface panics on
// anything else, which no dispatch path should reach.
type stubRunStore struct {
	consol.Store
	run consol.Run
}

func (s stubRunStore) GetRun(context.Context, uuid.UUID) (consol.Run, error) {
	return s.run, nil
}

type stubDispatcher struct {
	runIDs []string
	err    error
}

func (d *stubDispatcher) EnqueueConsolidationExecute(_ context.Context, runID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.runIDs = append(d.runIDs, runID)
	return "task-1", nil
}

func dispatchFixture(t *testing.T, status consol.RunStatus, d Dispatcher) (*chi.Mux, uuid.UUID) {
	t.Helper()
	runID := uuid.New()
	store := stubRunStore{run: consol.Run{ID: runID, RootEntityID: 1, Period: "2026-01", Status: status}}
	svc := consol.NewService(store, nil, nil, nil, nil, consol.Config{}, time.Hour, nil)
	h := NewHandler(nil, svc)
	if d != nil {
		h = h.WithDispatcher(d)
	}
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, runID
}

func TestDispatchQueuesDraftRun(t *testing.T) {
	d := &stubDispatcher{}
	r, runID := dispatchFixture(t, consol.StatusDraft, d)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/consol/runs/"+runID.String()+"/dispatch", nil))

	require.Equal(t, 202, rec.Code)
	require.Equal(t, []string{runID.String()}, d.runIDs)
	require.Contains(t, rec.Body.String(), "task-1")
}

func TestDispatchRejectsNonDraftRun(t *testing.T) {
	d := &stubDispatcher{}
	r, runID := dispatchFixture(t, consol.StatusCompleted, d)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/consol/runs/"+runID.String()+"/dispatch", nil))

	require.Equal(t, 409, rec.Code)
	require.Empty(t, d.runIDs, "a finished run must not be queued")
}

func TestDispatchReportsQueueFailure(t *testing.T) {
	d := &stubDispatcher{err: errors.New("broker down")}
	r, runID := dispatchFixture(t, consol.StatusDraft, d)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/consol/runs/"+runID.String()+"/dispatch", nil))

	require.Equal(t, 500, rec.Code)
}

func TestDispatchRouteAbsentWithoutQueue(t *testing.T) {
	r, runID := dispatchFixture(t, consol.StatusDraft, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/consol/runs/"+runID.String()+"/dispatch", nil))

	require.Equal(t, 404, rec.Code)
}
