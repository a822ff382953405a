package guide

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtuner/webtuner/internal/catalog"
)

func testStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	return store
}

func testService(t *testing.T, endpoint string) *Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(endpoint, testStore(t), log)
}

func TestRefreshTriggersCollaboratorAndImports(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/refresh":
			refreshes.Add(1)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/lineup.json":
			_, _ = w.Write([]byte(`[
				{"GuideNumber": "5.1", "GuideName": "KSTP-DT"},
				{"GuideNumber": "11.1", "GuideName": "KARE-HD"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := testStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(srv.URL, store, log)

	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, int32(1), refreshes.Load())

	ch, err := store.GetByNumber(context.Background(), "5.1")
	require.NoError(t, err)
	assert.Equal(t, "KSTP-DT", ch.DisplayName)
	assert.Equal(t, catalog.SourceGuide, ch.Source)
}

func TestImportLineupReplacesPreviousImport(t *testing.T) {
	lineup := atomic.Value{}
	lineup.Store(`[{"GuideNumber": "5.1", "GuideName": "KSTP-DT"}]`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(lineup.Load().(string)))
	}))
	defer srv.Close()

	store := testStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(srv.URL, store, log)

	require.NoError(t, svc.ImportLineup(context.Background()))
	lineup.Store(`[{"GuideNumber": "11.1", "GuideName": "KARE-HD"}]`)
	require.NoError(t, svc.ImportLineup(context.Background()))

	_, err := store.GetByNumber(context.Background(), "5.1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	ch, err := store.GetByNumber(context.Background(), "11.1")
	require.NoError(t, err)
	assert.Equal(t, "KARE-HD", ch.DisplayName)
}

func TestImportLineupSkipsBlankEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"GuideNumber": "5.1", "GuideName": "KSTP-DT"},
			{"GuideNumber": "", "GuideName": "ghost"},
			{"GuideNumber": "9.9", "GuideName": ""}
		]`))
	}))
	defer srv.Close()

	svc := testService(t, srv.URL)
	require.NoError(t, svc.ImportLineup(context.Background()))

	chans, err := svc.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, chans, 1)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	svc := testService(t, srv.URL)
	require.NoError(t, svc.ImportLineup(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL)
	assert.Error(t, svc.ImportLineup(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDisabledService(t *testing.T) {
	svc := testService(t, "")
	assert.False(t, svc.Enabled())
	assert.ErrorIs(t, svc.Refresh(context.Background()), ErrDisabled)
	assert.ErrorIs(t, svc.ImportLineup(context.Background()), ErrDisabled)
	require.NoError(t, svc.StartSchedule("@every 1h"))
}
