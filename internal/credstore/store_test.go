package credstore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corechat/ig-relay/internal/graph"
	"github.com/corechat/ig-relay/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.db")
	db, err := storage.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, logger), db
}

func sampleCredentials() *graph.Credentials {
	return &graph.Credentials{
		AccessToken:     "page-tok",
		PageID:          "page-1",
		IGUserID:        "ig-9",
		Scopes:          graph.DeclaredScopes,
		UserAccessToken: "user-tok",
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCredentials()))

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "page-tok", creds.AccessToken)
	assert.Equal(t, "page-1", creds.PageID)
	assert.Equal(t, "ig-9", creds.IGUserID)
	assert.Equal(t, graph.DeclaredScopes, creds.Scopes)
	assert.Equal(t, "user-tok", creds.UserAccessToken)
}

func TestLoadAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, creds)
	assert.False(t, creds.Usable())
}

func TestSaveOverwritesWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCredentials()))

	second := sampleCredentials()
	second.AccessToken = "page-tok-2"
	second.PageID = "page-2"
	second.IGUserID = "ig-2"
	second.UserAccessToken = ""
	require.NoError(t, store.Save(ctx, second))

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "page-tok-2", creds.AccessToken)
	assert.Equal(t, "page-2", creds.PageID)
	// No field survives from the first bundle.
	assert.Empty(t, creds.UserAccessToken)
}

func TestSaveRejectsUnusableBundle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Save(ctx, &graph.Credentials{AccessToken: "tok-only"})
	assert.Error(t, err)

	err = store.Save(ctx, &graph.Credentials{IGUserID: "ig-only"})
	assert.Error(t, err)
}

func TestLoadChecksumTamper(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCredentials()))

	_, err := db.ExecContext(ctx,
		`UPDATE credentials SET record = replace(record, 'ig-9', 'ig-X') WHERE slot = 1;`)
	require.NoError(t, err)

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestLoadUnsupportedVersion(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCredentials()))

	_, err := db.ExecContext(ctx, `UPDATE credentials SET version = 99 WHERE slot = 1;`)
	require.NoError(t, err)

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestConcurrentWriters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			creds := sampleCredentials()
			creds.PageID = "page-1"
			assert.NoError(t, store.Save(ctx, creds))
		}(i)
	}
	wg.Wait()

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)
	// Whatever writer won, the record is internally consistent.
	assert.True(t, creds.Usable())
}
