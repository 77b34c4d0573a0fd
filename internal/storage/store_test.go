package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"teleube/internal/media"
	logx "teleube/pkg/logx"
)

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "user_data.json")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "users.db")},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			_, err = st.Get(ctx, "42")
			require.ErrorIs(t, err, ErrNotFound)

			u, err := st.EnsureUser(ctx, "42")
			require.NoError(t, err)
			assert.Equal(t, int64(0), u.Downloads)
			assert.Equal(t, media.Quality720p, u.PreferredQuality)
			assert.Nil(t, u.LastDownload)

			// Idempotent.
			again, err := st.EnsureUser(ctx, "42")
			require.NoError(t, err)
			assert.True(t, u.JoinedDate.Equal(again.JoinedDate.Time))

			u, err = st.RecordSuccess(ctx, "42", 1000)
			require.NoError(t, err)
			u, err = st.RecordSuccess(ctx, "42", 500)
			require.NoError(t, err)
			assert.Equal(t, int64(2), u.Downloads)
			assert.Equal(t, int64(1500), u.TotalSize)
			require.NotNil(t, u.LastDownload)

			require.NoError(t, st.SetPreferredQuality(ctx, "42", media.QualityAudio))
			require.Error(t, st.SetPreferredQuality(ctx, "42", media.Quality("4k")))

			_, err = st.EnsureUser(ctx, "7")
			require.NoError(t, err)
			tot, err := st.Totals(ctx)
			require.NoError(t, err)
			assert.Equal(t, Totals{Users: 2, Downloads: 2, Bytes: 1500}, tot)
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			_, err = st.RecordSuccess(ctx, "1", 2048)
			require.NoError(t, err)
			require.NoError(t, st.SetPreferredQuality(ctx, "1", media.Quality1080p))
			require.NoError(t, st.Close())

			st, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			u, err := st.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), u.Downloads)
			assert.Equal(t, int64(2048), u.TotalSize)
			assert.Equal(t, media.Quality1080p, u.PreferredQuality)
		})
	}
}

func TestStoreConcurrentSuccessesAreNotLost(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			var g errgroup.Group
			for i := 0; i < 20; i++ {
				id := strconv.Itoa(i % 4)
				g.Go(func() error {
					_, err := st.RecordSuccess(ctx, id, 10)
					return err
				})
			}
			require.NoError(t, g.Wait())

			tot, err := st.Totals(ctx)
			require.NoError(t, err)
			assert.Equal(t, Totals{Users: 4, Downloads: 20, Bytes: 200}, tot)
		})
	}
}

func TestFileStoreAbsentAndEmpty(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "user_data.json")

	st, err := Open(Config{Path: p}, logx.Nop())
	require.NoError(t, err)
	tot, _ := st.Totals(context.Background())
	assert.Equal(t, 0, tot.Users)

	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0o600))
	_, err = Open(Config{Path: p}, logx.Nop())
	require.NoError(t, err)
}

func TestFileStoreCorruptFailsOpen(t *testing.T) {
	p := filepath.Join(t.TempDir(), "user_data.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"1": {"downloads": 3,`), 0o600))

	_, err := Open(Config{Path: p}, logx.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))

	// The damaged file is left for the operator.
	b, _ := os.ReadFile(p)
	assert.Contains(t, string(b), `"downloads": 3`)
}

func TestFileStoreReadsLegacyDocument(t *testing.T) {
	p := filepath.Join(t.TempDir(), "user_data.json")
	legacy := `{
  "123": {
    "downloads": 5,
    "total_size": 1048576,
    "preferred_quality": "mp3",
    "joined_date": "2024-03-01T10:20:30.123456",
    "last_download": null
  }
}`
	require.NoError(t, os.WriteFile(p, []byte(legacy), 0o600))

	st, err := Open(Config{Path: p}, logx.Nop())
	require.NoError(t, err)
	u, err := st.Get(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", u.ID)
	assert.Equal(t, int64(5), u.Downloads)
	assert.Equal(t, media.QualityAudio, u.PreferredQuality)
	assert.Equal(t, 2024, u.JoinedDate.Year())
	assert.Nil(t, u.LastDownload)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
