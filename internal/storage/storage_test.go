package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "notifylog/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestOpenRequiresPath(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		_, err := Open(Config{Driver: driver}, logx.Nop())
		require.Error(t, err, driver)
	}
}

func TestStores(t *testing.T) {
	cases := []struct {
		driver string
		file   string
	}{
		{"file", "archive.jsonl"},
		{"sqlite", "archive.db"},
	}
	for _, tc := range cases {
		t.Run(tc.driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", tc.file)
			st, err := Open(Config{Driver: tc.driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			for i, msg := range []string{"one", "two", "three", "four"} {
				require.NoError(t, st.Append(ctx, Entry{
					Time:    base.Add(time.Duration(i) * time.Hour),
					Level:   "INFO",
					Message: msg,
					Author:  "worker",
				}))
			}
			require.NoError(t, st.Append(ctx, Entry{Time: base.Add(5 * time.Hour), Level: "ERROR", Message: "five", Error: "boom"}))

			recent, err := st.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "four", recent[0].Message)
			assert.Equal(t, "five", recent[1].Message)
			assert.Equal(t, "boom", recent[1].Error)
			assert.True(t, recent[1].Time.Equal(base.Add(5*time.Hour)))

			all, err := st.Recent(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 5)
			assert.Equal(t, "worker", all[0].Author)

			removed, err := st.Prune(ctx, base.Add(2*time.Hour))
			require.NoError(t, err)
			assert.EqualValues(t, 2, removed)

			all, err = st.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "three", all[0].Message)

			require.NoError(t, st.Append(ctx, Entry{Level: "INFO", Message: "after prune"}))
			all, err = st.Recent(ctx, 1)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "after prune", all[0].Message)
			assert.False(t, all[0].Time.IsZero())

			require.NoError(t, st.Close())
			require.NoError(t, st.Close())
			require.ErrorIs(t, st.Append(ctx, Entry{Message: "late"}), ErrClosed)
			_, err = st.Recent(ctx, 1)
			require.ErrorIs(t, err, ErrClosed)
		})
	}
}
