package capturelog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRecordAndQuery(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	require.NoError(t, s.RecordEntry(Entry{
		Timestamp:  now,
		Method:     "GET",
		URL:        "https://a.example.com/index.html",
		Host:       "a.example.com",
		StatusCode: 200,
	}))
	require.NoError(t, s.RecordEntry(Entry{
		Timestamp:  now,
		Method:     "POST",
		URL:        "https://b.example.com/api",
		Host:       "b.example.com",
		StatusCode: 503,
	}))

	logs, err := s.GetRecentLogs(10, 0, "")
	require.NoError(t, err)
	require.Len(t, logs, 2)

	filtered, err := s.GetRecentLogs(10, 0, "a.example.com")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "GET", filtered[0].Method)

	stats, err := s.GetStats(now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalCaptures)
	require.EqualValues(t, 1, stats.ErrorResponses)
	require.Len(t, stats.TopHosts, 2)
}

func TestCleanup(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordEntry(Entry{
		Timestamp: time.Now().Add(-48 * time.Hour),
		Method:    "GET",
		URL:       "https://old.example.com/",
		Host:      "old.example.com",
	}))

	removed, err := s.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
