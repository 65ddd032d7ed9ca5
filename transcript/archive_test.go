package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadArchive(t *testing.T) {
	content := `{"route":"/01-pricing","topic":"timeline","ts":"2026-05-01T10:05:00Z"}
{"route":"/01-pricing","topic":"pricing","ts":"2026-05-01T10:01:00Z"}
not json at all
{"route":"","topic":"orphan","ts":"2026-05-01T10:02:00Z"}
{"route":"/02-close","topic":"q&a","ts":"2026-05-01T10:20:00Z"}
`
	path := filepath.Join(t.TempDir(), "prior.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	archive, err := Load(path, nil)
	require.NoError(t, err)

	entries := archive.Lookup("/01-pricing")
	require.Len(t, entries, 2)
	// Ordered by timestamp regardless of file order.
	assert.Equal(t, "pricing", entries[0].Topic)
	assert.Equal(t, "timeline", entries[1].Topic)

	assert.Len(t, archive.Lookup("/02-close"), 1)
	assert.Empty(t, archive.Lookup("/unknown"))
}

func TestLoadArchiveMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jsonl"), nil)
	require.Error(t, err)
}

func TestCovered(t *testing.T) {
	archive := FromEntries([]Entry{
		{Route: "/01-pricing", Topic: "Timeline", Timestamp: time.Now()},
	})

	assert.True(t, archive.Covered("/01-pricing", "timeline"))
	assert.True(t, archive.Covered("/01-pricing", "TIMELINE"))
	assert.False(t, archive.Covered("/01-pricing", "budget"))
	assert.False(t, archive.Covered("/02-close", "timeline"))

	assert.False(t, Empty().Covered("/01-pricing", "timeline"))
}
