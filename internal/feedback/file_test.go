package feedback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadFile(t *testing.T) {
	t.Run("missing file yields a fresh store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feedback.json")
		s, err := LoadFile(path, 0.85, zap.NewNop())
		require.NoError(t, err)
		assert.InDelta(t, 0.85, s.Threshold(), 1e-9)
		assert.Equal(t, 0, s.Stats().TotalFeedback)
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feedback.json")
		require.NoError(t, os.WriteFile(path, []byte("not-json{"), 0o644))

		_, err := LoadFile(path, 0.85, zap.NewNop())
		require.Error(t, err)
	})
}

func TestWriteAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.json")

	s := NewMemoryStore(0.85, zap.NewNop())
	require.NoError(t, s.Submit(batchWith("ex-1", typeCorrection("Mimikatz", "tool"))))
	require.NoError(t, s.Submit(batchWith("ex-2", typeCorrection("Mimikatz", "tool"))))
	require.NoError(t, s.WriteFile(path))

	restored, err := LoadFile(path, 0.99, zap.NewNop())
	require.NoError(t, err)

	assert.InDelta(t, s.Threshold(), restored.Threshold(), 1e-9, "saved threshold wins over the configured one")
	assert.Equal(t, 2, restored.Stats().TotalFeedback)

	m := restored.CorrectionMap()
	require.Contains(t, m, "mimikatz")
	assert.Equal(t, 2, m["mimikatz"].Frequency)
}

func TestWriteFileLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedback.json")

	s := NewMemoryStore(0.85, zap.NewNop())
	require.NoError(t, s.WriteFile(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feedback.json", entries[0].Name())
}
