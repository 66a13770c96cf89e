package contextwatcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHandoffState_AppendsNumberedSections(t *testing.T) {
	dir := t.TempDir()

	ok := WriteHandoffState(dir, "test_mission_123", "BUILDING", "Working on the tailer implementation")
	require.True(t, ok)
	assert.Equal(t, 1, CountHandoffs(dir))

	ok = WriteHandoffState(dir, "test_mission_123", "TESTING", "Running functional tests")
	require.True(t, ok)
	assert.Equal(t, 2, CountHandoffs(dir))

	content, err := os.ReadFile(filepath.Join(dir, "HANDOFF.md"))
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "Handoff #1")
	assert.Contains(t, text, "Handoff #2")
	assert.Contains(t, text, "BUILDING")
	assert.Contains(t, text, "TESTING")
}

func TestCountHandoffs_MissingFileIsZero(t *testing.T) {
	assert.Equal(t, 0, CountHandoffs(t.TempDir()))
}
