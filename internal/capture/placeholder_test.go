package capture

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePlaceholderFrame(t *testing.T) {
	dir := t.TempDir()

	path, err := writePlaceholderFrame(dir, "HBO\nNo upcoming airings", 1280, 720)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, placeholderFile), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 1280, img.Bounds().Dx())
	assert.Equal(t, 720, img.Bounds().Dy())
}

func TestWritePlaceholderFrameOverwrites(t *testing.T) {
	dir := t.TempDir()

	_, err := writePlaceholderFrame(dir, "first", 320, 180)
	require.NoError(t, err)
	_, err = writePlaceholderFrame(dir, "second message entirely", 320, 180)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWrapMessage(t *testing.T) {
	assert.Equal(t, []string{"No signal"}, wrapMessage("", 40))
	assert.Equal(t, []string{"short"}, wrapMessage("short", 40))
	assert.Equal(t,
		[]string{"a long message", "that needs", "wrapping"},
		wrapMessage("a long message that needs wrapping", 14))
	// Newlines break words like spaces do.
	assert.Equal(t, []string{"HBO No", "upcoming", "airings"}, wrapMessage("HBO\nNo upcoming airings", 8))
}
