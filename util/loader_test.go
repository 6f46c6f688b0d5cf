package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "frame-10.jpg", "frame-2.png", "frame-1.bmp", "notes.txt", "3.jpeg")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frame-4.jpg"), 0o755))

	images, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)

	require.Len(t, images, 4)
	frames := []int{images[0].Frame, images[1].Frame, images[2].Frame, images[3].Frame}
	assert.Equal(t, []int{1, 2, 3, 10}, frames)
	assert.Equal(t, []byte("frame-2.png"), images[1].Data)
}

func TestLoadDirectoryImagesBadName(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "frame-x.jpg")

	_, err := LoadDirectoryImageFiles(dir)
	assert.Error(t, err)
}

func TestListVideoFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "mouse_b.mp4", "mouse_a.AVI", "readme.md", "mouse_c.mov", "mouse_d.wmv")

	paths, err := ListVideoFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "mouse_a.AVI"),
		filepath.Join(dir, "mouse_b.mp4"),
		filepath.Join(dir, "mouse_c.mov"),
		filepath.Join(dir, "mouse_d.wmv"),
	}, paths)

	_, err = ListVideoFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSubjectName(t *testing.T) {
	assert.Equal(t, "mouse_01", SubjectName("/data/day1/mouse_01.mp4"))
	assert.Equal(t, "clip.part", SubjectName("clip.part.avi"))
	assert.Equal(t, "frames", SubjectName("/data/frames/"))
	assert.NotEqual(t, SubjectName("mouse1-day1.mp4"), SubjectName("mouse1-day2.mp4"))
}
