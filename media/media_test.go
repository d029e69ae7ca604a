package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgress(t *testing.T) {
	// 30 seconds into a 60-second file.
	stream := "frame=100\nout_time_us=30000000\nprogress=continue\n"
	assert.Equal(t, 50, parseProgress(stream, 60))
}

func TestParseProgress_LastValueWins(t *testing.T) {
	stream := "out_time_us=10000000\nprogress=continue\n" +
		"out_time_us=45000000\nprogress=continue\n"
	assert.Equal(t, 75, parseProgress(stream, 60))
}

func TestParseProgress_Clamped(t *testing.T) {
	assert.Equal(t, 100, parseProgress("out_time_us=999000000\n", 60))
	assert.Equal(t, 0, parseProgress("out_time_us=-5\n", 60))
	assert.Equal(t, 0, parseProgress("", 60))
	assert.Equal(t, 0, parseProgress("garbage\nno progress here\n", 60))
}

func TestConversionProgress_MissingFile(t *testing.T) {
	assert.Equal(t, 0, ConversionProgress(filepath.Join(t.TempDir(), "missing.progress"), 60))
}

func TestConversionProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.progress")
	err := os.WriteFile(path, []byte("out_time_us=15000000\nprogress=continue\n"), 0o644)
	assert.NoError(t, err)
	assert.Equal(t, 25, ConversionProgress(path, 60))
	assert.Equal(t, 0, ConversionProgress(path, 0))
}
