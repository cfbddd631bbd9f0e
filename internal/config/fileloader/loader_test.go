package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/config"
)

func writeChannelFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestFileLoaderLoad(t *testing.T) {
	t.Parallel()

	path := writeChannelFile(t, `
channels:
  - name: running
    page_size: 100
  - name: runclub
    max_pages: 5
  - name: marathon-training
`)

	channels, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, channels, 3)
	assert.Equal(t, config.ChannelSpec{Name: "running", PageSize: 100}, channels[0])
	assert.Equal(t, config.ChannelSpec{Name: "runclub", MaxPages: 5}, channels[1])
	assert.Equal(t, config.ChannelSpec{Name: "marathon-training"}, channels[2])
}

func TestFileLoaderMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read channel file")
}

func TestFileLoaderMalformedFile(t *testing.T) {
	t.Parallel()

	path := writeChannelFile(t, "channels: [{name: ")
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse channel file")
}

func TestFileLoaderRejectsUnnamedChannel(t *testing.T) {
	t.Parallel()

	path := writeChannelFile(t, `
channels:
  - name: running
  - page_size: 50
`)
	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel entry 1 has no name")
}
