// Package fileloader reads backfill channel lists from disk. Operators keep
// one file per deployment naming the channels worth crawling.
package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/config"
)

// FileLoader loads a channel list from a file on disk.
type FileLoader struct {
	// path is the filesystem path to the channel list file.
	path string
}

// NewFileLoader creates a FileLoader that will load the channel list from
// the specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the channel list. Channels without a name are
// rejected so a typo'd file fails loudly instead of crawling nothing.
func (l *FileLoader) Load(ctx context.Context) ([]config.ChannelSpec, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel file: %w", err)
	}

	var list config.ChannelList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse channel file: %w", err)
	}

	for i, channel := range list.Channels {
		if channel.Name == "" {
			return nil, fmt.Errorf("channel entry %d has no name", i)
		}
	}
	return list.Channels, nil
}
