// Package archive persists generated audio outside the request/response path.
//
// Archiving is best effort. A failed save is logged and never propagated to
// the client that requested the speech.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/lizhe2004/openai-xunjie-tts/internal/fileutil"
)

const (
	filePermissions = 0o600
	timestampLayout = "20060102-150405"
)

// LocalStore writes archived audio files into a directory on disk.
type LocalStore struct {
	dir string
	log *logger.Logger
}

// NewLocalStore creates a LocalStore rooted at dir. The directory is created
// on first save, not here, so a misconfigured path does not block startup.
func NewLocalStore(dir string, log *logger.Logger) *LocalStore {
	return &LocalStore{
		dir: dir,
		log: log,
	}
}

// Save writes the audio under a sanitized version of key and returns the
// resulting path.
func (s *LocalStore) Save(_ context.Context, key string, data []byte) (string, error) {
	err := fileutil.EnsureDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to prepare archive directory: %w", err)
	}

	path := filepath.Join(s.dir, fileutil.SanitizeFilename(key))

	err = os.WriteFile(path, data, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write archive file '%s': %w", path, err)
	}

	s.log.Info(
		"Archived %s of audio to %s",
		fileutil.FormatFileSize(int64(len(data))), path,
	)

	return path, nil
}

// FileKey builds the archive key for one synthesis: the voice name plus a
// timestamp and the delivered format's extension.
func FileKey(voice, format string) string {
	return fmt.Sprintf(
		"%s_%s.%s",
		fileutil.SanitizeFilename(voice),
		time.Now().Format(timestampLayout),
		format,
	)
}
