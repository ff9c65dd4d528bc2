package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore persists raw media bytes on the local filesystem, grouped by
// session. Layout: <root>/<sessionID>/<section>/<seq>.<ext>.
type BlobStore struct {
	root string
}

// NewBlobStore creates a filesystem blob store rooted at dir.
func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob store directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory %s: %w", dir, err)
	}
	return &BlobStore{root: dir}, nil
}

// Put writes one media blob and returns its path.
func (b *BlobStore) Put(sessionID, section string, seq int, ext string, data []byte) (string, error) {
	dir := filepath.Join(b.root, sessionID, section)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d%s", seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media blob %s: %w", path, err)
	}

	slog.Debug("Media blob written", "path", path, "bytes", len(data))
	return path, nil
}

// extFromMime maps the common WhatsApp media MIME types to file extensions.
// Media arrives as JPEG images and OGG/Opus voice notes almost exclusively.
func extFromMime(mimeType string) string {
	mt := mimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	switch strings.TrimSpace(mt) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/amr":
		return ".amr"
	default:
		return ".bin"
	}
}
