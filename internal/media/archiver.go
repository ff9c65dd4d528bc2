package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kapta-io/fieldbot/internal/models"
)

// Transcriber converts an audio blob into text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// AudioSection is the blob store subdirectory for voice notes.
const AudioSection = "audio"

// Archiver resolves accepted media against the provider and stores the bytes
// in the blob store. Audio additionally goes through the transcriber when one
// is configured.
type Archiver struct {
	fetcher     *Fetcher
	blobs       *BlobStore
	transcriber Transcriber
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithTranscriber attaches an audio transcriber.
func WithTranscriber(t Transcriber) ArchiverOption {
	return func(a *Archiver) { a.transcriber = t }
}

// NewArchiver creates an archiver over the given fetcher and blob store.
// The fetcher may be nil when all media arrives with inline bytes.
func NewArchiver(fetcher *Fetcher, blobs *BlobStore, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		fetcher: fetcher,
		blobs:   blobs,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveImage stores one accepted photo under the session.
func (a *Archiver) ArchiveImage(ctx context.Context, sessionID, section string, seq int, ref models.MediaRef) error {
	data, err := a.resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve image %s: %w", ref.ID, err)
	}

	path, err := a.blobs.Put(sessionID, section, seq, extFromMime(ref.MimeType), data)
	if err != nil {
		return err
	}
	slog.Info("Image archived", "sessionID", sessionID, "section", section, "seq", seq, "path", path)
	return nil
}

// ArchiveAudio stores one accepted voice note under the session and returns
// its transcript when a transcriber is configured. A transcription failure
// does not discard the stored blob.
func (a *Archiver) ArchiveAudio(ctx context.Context, sessionID string, ref models.MediaRef) (string, error) {
	data, err := a.resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve audio %s: %w", ref.ID, err)
	}

	path, err := a.blobs.Put(sessionID, AudioSection, 1, extFromMime(ref.MimeType), data)
	if err != nil {
		return "", err
	}
	slog.Info("Audio archived", "sessionID", sessionID, "path", path)

	if a.transcriber == nil {
		return "", nil
	}
	transcript, err := a.transcriber.Transcribe(ctx, data, ref.MimeType)
	if err != nil {
		slog.Error("Audio transcription failed", "error", err, "sessionID", sessionID)
		return "", nil
	}
	return transcript, nil
}

// resolve obtains the raw bytes for a media reference: inline data first,
// then a direct URL, then a Graph API media ID lookup.
func (a *Archiver) resolve(ctx context.Context, ref models.MediaRef) ([]byte, error) {
	if len(ref.Data) > 0 {
		return ref.Data, nil
	}
	if a.fetcher == nil {
		return nil, fmt.Errorf("no inline data and no fetcher configured")
	}
	mediaURL := ref.URL
	if mediaURL == "" {
		if ref.ID == "" {
			return nil, fmt.Errorf("media reference has no data, url or id")
		}
		resolved, err := a.fetcher.ResolveURL(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		mediaURL = resolved
	}
	return a.fetcher.Download(ctx, mediaURL)
}
