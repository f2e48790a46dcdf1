// Package storage archives the raw curves of completed sweeps in object storage.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RMahshie/plcsweep/pkg/models"
)

const (
	// ArchiveContentType is the content type of archive documents
	ArchiveContentType = "application/json"
	// DownloadURLExpiry is how long a pre-signed archive URL stays valid
	DownloadURLExpiry = 24 * time.Hour
)

// ArchiveStore handles archive storage operations
type ArchiveStore interface {
	PutArchive(ctx context.Context, key string, data []byte) error
	GetArchive(ctx context.Context, key string) ([]byte, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteArchive(ctx context.Context, key string) error
}

// ArchiveKey returns the object key of a run's archive
func ArchiveKey(runID string) string {
	return fmt.Sprintf("archive/%s.json", runID)
}

// SaveArchive encodes and uploads an archive, returning its key
func SaveArchive(ctx context.Context, store ArchiveStore, archive *models.SweepArchive) (string, error) {
	data, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive: %w", err)
	}
	key := ArchiveKey(archive.RunID)
	if err := store.PutArchive(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// LoadArchive downloads and decodes an archive
func LoadArchive(ctx context.Context, store ArchiveStore, key string) (*models.SweepArchive, error) {
	data, err := store.GetArchive(ctx, key)
	if err != nil {
		return nil, err
	}
	var archive models.SweepArchive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to decode archive %s: %w", key, err)
	}
	return &archive, nil
}
