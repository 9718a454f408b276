package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	apperrors "transfer-relay/errors"
)

// IBlobStore is the narrow collaborator interface the relay consumes.
// The HTTP upload surface that fills the store lives outside this system.
type IBlobStore interface {
	Save(fileName string, r io.Reader) (BlobInfo, error)
	OpenSequentialRead(fileRef string) (io.ReadCloser, error)
	Remove(fileRef string) error
}

// BlobInfo describes one stored blob. Ref is the opaque handle persisted on
// the Transfer record, never a raw filesystem path on the wire.
type BlobInfo struct {
	Ref       string
	SizeBytes int64
	MimeType  string
}

type DiskStore struct {
	baseDir string
	log     *slog.Logger
}

func NewDiskStore(baseDir string, log *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{baseDir: baseDir, log: log}, nil
}

// Save writes the stream under a collision-free name and sniffs the content
// type from the stored bytes rather than trusting a caller-supplied one.
func (s *DiskStore) Save(fileName string, r io.Reader) (BlobInfo, error) {
	ref := fmt.Sprintf("%s-%s", uuid.NewString(), filepath.Base(fileName))
	fullPath := filepath.Join(s.baseDir, ref)

	out, err := os.Create(fullPath)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("create blob: %w", err)
	}
	defer out.Close()

	size, err := io.Copy(out, r)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("write blob: %w", err)
	}

	mime, err := mimetype.DetectFile(fullPath)
	if err != nil {
		s.log.Warn("mime detection failed", "ref", ref, "error", err)
		return BlobInfo{Ref: ref, SizeBytes: size, MimeType: "application/octet-stream"}, nil
	}
	return BlobInfo{Ref: ref, SizeBytes: size, MimeType: mime.String()}, nil
}

// OpenSequentialRead hands back the byte stream for a stored blob.
// A missing blob is StorageUnavailable: the relay fails the session on it.
func (s *DiskStore) OpenSequentialRead(fileRef string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(fileRef))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStorageUnavailable, fileRef)
	}
	return f, nil
}

// Remove deletes the stored bytes. Missing blobs are fine: deletion is
// allowed on transfers whose upload never finished.
func (s *DiskStore) Remove(fileRef string) error {
	err := os.Remove(s.path(fileRef))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", fileRef, err)
	}
	return nil
}

func (s *DiskStore) path(fileRef string) string {
	// filepath.Base defuses any traversal attempt hidden in a stored ref
	return filepath.Join(s.baseDir, filepath.Base(fileRef))
}
